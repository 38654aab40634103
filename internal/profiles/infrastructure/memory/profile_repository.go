package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	profiles "terrarium-cloud/internal/profiles/domain"
)

// ProfileRepository keeps profiles in memory.
type ProfileRepository struct {
	mu   sync.RWMutex
	data map[string]*profiles.Profile
}

// NewProfileRepository constructs a repository.
func NewProfileRepository() *ProfileRepository {
	return &ProfileRepository{data: make(map[string]*profiles.Profile)}
}

// Get loads a profile.
func (r *ProfileRepository) Get(ctx context.Context, sourceID string) (*profiles.Profile, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.data[sourceID]
	if p == nil {
		return nil, profiles.ErrNotFound
	}
	return p.Clone(), nil
}

// List returns profiles ordered by source id.
func (r *ProfileRepository) List(ctx context.Context) ([]profiles.Profile, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]profiles.Profile, 0, len(r.data))
	for _, p := range r.data {
		out = append(out, *p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

// Save upserts a profile.
func (r *ProfileRepository) Save(ctx context.Context, profile *profiles.Profile) error {
	_ = ctx
	if profile == nil {
		return errors.New("profile repo: nil profile")
	}
	r.mu.Lock()
	r.data[profile.SourceID] = profile.Clone()
	r.mu.Unlock()
	return nil
}
