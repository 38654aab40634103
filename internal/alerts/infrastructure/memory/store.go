package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	alerts "terrarium-cloud/internal/alerts/domain"
)

// Store keeps alert records in memory. The mutex makes Admit atomic.
type Store struct {
	mu      sync.Mutex
	records map[string][]alerts.AlertRecord
}

// NewStore constructs a store.
func NewStore() *Store {
	return &Store{records: make(map[string][]alerts.AlertRecord)}
}

// Admit runs decide against the current history of sourceID and appends its result.
func (s *Store) Admit(ctx context.Context, sourceID string, dayStart time.Time, decide alerts.Decider) ([]alerts.AlertRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		lastAt time.Time
		today  int
	)
	for _, r := range s.records[sourceID] {
		if r.IsTest {
			continue
		}
		if r.CreatedAt.After(lastAt) {
			lastAt = r.CreatedAt
		}
		if !r.CreatedAt.Before(dayStart) {
			today++
		}
	}
	admitted := decide(lastAt, today)
	s.records[sourceID] = append(s.records[sourceID], admitted...)
	return admitted, nil
}

// Append stores a record without limiting.
func (s *Store) Append(ctx context.Context, record alerts.AlertRecord) error {
	_ = ctx
	s.mu.Lock()
	s.records[record.SourceID] = append(s.records[record.SourceID], record)
	s.mu.Unlock()
	return nil
}

// List returns records within [from, to), newest first. Zero bounds are open.
func (s *Store) List(ctx context.Context, sourceID string, from, to time.Time) ([]alerts.AlertRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alerts.AlertRecord
	for _, r := range s.records[sourceID] {
		if !from.IsZero() && r.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !r.CreatedAt.Before(to) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteBefore drops records older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, list := range s.records {
		kept := list[:0]
		for _, r := range list {
			if r.CreatedAt.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		s.records[id] = kept
	}
	return deleted, nil
}
