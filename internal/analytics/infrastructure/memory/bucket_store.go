package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"terrarium-cloud/internal/analytics/domain/rollup"
)

type bucketKey struct {
	sourceID    string
	granularity rollup.Granularity
	key         rollup.PeriodKey
}

// BucketStore is an in-memory rollup store. A single mutex makes every
// Update an atomic read-modify-write.
type BucketStore struct {
	mu   sync.RWMutex
	data map[bucketKey]*rollup.Bucket
}

// NewBucketStore constructs a store.
func NewBucketStore() *BucketStore {
	return &BucketStore{data: make(map[bucketKey]*rollup.Bucket)}
}

// Update runs mutate under the store lock.
func (s *BucketStore) Update(ctx context.Context, sourceID string, granularity rollup.Granularity, key rollup.PeriodKey, mutate func(current *rollup.Bucket) (*rollup.Bucket, error)) error {
	if mutate == nil {
		return errors.New("bucket store: nil mutate")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	k := bucketKey{sourceID: sourceID, granularity: granularity, key: key}

	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := mutate(s.data[k].Clone())
	if err != nil {
		return err
	}
	if next == nil {
		return errors.New("bucket store: mutate returned nil bucket")
	}
	s.data[k] = next.Clone()
	return nil
}

// Get loads one bucket.
func (s *BucketStore) Get(ctx context.Context, sourceID string, granularity rollup.Granularity, key rollup.PeriodKey) (*rollup.Bucket, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.data[bucketKey{sourceID: sourceID, granularity: granularity, key: key}]
	if b == nil {
		return nil, rollup.ErrNotFound
	}
	return b.Clone(), nil
}

// List returns buckets whose period starts in [from, to), oldest first.
func (s *BucketStore) List(ctx context.Context, sourceID string, granularity rollup.Granularity, from, to time.Time) ([]rollup.Bucket, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []rollup.Bucket
	for k, b := range s.data {
		if k.sourceID != sourceID || k.granularity != granularity {
			continue
		}
		if b.PeriodStart.Before(from) || !b.PeriodStart.Before(to) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

// DeleteBefore removes buckets of granularity whose period started before cutoff.
func (s *BucketStore) DeleteBefore(ctx context.Context, granularity rollup.Granularity, cutoff time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for k, b := range s.data {
		if k.granularity == granularity && b.PeriodStart.Before(cutoff) {
			delete(s.data, k)
			deleted++
		}
	}
	return deleted, nil
}
