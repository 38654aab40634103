package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"terrarium-cloud/internal/analytics/domain/rollup"
	"terrarium-cloud/internal/observability/metrics"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// BucketStore persists rollup buckets. Update must run mutate as an atomic
// read-modify-write: mutate receives the stored bucket (nil when absent) and
// returns the bucket to write. Conflicting writers get rollup.ErrTransactionConflict.
type BucketStore interface {
	Update(ctx context.Context, sourceID string, granularity rollup.Granularity, key rollup.PeriodKey, mutate func(current *rollup.Bucket) (*rollup.Bucket, error)) error
	Get(ctx context.Context, sourceID string, granularity rollup.Granularity, key rollup.PeriodKey) (*rollup.Bucket, error)
	List(ctx context.Context, sourceID string, granularity rollup.Granularity, from, to time.Time) ([]rollup.Bucket, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

const defaultMaxAttempts = 3

// Aggregator folds readings into hourly and daily buckets.
type Aggregator struct {
	store        BucketStore
	location     *time.Location
	maxAttempts  int
	rejectStale  bool
	clock        Clock
	logger       *log.Logger
	mu           sync.Mutex
	lastIngested map[string]time.Time
}

// AggregatorOption customizes the aggregator.
type AggregatorOption func(*Aggregator)

// WithLocation sets the zone used to cut hours and days.
func WithLocation(loc *time.Location) AggregatorOption {
	return func(a *Aggregator) {
		if loc != nil {
			a.location = loc
		}
	}
}

// WithMaxAttempts bounds read-modify-write retries on conflict.
func WithMaxAttempts(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithRejectOutOfOrder makes stale readings fail with rollup.ErrOutOfOrder
// instead of being folded in.
func WithRejectOutOfOrder() AggregatorOption {
	return func(a *Aggregator) {
		a.rejectStale = true
	}
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(clock Clock) AggregatorOption {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(store BucketStore, opts ...AggregatorOption) (*Aggregator, error) {
	if store == nil {
		return nil, errors.New("aggregator: nil store")
	}
	a := &Aggregator{
		store:        store,
		location:     time.UTC,
		maxAttempts:  defaultMaxAttempts,
		clock:        systemClock{},
		lastIngested: make(map[string]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Ingest applies reading to every granularity. Reapplying a reading double counts.
func (a *Aggregator) Ingest(ctx context.Context, reading telemetry.Reading) error {
	if a == nil {
		return errors.New("aggregator: nil")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	if err := a.checkOrder(reading); err != nil {
		return err
	}

	var errs []error
	for _, g := range rollup.Granularities() {
		if err := a.apply(ctx, g, reading); err != nil {
			metrics.IncAggregateUpdate(string(g), metrics.ResultError)
			errs = append(errs, fmt.Errorf("aggregate %s: %w", g, err))
			continue
		}
		metrics.IncAggregateUpdate(string(g), metrics.ResultSuccess)
	}
	return errors.Join(errs...)
}

func (a *Aggregator) checkOrder(reading telemetry.Reading) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastIngested[reading.SourceID]
	if ok && reading.Timestamp.Before(last) {
		metrics.IncAggregateOutOfOrder()
		if a.rejectStale {
			return fmt.Errorf("%w: source=%s ts=%s last=%s", rollup.ErrOutOfOrder, reading.SourceID, reading.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
		}
		a.logf("aggregator: out of order reading source=%s ts=%s last=%s", reading.SourceID, reading.Timestamp.Format(time.RFC3339), last.Format(time.RFC3339))
		return nil
	}
	a.lastIngested[reading.SourceID] = reading.Timestamp
	return nil
}

func (a *Aggregator) apply(ctx context.Context, g rollup.Granularity, reading telemetry.Reading) error {
	key, err := rollup.NewPeriodKey(g, reading.Timestamp, a.location)
	if err != nil {
		return err
	}
	mutate := func(current *rollup.Bucket) (*rollup.Bucket, error) {
		next := current.Clone()
		if next == nil {
			created, err := rollup.NewBucket(reading.SourceID, g, reading.Timestamp, a.location)
			if err != nil {
				return nil, err
			}
			next = created
		}
		if err := next.Apply(reading, a.location); err != nil {
			return nil, err
		}
		next.UpdatedAt = a.clock.Now()
		return next, nil
	}

	for attempt := 1; ; attempt++ {
		err = a.store.Update(ctx, reading.SourceID, g, key, mutate)
		if err == nil {
			return nil
		}
		if !errors.Is(err, rollup.ErrTransactionConflict) || attempt >= a.maxAttempts {
			return err
		}
		metrics.IncAggregateConflict(string(g))
		a.logf("aggregator: conflict source=%s granularity=%s key=%s attempt=%d", reading.SourceID, g, key, attempt)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Bucket returns one bucket.
func (a *Aggregator) Bucket(ctx context.Context, sourceID string, g rollup.Granularity, at time.Time) (*rollup.Bucket, error) {
	key, err := rollup.NewPeriodKey(g, at, a.location)
	if err != nil {
		return nil, err
	}
	return a.store.Get(ctx, sourceID, g, key)
}

// Buckets lists buckets whose period starts in [from, to).
func (a *Aggregator) Buckets(ctx context.Context, sourceID string, g rollup.Granularity, from, to time.Time) ([]rollup.Bucket, error) {
	if !g.IsValid() {
		return nil, rollup.ErrInvalidGranularity
	}
	return a.store.List(ctx, sourceID, g, from, to)
}

// Location returns the zone periods are cut in.
func (a *Aggregator) Location() *time.Location {
	return a.location
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf(format, args...)
	}
}
