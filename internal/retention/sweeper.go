package retention

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"terrarium-cloud/internal/analytics/domain/rollup"
	"terrarium-cloud/internal/observability/metrics"
)

// PruneFunc deletes rows older than cutoff and returns how many went.
type PruneFunc func(ctx context.Context, cutoff time.Time) (int, error)

// Target is one class of data with a maximum age.
type Target struct {
	Name   string
	MaxAge time.Duration
	Prune  PruneFunc
}

// BucketDeleter is implemented by the rollup stores.
type BucketDeleter interface {
	DeleteBefore(ctx context.Context, granularity rollup.Granularity, cutoff time.Time) (int, error)
}

// RecordDeleter is implemented by the alert and command stores.
type RecordDeleter interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Buckets targets rollup buckets of one granularity.
func Buckets(store BucketDeleter, granularity rollup.Granularity, maxAge time.Duration) Target {
	return Target{
		Name:   "buckets_" + string(granularity),
		MaxAge: maxAge,
		Prune: func(ctx context.Context, cutoff time.Time) (int, error) {
			return store.DeleteBefore(ctx, granularity, cutoff)
		},
	}
}

// BucketTargets targets both rollup granularities with the ages of r.
func BucketTargets(store BucketDeleter, r rollup.Retention) []Target {
	return []Target{
		Buckets(store, rollup.GranularityHour, r.Hourly),
		Buckets(store, rollup.GranularityDay, r.Daily),
	}
}

// Records targets an append-only record store.
func Records(name string, store RecordDeleter, maxAge time.Duration) Target {
	return Target{
		Name:   name,
		MaxAge: maxAge,
		Prune: func(ctx context.Context, cutoff time.Time) (int, error) {
			n, err := store.DeleteBefore(ctx, cutoff)
			return int(n), err
		},
	}
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Sweeper prunes every target once a day at a fixed local time.
type Sweeper struct {
	targets  []Target
	hour     int
	minute   int
	location *time.Location
	clock    Clock
	logger   *log.Logger
	lastRun  string
}

// Option configures the sweeper.
type Option func(*Sweeper)

// WithLocation sets the zone the daily time is read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Sweeper) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// NewSweeper constructs a sweeper running daily at dailyAt ("HH:MM").
func NewSweeper(dailyAt string, targets []Target, opts ...Option) (*Sweeper, error) {
	t, err := time.Parse("15:04", dailyAt)
	if err != nil {
		return nil, fmt.Errorf("retention: sweep time %q: %w", dailyAt, err)
	}
	for _, target := range targets {
		if target.Prune == nil || target.MaxAge <= 0 {
			return nil, fmt.Errorf("retention: invalid target %q", target.Name)
		}
	}
	s := &Sweeper{
		targets:  targets,
		hour:     t.Hour(),
		minute:   t.Minute(),
		location: time.UTC,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start checks the schedule every minute until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.maybeRun(ctx)
		}
	}
}

// maybeRun sweeps when the local clock has reached the daily time and no
// sweep has run yet today.
func (s *Sweeper) maybeRun(ctx context.Context) bool {
	now := s.clock.Now().In(s.location)
	today := now.Format("2006-01-02")
	if s.lastRun == today {
		return false
	}
	if now.Hour()*60+now.Minute() < s.hour*60+s.minute {
		return false
	}
	s.lastRun = today
	if err := s.RunOnce(ctx); err != nil {
		s.logf("retention sweep error: %v", err)
	}
	return true
}

// RunOnce prunes every target against the current clock. A failing target
// does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.clock.Now()
	var errs []error
	for _, target := range s.targets {
		cutoff := now.Add(-target.MaxAge)
		n, err := target.Prune(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target.Name, err))
			continue
		}
		metrics.AddRetentionDeleted(target.Name, n)
		if n > 0 {
			s.logf("retention sweep: target=%s cutoff=%s deleted=%d", target.Name, cutoff.Format(time.RFC3339), n)
		}
	}
	return errors.Join(errs...)
}

func (s *Sweeper) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
