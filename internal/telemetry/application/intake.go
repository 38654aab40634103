package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"terrarium-cloud/internal/eventing"
	"terrarium-cloud/internal/telemetry/application/events"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// ErrRateLimited is returned when a source exceeds its ingest budget.
var ErrRateLimited = errors.New("telemetry: rate limited")

const (
	DefaultRatePerSecond = 5
	DefaultRateBurst     = 20
)

// SourceLimiter keeps one token bucket per source.
type SourceLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewSourceLimiter constructs a limiter. A non-positive perSecond disables limiting.
func NewSourceLimiter(perSecond float64, burst int) *SourceLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &SourceLimiter{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

// AllowN reports whether n readings of sourceID fit the budget.
func (l *SourceLimiter) AllowN(sourceID string, n int) bool {
	if l == nil || l.limit == rate.Inf {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[sourceID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[sourceID] = limiter
	}
	l.mu.Unlock()
	return limiter.AllowN(time.Now(), n)
}

// Intake turns decoded readings into ReadingReceived events.
type Intake struct {
	bus     eventing.Bus
	limiter *SourceLimiter
	clock   Clock
	logger  *log.Logger
}

// IntakeOption customizes the intake.
type IntakeOption func(*Intake)

// WithLimiter enables per-source rate limiting.
func WithLimiter(limiter *SourceLimiter) IntakeOption {
	return func(i *Intake) {
		i.limiter = limiter
	}
}

// WithIntakeClock overrides the clock used for ReceivedAt.
func WithIntakeClock(clock Clock) IntakeOption {
	return func(i *Intake) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// WithIntakeLogger sets the logger.
func WithIntakeLogger(logger *log.Logger) IntakeOption {
	return func(i *Intake) {
		i.logger = logger
	}
}

// NewIntake constructs an intake publishing on bus.
func NewIntake(bus eventing.Bus, opts ...IntakeOption) (*Intake, error) {
	if bus == nil {
		return nil, errors.New("telemetry intake: nil bus")
	}
	i := &Intake{bus: bus, clock: systemClock{}}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// Now returns the intake clock time.
func (i *Intake) Now() time.Time {
	return i.clock.Now()
}

// Accept checks the rate budget of every source in readings and publishes
// one event per reading. A budget failure rejects the whole payload before
// anything is published. Processing errors are joined and returned with the
// number of published readings.
func (i *Intake) Accept(ctx context.Context, readings []telemetry.Reading, transport string) (int, error) {
	counts := make(map[string]int)
	order := make([]string, 0, 1)
	for _, reading := range readings {
		if _, seen := counts[reading.SourceID]; !seen {
			order = append(order, reading.SourceID)
		}
		counts[reading.SourceID]++
	}
	for _, sourceID := range order {
		if !i.limiter.AllowN(sourceID, counts[sourceID]) {
			return 0, fmt.Errorf("%w: source=%s", ErrRateLimited, sourceID)
		}
	}

	receivedAt := i.clock.Now()
	var errs []error
	published := 0
	for _, reading := range readings {
		event := events.ReadingReceived{
			EventID:    eventing.NewEventID(),
			Reading:    reading,
			Transport:  transport,
			ReceivedAt: receivedAt,
		}
		err := i.bus.Publish(ctx, event)
		published++
		if err != nil {
			i.logf("telemetry intake: process error source=%s ts=%s err=%v", reading.SourceID, reading.Timestamp.Format(time.RFC3339), err)
			errs = append(errs, err)
		}
	}
	return published, errors.Join(errs...)
}

func (i *Intake) logf(format string, args ...any) {
	if i.logger != nil {
		i.logger.Printf(format, args...)
	}
}
