package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	alerts "terrarium-cloud/internal/alerts/domain"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	"terrarium-cloud/internal/eventing"
	health "terrarium-cloud/internal/health/domain"
	"terrarium-cloud/internal/observability/metrics"
	profilesapp "terrarium-cloud/internal/profiles/application"
	telemetryapp "terrarium-cloud/internal/telemetry/application"
	"terrarium-cloud/internal/telemetry/application/events"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// Aggregator folds readings into rollup buckets.
type Aggregator interface {
	Ingest(ctx context.Context, reading telemetry.Reading) error
}

// Resolver maps a source to its ecosystem profile.
type Resolver interface {
	Resolve(ctx context.Context, sourceID string) (profilesapp.Resolved, error)
}

// Automation runs the control loops for a fresh reading.
type Automation interface {
	HandleReading(ctx context.Context, reading telemetry.Reading, resolved profilesapp.Resolved) error
}

// Alerts emits rate limited alert records for an assessment.
type Alerts interface {
	EvaluateAssessment(ctx context.Context, sourceID string, assessment health.Assessment, profile ecosystem.Profile) ([]alerts.AlertRecord, error)
}

// Presence records source liveness.
type Presence interface {
	Mark(sourceID string)
}

// Latest keeps the newest evaluated reading per source.
type Latest interface {
	Put(snap telemetryapp.Snapshot) bool
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Pipeline evaluates one reading end to end. Readings of the same source
// are processed one at a time.
type Pipeline struct {
	resolver   Resolver
	aggregator Aggregator
	automation Automation
	alerts     Alerts
	presence   Presence
	latest     Latest
	clock      Clock
	logger     *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithAutomation enables the control loops.
func WithAutomation(automation Automation) Option {
	return func(p *Pipeline) {
		p.automation = automation
	}
}

// WithAlerts enables alert dispatch.
func WithAlerts(a Alerts) Option {
	return func(p *Pipeline) {
		p.alerts = a
	}
}

// WithPresence enables liveness tracking.
func WithPresence(presence Presence) Option {
	return func(p *Pipeline) {
		p.presence = presence
	}
}

// WithLatest enables the latest snapshot store.
func WithLatest(latest Latest) Option {
	return func(p *Pipeline) {
		p.latest = latest
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline constructs a pipeline.
func NewPipeline(resolver Resolver, aggregator Aggregator, opts ...Option) (*Pipeline, error) {
	if resolver == nil {
		return nil, errors.New("ingest pipeline: nil resolver")
	}
	if aggregator == nil {
		return nil, errors.New("ingest pipeline: nil aggregator")
	}
	p := &Pipeline{
		resolver:   resolver,
		aggregator: aggregator,
		clock:      systemClock{},
		logger:     log.Default(),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Subscribe registers the pipeline for ReadingReceived events.
func (p *Pipeline) Subscribe(bus eventing.Bus) {
	eventing.Handle(bus, func(ctx context.Context, evt events.ReadingReceived) error {
		return p.Process(ctx, evt.Reading)
	})
}

// Process aggregates reading and, in parallel, classifies it and drives the
// automation and alert stages. Stage errors are joined.
func (p *Pipeline) Process(ctx context.Context, reading telemetry.Reading) error {
	if err := reading.Validate(); err != nil {
		return err
	}
	start := p.clock.Now()
	lock := p.lockFor(reading.SourceID)
	lock.Lock()
	defer lock.Unlock()

	if p.presence != nil {
		p.presence.Mark(reading.SourceID)
	}
	resolved, err := p.resolver.Resolve(ctx, reading.SourceID)
	if err != nil {
		metrics.ObservePipeline(metrics.ResultError, p.clock.Now().Sub(start))
		return fmt.Errorf("ingest: resolve %s: %w", reading.SourceID, err)
	}

	var aggErr, evalErr error
	var g errgroup.Group
	g.Go(func() error {
		aggErr = p.aggregator.Ingest(ctx, reading)
		return aggErr
	})
	g.Go(func() error {
		evalErr = p.evaluate(ctx, reading, resolved)
		return evalErr
	})
	_ = g.Wait()

	err = errors.Join(aggErr, evalErr)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		p.logger.Printf("ingest: pipeline error source=%s ts=%s err=%v", reading.SourceID, reading.Timestamp.Format(time.RFC3339), err)
	}
	metrics.ObservePipeline(result, p.clock.Now().Sub(start))
	return err
}

func (p *Pipeline) evaluate(ctx context.Context, reading telemetry.Reading, resolved profilesapp.Resolved) error {
	assessment := health.Classify(reading, resolved.Ecosystem)
	if p.latest != nil {
		fresh := p.latest.Put(telemetryapp.Snapshot{
			Reading:    reading,
			Assessment: assessment,
			Biome:      resolved.Ecosystem.Biome,
			UpdatedAt:  p.clock.Now(),
		})
		// a late reading only feeds the rollups
		if !fresh {
			return nil
		}
	}
	metrics.SetHealthScore(reading.SourceID, assessment.HealthScore)

	var errs []error
	if p.automation != nil {
		if err := p.automation.HandleReading(ctx, reading, resolved); err != nil {
			errs = append(errs, fmt.Errorf("automation: %w", err))
		}
	}
	if p.alerts != nil {
		if _, err := p.alerts.EvaluateAssessment(ctx, reading.SourceID, assessment, resolved.Ecosystem); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Pipeline) lockFor(sourceID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[sourceID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[sourceID] = lock
	}
	return lock
}
