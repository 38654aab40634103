package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	alerts "terrarium-cloud/internal/alerts/domain"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	health "terrarium-cloud/internal/health/domain"
	"terrarium-cloud/internal/observability/metrics"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

// Store persists alert records. Admit must run decide and append its result
// atomically per source.
type Store interface {
	Admit(ctx context.Context, sourceID string, dayStart time.Time, decide alerts.Decider) ([]alerts.AlertRecord, error)
	Append(ctx context.Context, record alerts.AlertRecord) error
	List(ctx context.Context, sourceID string, from, to time.Time) ([]alerts.AlertRecord, error)
}

// Notifier delivers stored alerts. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, record alerts.AlertRecord)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Dispatcher turns warning and danger classifications into rate limited alerts.
type Dispatcher struct {
	store    Store
	notifier Notifier
	policy   alerts.Policy
	clock    Clock
	logger   *log.Logger
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithPolicy overrides the rate limit policy.
func WithPolicy(policy alerts.Policy) Option {
	return func(d *Dispatcher) {
		if policy.Window > 0 {
			d.policy.Window = policy.Window
		}
		if policy.DailyCap > 0 {
			d.policy.DailyCap = policy.DailyCap
		}
		if policy.Location != nil {
			d.policy.Location = policy.Location
		}
	}
}

// WithNotifier assigns a notifier.
func WithNotifier(notifier Notifier) Option {
	return func(d *Dispatcher) {
		d.notifier = notifier
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(store Store, opts ...Option) (*Dispatcher, error) {
	if store == nil {
		return nil, errors.New("alerts: nil store")
	}
	d := &Dispatcher{store: store, policy: alerts.DefaultPolicy(), clock: systemClock{}, logger: log.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Policy returns the active policy.
func (d *Dispatcher) Policy() alerts.Policy {
	return d.policy
}

// Evaluate classifies reading against profile and emits the admitted alerts.
// Suppression is not an error; it yields an empty result.
func (d *Dispatcher) Evaluate(ctx context.Context, reading telemetry.Reading, profile ecosystem.Profile, sourceID string) ([]alerts.AlertRecord, error) {
	return d.EvaluateAssessment(ctx, sourceID, health.Classify(reading, profile), profile)
}

// EvaluateAssessment emits alerts for an already computed assessment. Records
// follow the assessment's metric order unless the daily cap truncates them.
func (d *Dispatcher) EvaluateAssessment(ctx context.Context, sourceID string, assessment health.Assessment, profile ecosystem.Profile) ([]alerts.AlertRecord, error) {
	if sourceID == "" {
		return nil, alerts.ErrEmptySourceID
	}
	faults := assessment.Faults()
	if len(faults) == 0 {
		return nil, nil
	}

	now := d.clock.Now()
	candidates := make([]alerts.AlertRecord, 0, len(faults))
	for _, v := range faults {
		candidates = append(candidates, newRecord(sourceID, profile, v, now))
	}

	var reason string
	emitted, err := d.store.Admit(ctx, sourceID, d.policy.DayStart(now), func(lastAt time.Time, today int) []alerts.AlertRecord {
		var admitted []alerts.AlertRecord
		admitted, reason = d.policy.Admit(now, lastAt, today, candidates)
		return admitted
	})
	if err != nil {
		return nil, fmt.Errorf("alerts: admit %s: %w", sourceID, err)
	}
	if dropped := len(candidates) - len(emitted); dropped > 0 {
		metrics.AddAlertsSuppressed(reason, dropped)
		d.logger.Printf("alerts suppressed: source=%s reason=%s count=%d", sourceID, reason, dropped)
	}
	for _, record := range emitted {
		metrics.IncAlertEmitted(string(record.Severity))
		d.notify(ctx, record)
	}
	return emitted, nil
}

// EmitTest stores and delivers a test alert for metric, bypassing the limiter.
func (d *Dispatcher) EmitTest(ctx context.Context, sourceID string, metric telemetry.Metric, profile ecosystem.Profile) (alerts.AlertRecord, error) {
	if sourceID == "" {
		return alerts.AlertRecord{}, alerts.ErrEmptySourceID
	}
	if metric == "" {
		metric = telemetry.MetricTemperature
	}
	record := alerts.AlertRecord{
		ID:        uuid.NewString(),
		Type:      metric,
		Severity:  health.SeverityWarning,
		Title:     "Test Alert",
		Message:   fmt.Sprintf("Test alert for %s in the %s terrarium", metric, profile.Name),
		Ecosystem: profile.Name,
		SourceID:  sourceID,
		CreatedAt: d.clock.Now(),
		IsTest:    true,
	}
	if err := d.store.Append(ctx, record); err != nil {
		return alerts.AlertRecord{}, err
	}
	d.notify(ctx, record)
	return record, nil
}

// List returns stored alerts of sourceID within [from, to).
func (d *Dispatcher) List(ctx context.Context, sourceID string, from, to time.Time) ([]alerts.AlertRecord, error) {
	return d.store.List(ctx, sourceID, from, to)
}

func (d *Dispatcher) notify(ctx context.Context, record alerts.AlertRecord) {
	if d.notifier == nil {
		return
	}
	d.notifier.Notify(ctx, record)
}

func newRecord(sourceID string, profile ecosystem.Profile, v health.Violation, now time.Time) alerts.AlertRecord {
	return alerts.AlertRecord{
		ID:        uuid.NewString(),
		Type:      v.Metric,
		Severity:  v.Severity,
		Title:     v.Title,
		Message:   v.Message,
		Action:    v.Action,
		Value:     v.Value,
		Threshold: v.Threshold,
		Ecosystem: profile.Name,
		SourceID:  sourceID,
		CreatedAt: now,
	}
}
