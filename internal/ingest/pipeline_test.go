package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alertsapp "terrarium-cloud/internal/alerts/application"
	alerts "terrarium-cloud/internal/alerts/domain"
	alertsmem "terrarium-cloud/internal/alerts/infrastructure/memory"
	analyticsapp "terrarium-cloud/internal/analytics/application"
	"terrarium-cloud/internal/analytics/domain/rollup"
	analyticsmem "terrarium-cloud/internal/analytics/infrastructure/memory"
	automationapp "terrarium-cloud/internal/automation/application"
	automation "terrarium-cloud/internal/automation/domain"
	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	"terrarium-cloud/internal/eventing"
	health "terrarium-cloud/internal/health/domain"
	profilesapp "terrarium-cloud/internal/profiles/application"
	profiles "terrarium-cloud/internal/profiles/domain"
	profilesmem "terrarium-cloud/internal/profiles/infrastructure/memory"
	telemetryapp "terrarium-cloud/internal/telemetry/application"
	"terrarium-cloud/internal/telemetry/application/events"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

var noon = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func reading(sourceID string, at time.Time, moisture float64) telemetry.Reading {
	return telemetry.Reading{SourceID: sourceID, Temperature: 27, Humidity: 80, Moisture: moisture, Lux: 5000, Timestamp: at}
}

type stubResolver struct {
	err error
}

func (r stubResolver) Resolve(ctx context.Context, sourceID string) (profilesapp.Resolved, error) {
	if r.err != nil {
		return profilesapp.Resolved{}, r.err
	}
	eco, err := ecosystem.GetProfile(ecosystem.BiomeTropical)
	return profilesapp.Resolved{Ecosystem: eco, FellBack: true}, err
}

type stubAggregator struct {
	err    error
	active int32
	max    int32
	calls  int32
}

func (a *stubAggregator) Ingest(ctx context.Context, r telemetry.Reading) error {
	n := atomic.AddInt32(&a.active, 1)
	for {
		m := atomic.LoadInt32(&a.max)
		if n <= m || atomic.CompareAndSwapInt32(&a.max, m, n) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	atomic.AddInt32(&a.active, -1)
	atomic.AddInt32(&a.calls, 1)
	return a.err
}

type stubAlerts struct {
	mu     sync.Mutex
	scores []int
	err    error
}

func (s *stubAlerts) EvaluateAssessment(ctx context.Context, sourceID string, a health.Assessment, p ecosystem.Profile) ([]alerts.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, a.HealthScore)
	return nil, s.err
}

func TestProcessJoinsStageErrors(t *testing.T) {
	aggErr := errors.New("bucket store down")
	alertErr := errors.New("alert store down")
	agg := &stubAggregator{err: aggErr}
	al := &stubAlerts{err: alertErr}
	p, err := NewPipeline(stubResolver{}, agg, WithAlerts(al))
	require.NoError(t, err)

	err = p.Process(context.Background(), reading("tank-1", noon, 50))
	assert.ErrorIs(t, err, aggErr)
	assert.ErrorIs(t, err, alertErr)
	assert.Len(t, al.scores, 1)
}

func TestProcessStopsOnResolveError(t *testing.T) {
	agg := &stubAggregator{}
	p, err := NewPipeline(stubResolver{err: errors.New("db down")}, agg)
	require.NoError(t, err)

	assert.Error(t, p.Process(context.Background(), reading("tank-1", noon, 50)))
	assert.Equal(t, int32(0), agg.calls)

	assert.ErrorIs(t, p.Process(context.Background(), reading("", noon, 50)), telemetry.ErrEmptySourceID)
}

func TestProcessSerializesPerSource(t *testing.T) {
	agg := &stubAggregator{}
	p, err := NewPipeline(stubResolver{}, agg)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = p.Process(context.Background(), reading("tank-1", noon.Add(time.Duration(i)*time.Second), 50))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(20), agg.calls)
	assert.Equal(t, int32(1), agg.max)
}

func TestLateReadingOnlyFeedsRollups(t *testing.T) {
	agg := &stubAggregator{}
	al := &stubAlerts{}
	latest := telemetryapp.NewLatestStore()
	p, err := NewPipeline(stubResolver{}, agg, WithAlerts(al), WithLatest(latest))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, reading("tank-1", noon, 50)))
	require.NoError(t, p.Process(ctx, reading("tank-1", noon.Add(-time.Minute), 10)))

	assert.Equal(t, int32(2), agg.calls)
	assert.Len(t, al.scores, 1)
	snap, ok := latest.Get("tank-1")
	require.True(t, ok)
	assert.Equal(t, 50.0, snap.Reading.Moisture)
}

func TestSnapshotUsesPipelineClock(t *testing.T) {
	latest := telemetryapp.NewLatestStore()
	at := noon.Add(3 * time.Second)
	p, err := NewPipeline(stubResolver{}, &stubAggregator{}, WithLatest(latest), WithClock(fixedClock{now: at}))
	require.NoError(t, err)

	require.NoError(t, p.Process(context.Background(), reading("tank-1", noon, 50)))
	snap, ok := latest.Get("tank-1")
	require.True(t, ok)
	assert.Equal(t, at, snap.UpdatedAt)
	assert.Equal(t, ecosystem.BiomeTropical, snap.Biome)
}

type recordingSink struct {
	mu   sync.Mutex
	sent []automation.Command
}

func (s *recordingSink) SetActuator(ctx context.Context, cmd automation.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, cmd)
	return nil
}

func TestDryReadingDrivesEveryStage(t *testing.T) {
	ctx := context.Background()
	clock := fixedClock{now: noon}
	reg, err := ecosystem.NewRegistry(nil)
	require.NoError(t, err)
	profileSvc, err := profilesapp.NewService(profilesmem.NewProfileRepository(), reg, profilesapp.WithClock(clock))
	require.NoError(t, err)
	settings := profiles.DefaultAutomationSettings()
	settings.AutoMistEnabled = true
	require.NoError(t, profileSvc.Save(ctx, &profiles.Profile{SourceID: "tank-1", OwnerID: "u1", Biome: ecosystem.BiomeTropical, Automation: &settings}))

	buckets := analyticsmem.NewBucketStore()
	agg, err := analyticsapp.NewAggregator(buckets)
	require.NoError(t, err)

	presence := telemetryapp.NewPresence(telemetryapp.WithPresenceClock(clock))
	sink := &recordingSink{}
	ctl, err := automationapp.NewController(sink, profileSvc, presence, automationapp.WithClock(clock))
	require.NoError(t, err)

	alertStore := alertsmem.NewStore()
	dispatcher, err := alertsapp.NewDispatcher(alertStore, alertsapp.WithClock(clock))
	require.NoError(t, err)

	latest := telemetryapp.NewLatestStore()
	p, err := NewPipeline(profileSvc, agg,
		WithAutomation(ctl),
		WithAlerts(dispatcher),
		WithPresence(presence),
		WithLatest(latest),
	)
	require.NoError(t, err)

	bus := eventing.NewInMemoryBus()
	p.Subscribe(bus)
	require.NoError(t, bus.Publish(ctx, events.ReadingReceived{EventID: "e1", Reading: reading("tank-1", noon, 30), ReceivedAt: noon}))

	assert.True(t, presence.Connected("tank-1"))

	bucket, err := agg.Bucket(ctx, "tank-1", rollup.GranularityHour, noon)
	require.NoError(t, err)
	assert.Equal(t, int64(1), bucket.Count)

	snap, ok := latest.Get("tank-1")
	require.True(t, ok)
	assert.Equal(t, 85, snap.Assessment.HealthScore)

	require.Len(t, sink.sent, 1)
	assert.Equal(t, automation.ActuatorHumidifier, sink.sent[0].Actuator)
	assert.True(t, sink.sent[0].On)

	records, err := dispatcher.List(ctx, "tank-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.MetricMoisture, records[0].Type)
	assert.Equal(t, health.SeverityWarning, records[0].Severity)
}
