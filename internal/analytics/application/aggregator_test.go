package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrarium-cloud/internal/analytics/domain/rollup"
	"terrarium-cloud/internal/analytics/infrastructure/memory"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// conflictingStore fails the first n updates per key with a transaction conflict.
type conflictingStore struct {
	*memory.BucketStore
	mu       sync.Mutex
	failures map[rollup.PeriodKey]int
	calls    int
}

func (s *conflictingStore) Update(ctx context.Context, sourceID string, g rollup.Granularity, key rollup.PeriodKey, mutate func(*rollup.Bucket) (*rollup.Bucket, error)) error {
	s.mu.Lock()
	s.calls++
	if s.failures[key] > 0 {
		s.failures[key]--
		s.mu.Unlock()
		return rollup.ErrTransactionConflict
	}
	s.mu.Unlock()
	return s.BucketStore.Update(ctx, sourceID, g, key, mutate)
}

func sample(at time.Time, temp float64) telemetry.Reading {
	return telemetry.Reading{SourceID: "tank-1", Temperature: temp, Humidity: 80, Moisture: 50, Lux: 5000, Timestamp: at}
}

func TestIngestUpdatesHourlyAndDailyBuckets(t *testing.T) {
	store := memory.NewBucketStore()
	agg, err := NewAggregator(store, WithClock(fixedClock{now: time.Unix(0, 0).UTC()}))
	require.NoError(t, err)

	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, agg.Ingest(ctx, sample(day, 24)))
	require.NoError(t, agg.Ingest(ctx, sample(day.Add(20*time.Minute), 26)))
	require.NoError(t, agg.Ingest(ctx, sample(day.Add(3*time.Hour), 28)))

	daily, err := agg.Bucket(ctx, "tank-1", rollup.GranularityDay, day)
	require.NoError(t, err)
	stats := daily.Metrics.Get(telemetry.MetricTemperature)
	assert.EqualValues(t, 3, daily.Count)
	assert.Equal(t, 24.0, stats.Min)
	assert.Equal(t, 28.0, stats.Max)
	assert.InDelta(t, 26.0, stats.Avg, 1e-9)

	hourly, err := agg.Buckets(ctx, "tank-1", rollup.GranularityHour, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, hourly, 2)
	assert.EqualValues(t, 2, hourly[0].Count)
	assert.Equal(t, 50.0, hourly[0].Metrics.Get(telemetry.MetricTemperature).Sum)
	assert.EqualValues(t, 1, hourly[1].Count)
}

func TestIngestRetriesTransactionConflicts(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &conflictingStore{
		BucketStore: memory.NewBucketStore(),
		failures:    map[rollup.PeriodKey]int{"20260301T09": 2},
	}
	agg, err := NewAggregator(store, WithMaxAttempts(3))
	require.NoError(t, err)

	require.NoError(t, agg.Ingest(context.Background(), sample(at, 25)))
	b, err := store.Get(context.Background(), "tank-1", rollup.GranularityHour, "20260301T09")
	require.NoError(t, err)
	assert.EqualValues(t, 1, b.Count)
	assert.Equal(t, 4, store.calls) // three hourly attempts plus one daily
}

func TestIngestSurfacesConflictAfterBoundedRetries(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := &conflictingStore{
		BucketStore: memory.NewBucketStore(),
		failures:    map[rollup.PeriodKey]int{"20260301": 10},
	}
	agg, err := NewAggregator(store, WithMaxAttempts(2))
	require.NoError(t, err)

	err = agg.Ingest(context.Background(), sample(at, 25))
	require.Error(t, err)
	assert.ErrorIs(t, err, rollup.ErrTransactionConflict)

	// The hourly rollup is independent and still lands.
	_, err = store.Get(context.Background(), "tank-1", rollup.GranularityHour, "20260301T09")
	assert.NoError(t, err)
	_, err = store.Get(context.Background(), "tank-1", rollup.GranularityDay, "20260301")
	assert.ErrorIs(t, err, rollup.ErrNotFound)
}

func TestIngestOutOfOrderPolicy(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	ctx := context.Background()

	permissive, err := NewAggregator(memory.NewBucketStore())
	require.NoError(t, err)
	require.NoError(t, permissive.Ingest(ctx, sample(at, 25)))
	require.NoError(t, permissive.Ingest(ctx, sample(at.Add(-time.Minute), 26)))

	strict, err := NewAggregator(memory.NewBucketStore(), WithRejectOutOfOrder())
	require.NoError(t, err)
	require.NoError(t, strict.Ingest(ctx, sample(at, 25)))
	err = strict.Ingest(ctx, sample(at.Add(-time.Minute), 26))
	assert.ErrorIs(t, err, rollup.ErrOutOfOrder)
}

func TestIngestRejectsInvalidReading(t *testing.T) {
	agg, err := NewAggregator(memory.NewBucketStore())
	require.NoError(t, err)
	err = agg.Ingest(context.Background(), telemetry.Reading{Timestamp: time.Now()})
	assert.ErrorIs(t, err, telemetry.ErrEmptySourceID)

	_, err = NewAggregator(nil)
	assert.Error(t, err)
}

func TestIngestCutsDaysInLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	agg, err := NewAggregator(memory.NewBucketStore(), WithLocation(loc))
	require.NoError(t, err)
	// 02:00 UTC on the 2nd is still the 1st locally.
	at := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	require.NoError(t, agg.Ingest(context.Background(), sample(at, 25)))

	b, err := agg.Bucket(context.Background(), "tank-1", rollup.GranularityDay, at)
	require.NoError(t, err)
	assert.Equal(t, rollup.PeriodKey("20260301"), b.Key)
}

func TestBuildRangeReportWeightsByCount(t *testing.T) {
	agg, err := NewAggregator(memory.NewBucketStore())
	require.NoError(t, err)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	require.NoError(t, agg.Ingest(ctx, sample(day1, 20)))
	require.NoError(t, agg.Ingest(ctx, sample(day1.Add(time.Minute), 22)))
	require.NoError(t, agg.Ingest(ctx, sample(day2, 30)))

	report, err := agg.BuildRangeReport(ctx, "tank-1", day1.Add(-9*time.Hour), day2.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, report.Days, 2)
	assert.EqualValues(t, 3, report.ReadingCount)
	temp := report.Summary[0]
	assert.Equal(t, telemetry.MetricTemperature, temp.Metric)
	assert.Equal(t, 20.0, temp.Min)
	assert.Equal(t, 30.0, temp.Max)
	assert.InDelta(t, 24.0, temp.Avg, 1e-9)

	_, err = agg.BuildRangeReport(ctx, "tank-2", day1, day2)
	assert.ErrorIs(t, err, ErrEmptyRange)
}
