package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrarium-cloud/internal/analytics/application"
	"terrarium-cloud/internal/analytics/domain/rollup"
	analyticspg "terrarium-cloud/internal/analytics/infrastructure/postgres"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	var exists bool
	err = db.QueryRow(`SELECT to_regclass('public.rollup_buckets') IS NOT NULL`).Scan(&exists)
	if err != nil || !exists {
		t.Skip("rollup_buckets missing; run migrations")
	}
	return db
}

func TestBucketStore_AggregatesAndPrunes(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	store, err := analyticspg.NewBucketStore(db)
	require.NoError(t, err)
	agg, err := application.NewAggregator(store)
	require.NoError(t, err)

	source := "it-" + uuid.NewString()
	t.Cleanup(func() {
		_, _ = db.ExecContext(context.Background(), "DELETE FROM rollup_buckets WHERE source_id = $1", source)
	})

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, moisture := range []float64{40, 50, 60} {
		require.NoError(t, agg.Ingest(ctx, telemetry.Reading{
			SourceID:    source,
			Temperature: 26,
			Humidity:    80,
			Moisture:    moisture,
			Lux:         5000,
			Timestamp:   base.Add(time.Duration(i) * 10 * time.Minute),
		}))
	}

	hour, err := agg.Bucket(ctx, source, rollup.GranularityHour, base)
	require.NoError(t, err)
	assert.Equal(t, int64(3), hour.Count)
	assert.InDelta(t, 150, hour.Metrics.Moisture.Sum, 1e-9)
	assert.InDelta(t, 50, hour.Metrics.Moisture.Avg, 1e-9)
	assert.Equal(t, 40.0, hour.Metrics.Moisture.Min)
	assert.Equal(t, 60.0, hour.Metrics.Moisture.Max)

	day, err := agg.Bucket(ctx, source, rollup.GranularityDay, base)
	require.NoError(t, err)
	assert.Equal(t, int64(3), day.Count)
	assert.InDelta(t, 50, day.Metrics.Moisture.Avg, 1e-9)

	deleted, err := store.DeleteBefore(ctx, rollup.GranularityHour, base.Add(time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, 1)
	_, err = agg.Bucket(ctx, source, rollup.GranularityHour, base)
	assert.ErrorIs(t, err, rollup.ErrNotFound)
}
