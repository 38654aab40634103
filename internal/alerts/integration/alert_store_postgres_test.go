package integration_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "terrarium-cloud/internal/alerts/domain"
	alertspg "terrarium-cloud/internal/alerts/infrastructure/postgres"
	health "terrarium-cloud/internal/health/domain"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

func TestAlertStore_AdmitSerializesPerSource(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()
	var exists bool
	if err := db.QueryRow(`SELECT to_regclass('public.alert_records') IS NOT NULL`).Scan(&exists); err != nil || !exists {
		t.Skip("alert_records missing; run migrations")
	}

	ctx := context.Background()
	store := alertspg.NewStore(db)
	source := "it-" + uuid.NewString()
	defer func() {
		_, _ = db.ExecContext(context.Background(), "DELETE FROM alert_records WHERE source_id = $1", source)
	}()

	now := time.Now().UTC().Truncate(time.Microsecond)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	decide := func(lastAt time.Time, today int) []alerts.AlertRecord {
		if !lastAt.IsZero() {
			return nil
		}
		return []alerts.AlertRecord{{
			ID:        uuid.NewString(),
			SourceID:  source,
			Type:      telemetry.MetricMoisture,
			Severity:  health.SeverityWarning,
			Title:     "Substrate Dry",
			Message:   "Moisture is 38%, below the minimum of 40%",
			Value:     38,
			Threshold: 40,
			Ecosystem: "Tropical Understory",
			CreatedAt: now,
		}}
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted, err := store.Admit(ctx, source, dayStart, decide)
			assert.NoError(t, err)
			mu.Lock()
			total += len(admitted)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, total)

	records, err := store.List(ctx, source, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, telemetry.MetricMoisture, records[0].Type)
	assert.True(t, records[0].CreatedAt.Equal(now))
}
