package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "terrarium-cloud/internal/alerts/domain"
	health "terrarium-cloud/internal/health/domain"
	telemetry "terrarium-cloud/internal/telemetry/domain"
)

const defaultAlertsTable = "alert_records"

// Store is a Postgres implementation of the alert store.
type Store struct {
	db    *sql.DB
	table string
}

// NewStore constructs a store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, table: defaultAlertsTable}
}

// Admit serializes per source with a transaction scoped advisory lock, so
// concurrent evaluations of one source cannot both pass the limiter.
func (s *Store) Admit(ctx context.Context, sourceID string, dayStart time.Time, decide alerts.Decider) ([]alerts.AlertRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("alert store: nil db")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "alerts:"+sourceID); err != nil {
		return nil, err
	}
	var (
		lastAt sql.NullTime
		today  int
	)
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
SELECT MAX(created_at), COUNT(*) FILTER (WHERE created_at >= $2)
FROM %s
WHERE source_id = $1 AND NOT is_test`, s.table), sourceID, dayStart.UTC()).Scan(&lastAt, &today)
	if err != nil {
		return nil, err
	}

	admitted := decide(lastAt.Time, today)
	for _, record := range admitted {
		if err := s.insert(ctx, tx, record); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return admitted, nil
}

// Append stores a record without limiting.
func (s *Store) Append(ctx context.Context, record alerts.AlertRecord) error {
	if s == nil || s.db == nil {
		return errors.New("alert store: nil db")
	}
	return s.insert(ctx, s.db, record)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, r alerts.AlertRecord) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, source_id, type, severity, title, message, action, value, threshold, ecosystem, is_test, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, s.table),
		r.ID, r.SourceID, string(r.Type), string(r.Severity), r.Title, r.Message, r.Action, r.Value, r.Threshold, r.Ecosystem, r.IsTest, r.CreatedAt.UTC())
	return err
}

// List returns records within [from, to), newest first. Zero bounds are open.
func (s *Store) List(ctx context.Context, sourceID string, from, to time.Time) ([]alerts.AlertRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("alert store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, source_id, type, severity, title, message, action, value, threshold, ecosystem, is_test, created_at
FROM %s
WHERE source_id = $1
	AND ($2::timestamptz IS NULL OR created_at >= $2)
	AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at DESC`, s.table), sourceID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.AlertRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// DeleteBefore drops records older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("alert store: nil db")
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.table), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (alerts.AlertRecord, error) {
	var (
		r        alerts.AlertRecord
		metric   string
		severity string
	)
	if err := scanner.Scan(&r.ID, &r.SourceID, &metric, &severity, &r.Title, &r.Message, &r.Action, &r.Value, &r.Threshold, &r.Ecosystem, &r.IsTest, &r.CreatedAt); err != nil {
		return alerts.AlertRecord{}, err
	}
	r.Type = telemetry.Metric(metric)
	r.Severity = health.Severity(severity)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
