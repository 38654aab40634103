package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"terrarium-cloud/internal/analytics/domain/rollup"
)

const defaultBucketTable = "rollup_buckets"

// SQLSTATE codes that mean another writer won the race.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// BucketStore persists rollup buckets in Postgres. Update locks the row with
// SELECT ... FOR UPDATE inside a transaction; a concurrent first insert
// surfaces as rollup.ErrTransactionConflict so the caller can retry.
type BucketStore struct {
	db    *sql.DB
	table string
}

// StoreOption configures the store.
type StoreOption func(*BucketStore)

// WithTable overrides the default table name.
func WithTable(table string) StoreOption {
	return func(s *BucketStore) {
		if table != "" {
			s.table = table
		}
	}
}

// NewBucketStore creates a store using the default table name.
func NewBucketStore(db *sql.DB, opts ...StoreOption) (*BucketStore, error) {
	if db == nil {
		return nil, errors.New("bucket store: nil db")
	}
	s := &BucketStore{db: db, table: defaultBucketTable}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Update runs mutate inside a transaction holding the row lock.
func (s *BucketStore) Update(ctx context.Context, sourceID string, granularity rollup.Granularity, key rollup.PeriodKey, mutate func(current *rollup.Bucket) (*rollup.Bucket, error)) (err error) {
	if mutate == nil {
		return errors.New("bucket store: nil mutate")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapConflict(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`
SELECT source_id, granularity, period_key, period_start, reading_count, metrics, last_reading_at, updated_at
FROM %s
WHERE source_id = $1 AND granularity = $2 AND period_key = $3
FOR UPDATE`, s.table)
	current, err := scanBucket(tx.QueryRowContext(ctx, query, sourceID, string(granularity), key.String()))
	exists := true
	if errors.Is(err, sql.ErrNoRows) {
		current, exists, err = nil, false, nil
	}
	if err != nil {
		return mapConflict(err)
	}

	next, err := mutate(current)
	if err != nil {
		return err
	}
	if next == nil {
		return errors.New("bucket store: mutate returned nil bucket")
	}
	payload, err := json.Marshal(next.Metrics)
	if err != nil {
		return err
	}

	if exists {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET reading_count = $4, metrics = $5, last_reading_at = $6, updated_at = $7
WHERE source_id = $1 AND granularity = $2 AND period_key = $3`, s.table),
			sourceID, string(granularity), key.String(), next.Count, payload, nullTime(next.LastReadingAt), next.UpdatedAt)
	} else {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (source_id, granularity, period_key, period_start, reading_count, metrics, last_reading_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table),
			sourceID, string(granularity), key.String(), next.PeriodStart, next.Count, payload, nullTime(next.LastReadingAt), next.UpdatedAt)
	}
	if err != nil {
		return mapConflict(err)
	}
	if err = tx.Commit(); err != nil {
		return mapConflict(err)
	}
	return nil
}

// Get loads one bucket.
func (s *BucketStore) Get(ctx context.Context, sourceID string, granularity rollup.Granularity, key rollup.PeriodKey) (*rollup.Bucket, error) {
	query := fmt.Sprintf(`
SELECT source_id, granularity, period_key, period_start, reading_count, metrics, last_reading_at, updated_at
FROM %s
WHERE source_id = $1 AND granularity = $2 AND period_key = $3
LIMIT 1`, s.table)
	b, err := scanBucket(s.db.QueryRowContext(ctx, query, sourceID, string(granularity), key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rollup.ErrNotFound
	}
	return b, err
}

// List returns buckets whose period starts in [from, to).
func (s *BucketStore) List(ctx context.Context, sourceID string, granularity rollup.Granularity, from, to time.Time) ([]rollup.Bucket, error) {
	query := fmt.Sprintf(`
SELECT source_id, granularity, period_key, period_start, reading_count, metrics, last_reading_at, updated_at
FROM %s
WHERE source_id = $1 AND granularity = $2 AND period_start >= $3 AND period_start < $4
ORDER BY period_start ASC`, s.table)
	rows, err := s.db.QueryContext(ctx, query, sourceID, string(granularity), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rollup.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// DeleteBefore removes buckets of granularity whose period started before cutoff.
func (s *BucketStore) DeleteBefore(ctx context.Context, granularity rollup.Granularity, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE granularity = $1 AND period_start < $2`, s.table), string(granularity), cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanBucket(scanner interface{ Scan(dest ...any) error }) (*rollup.Bucket, error) {
	var (
		b           rollup.Bucket
		granularity string
		key         string
		payload     []byte
		lastReading sql.NullTime
	)
	if err := scanner.Scan(&b.SourceID, &granularity, &key, &b.PeriodStart, &b.Count, &payload, &lastReading, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Granularity = rollup.Granularity(granularity)
	b.Key = rollup.PeriodKey(key)
	if lastReading.Valid {
		b.LastReadingAt = lastReading.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &b.Metrics); err != nil {
			return nil, fmt.Errorf("bucket store: decode metrics: %w", err)
		}
	}
	return &b, nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeUniqueViolation:
			return fmt.Errorf("%w: %s", rollup.ErrTransactionConflict, pgErr.Message)
		}
	}
	return err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
