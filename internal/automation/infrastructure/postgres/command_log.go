package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	automation "terrarium-cloud/internal/automation/domain"
)

const defaultCommandsTable = "actuator_commands"

// CommandLog is a Postgres implementation of the actuator command log.
type CommandLog struct {
	db    *sql.DB
	table string
}

// NewCommandLog constructs a log.
func NewCommandLog(db *sql.DB) *CommandLog {
	return &CommandLog{db: db, table: defaultCommandsTable}
}

// Append inserts a record.
func (l *CommandLog) Append(ctx context.Context, record automation.CommandRecord) error {
	if l == nil || l.db == nil {
		return errors.New("command log: nil db")
	}
	cmd := record.Command
	_, err := l.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (id, source_id, actuator, is_on, brightness, reason, status, error, issued_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, l.table),
		record.ID, cmd.SourceID, string(cmd.Actuator), cmd.On, cmd.Brightness, cmd.Reason, record.Status, nullString(record.Error), cmd.At.UTC())
	return err
}

// List returns records of sourceID within [from, to). Zero bounds are open.
func (l *CommandLog) List(ctx context.Context, sourceID string, from, to time.Time) ([]automation.CommandRecord, error) {
	if l == nil || l.db == nil {
		return nil, errors.New("command log: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, source_id, actuator, is_on, brightness, reason, status, error, issued_at
FROM %s
WHERE source_id = $1
	AND ($2::timestamptz IS NULL OR issued_at >= $2)
	AND ($3::timestamptz IS NULL OR issued_at < $3)
ORDER BY issued_at, id`, l.table)
	rows, err := l.db.QueryContext(ctx, query, sourceID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []automation.CommandRecord
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
func (l *CommandLog) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if l == nil || l.db == nil {
		return 0, errors.New("command log: nil db")
	}
	res, err := l.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE issued_at < $1`, l.table), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (automation.CommandRecord, error) {
	var (
		record   automation.CommandRecord
		actuator string
		errText  sql.NullString
	)
	cmd := &record.Command
	if err := scanner.Scan(&record.ID, &cmd.SourceID, &actuator, &cmd.On, &cmd.Brightness, &cmd.Reason, &record.Status, &errText, &cmd.At); err != nil {
		return automation.CommandRecord{}, err
	}
	cmd.Actuator = automation.Actuator(actuator)
	cmd.At = cmd.At.UTC()
	record.Error = errText.String
	return record, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
