package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	ecosystem "terrarium-cloud/internal/ecosystem/domain"
	profiles "terrarium-cloud/internal/profiles/domain"
)

const defaultProfilesTable = "source_profiles"

// ProfileRepository is a Postgres implementation for source profiles.
type ProfileRepository struct {
	db    *sql.DB
	table string
}

// ProfileOption configures the repository.
type ProfileOption func(*ProfileRepository)

// WithProfileTable overrides the default table name.
func WithProfileTable(table string) ProfileOption {
	return func(repo *ProfileRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewProfileRepository constructs a repository.
func NewProfileRepository(db *sql.DB, opts ...ProfileOption) *ProfileRepository {
	repo := &ProfileRepository{db: db, table: defaultProfilesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a profile by source id.
func (r *ProfileRepository) Get(ctx context.Context, sourceID string) (*profiles.Profile, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("profile repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT source_id, owner_id, biome, automation, created_at, updated_at
FROM %s
WHERE source_id = $1
LIMIT 1`, r.table)
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profiles.ErrNotFound
	}
	return p, err
}

// List returns every profile.
func (r *ProfileRepository) List(ctx context.Context) ([]profiles.Profile, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("profile repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT source_id, owner_id, biome, automation, created_at, updated_at
FROM %s
ORDER BY source_id`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profiles.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Save upserts a profile.
func (r *ProfileRepository) Save(ctx context.Context, p *profiles.Profile) error {
	if r == nil || r.db == nil {
		return errors.New("profile repo: nil db")
	}
	if p == nil {
		return errors.New("profile repo: nil profile")
	}
	var automation any
	if p.Automation != nil {
		raw, err := json.Marshal(p.Automation)
		if err != nil {
			return err
		}
		automation = raw
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (source_id, owner_id, biome, automation, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_id) DO UPDATE SET
	owner_id = EXCLUDED.owner_id,
	biome = EXCLUDED.biome,
	automation = EXCLUDED.automation,
	updated_at = EXCLUDED.updated_at`, r.table),
		p.SourceID, p.OwnerID, string(p.Biome), automation, p.CreatedAt, p.UpdatedAt)
	return err
}

func scanProfile(scanner interface{ Scan(dest ...any) error }) (*profiles.Profile, error) {
	var (
		p          profiles.Profile
		biome      string
		automation []byte
	)
	if err := scanner.Scan(&p.SourceID, &p.OwnerID, &biome, &automation, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Biome = ecosystem.Biome(biome)
	if len(automation) > 0 {
		var settings profiles.AutomationSettings
		if err := json.Unmarshal(automation, &settings); err != nil {
			return nil, fmt.Errorf("profile repo: decode automation: %w", err)
		}
		p.Automation = &settings
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
