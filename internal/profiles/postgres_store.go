package profiles

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/replydesk/pkg/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*models.CounterpartProfile, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT email, name, category, engagement_rate, brand_safety_score, tags, created_at, updated_at
        FROM counterpart_profiles WHERE email = $1
    `, normalizeEmail(email))
	return scanProfile(row)
}

func (s *PostgresStore) Upsert(ctx context.Context, p *models.CounterpartProfile) error {
	return s.db.QueryRowContext(ctx, `
        INSERT INTO counterpart_profiles (email, name, category, engagement_rate, brand_safety_score, tags)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (email)
        DO UPDATE SET name=$2, category=$3, engagement_rate=$4, brand_safety_score=$5, tags=$6, updated_at=now()
        RETURNING created_at, updated_at
    `,
		normalizeEmail(p.Email), p.Name, p.Category, p.EngagementRate, p.BrandSafetyScore, pq.Array(ensureSliceNotNil(p.Tags)),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*models.CounterpartProfile, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT email, name, category, engagement_rate, brand_safety_score, tags, created_at, updated_at
        FROM counterpart_profiles ORDER BY updated_at DESC LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	// Always return a non-nil slice so JSON encodes as [] instead of null
	out := make([]*models.CounterpartProfile, 0)
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(scanner interface{ Scan(dest ...any) error }) (*models.CounterpartProfile, error) {
	var p models.CounterpartProfile
	var tags []string
	if err := scanner.Scan(&p.Email, &p.Name, &p.Category, &p.EngagementRate, &p.BrandSafetyScore, pq.Array(&tags), &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.Tags = append([]string(nil), tags...)
	return &p, nil
}

// ensureSliceNotNil avoids NOT NULL constraint violations on empty tag sets
func ensureSliceNotNil(slice []string) []string {
	if slice == nil {
		return []string{}
	}
	return slice
}
