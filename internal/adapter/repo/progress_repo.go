package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

// ProgressRepositoryPG implements domain.ProgressSnapshotRepository with one
// upserted row per generation.
type ProgressRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a progress snapshot repository backed by
// PostgreSQL.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepositoryPG {
	return &ProgressRepositoryPG{pool: pool}
}

// Upsert stores the latest snapshot for a generation.
func (r *ProgressRepositoryPG) Upsert(ctx context.Context, snap *domain.ProgressSnapshot) error {
	query := `
INSERT INTO progress_snapshots (generation_id, tenant_id, status, progress, message, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, NOW())
ON CONFLICT (generation_id) DO UPDATE
SET status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    message = EXCLUDED.message,
    updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, query,
		snap.GenerationID, snap.TenantID, snap.Status, snap.Progress.String(), snap.Message)
	return err
}

// Get returns the latest snapshot scoped to the tenant.
func (r *ProgressRepositoryPG) Get(ctx context.Context, tenantID, generationID string) (*domain.ProgressSnapshot, error) {
	query := `
SELECT generation_id, tenant_id, status, progress::text, message, updated_at
FROM progress_snapshots
WHERE generation_id = $1 AND tenant_id = $2;
`
	var (
		s        domain.ProgressSnapshot
		progress string
	)
	err := r.pool.QueryRow(ctx, query, generationID, tenantID).
		Scan(&s.GenerationID, &s.TenantID, &s.Status, &progress, &s.Message, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.Progress, err = decimal.NewFromString(progress); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	return &s, nil
}
