// Package repo contains the PostgreSQL repository implementations.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

// DBTX is the query surface shared by a pool and a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const generationColumns = `
id, tenant_id, board_id, user_id, generator_name, provider_name, artifact_type,
input_params, status, storage_url, thumbnail_url, additional_files, output_metadata,
parent_generation_id, input_generation_ids, external_job_id,
progress::text, error_message, estimated_cost::text,
started_at, completed_at, created_at, updated_at`

// GenerationRepositoryPG implements domain.GenerationRepository. Status
// guards live in the WHERE clauses so racing writers resolve in the database,
// not in application memory.
type GenerationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewGenerationRepository creates a generation repository backed by PostgreSQL.
func NewGenerationRepository(pool *pgxpool.Pool) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{pool: pool}
}

// Create inserts a new pending generation.
func (r *GenerationRepositoryPG) Create(ctx context.Context, g *domain.Generation) error {
	inputParams, err := json.Marshal(g.InputParams)
	if err != nil {
		return fmt.Errorf("marshal input params: %w", err)
	}
	query := `
INSERT INTO generations (
    id, tenant_id, board_id, user_id, generator_name, provider_name, artifact_type,
    input_params, status, parent_generation_id, input_generation_ids, progress, estimated_cost
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13::numeric);
`
	_, err = r.pool.Exec(ctx, query,
		g.ID,
		g.TenantID,
		g.BoardID,
		g.UserID,
		g.GeneratorName,
		g.ProviderName,
		g.ArtifactType,
		inputParams,
		g.Status,
		nullableText(g.ParentGenerationID),
		g.InputGenerationIDs,
		g.Progress.String(),
		g.EstimatedCost.String(),
	)
	return err
}

// GetByID fetches a generation scoped to its tenant.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, tenantID, id string) (*domain.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = $1 AND tenant_id = $2;`
	return scanGeneration(r.pool.QueryRow(ctx, query, id, tenantID))
}

// ListByBoard returns a board's generations, newest first.
func (r *GenerationRepositoryPG) ListByBoard(ctx context.Context, tenantID, boardID string, limit int) ([]domain.Generation, error) {
	query := `
SELECT ` + generationColumns + `
FROM generations
WHERE tenant_id = $1 AND board_id = $2
ORDER BY created_at DESC
LIMIT $3;
`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, query, tenantID, boardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// MarkProcessing moves a pending generation to processing.
func (r *GenerationRepositoryPG) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	query := `
UPDATE generations
SET status = 'processing', started_at = $2, updated_at = NOW()
WHERE id = $1 AND status = 'pending';
`
	tag, err := r.pool.Exec(ctx, query, id, startedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProgress persists a non-decreasing progress value while processing.
func (r *GenerationRepositoryPG) UpdateProgress(ctx context.Context, id string, progress decimal.Decimal) (bool, error) {
	query := `
UPDATE generations
SET progress = $2::numeric, updated_at = NOW()
WHERE id = $1 AND status = 'processing' AND progress <= $2::numeric;
`
	tag, err := r.pool.Exec(ctx, query, id, progress.String())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkCompleted finishes a processing generation with its outputs.
func (r *GenerationRepositoryPG) MarkCompleted(ctx context.Context, id string, rec domain.CompletionRecord) (bool, error) {
	additional, err := json.Marshal(rec.AdditionalFiles)
	if err != nil {
		return false, fmt.Errorf("marshal additional files: %w", err)
	}
	outputMeta, err := json.Marshal(rec.OutputMetadata)
	if err != nil {
		return false, fmt.Errorf("marshal output metadata: %w", err)
	}
	query := `
UPDATE generations
SET status = 'completed',
    storage_url = $2,
    thumbnail_url = $3,
    additional_files = $4,
    output_metadata = $5,
    completed_at = $6,
    progress = 100,
    updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, id, rec.StorageURL, nullableText(rec.ThumbnailURL), additional, outputMeta, rec.CompletedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkFailed finishes a pending or processing generation with an error.
func (r *GenerationRepositoryPG) MarkFailed(ctx context.Context, id, errorMessage string, at time.Time) (bool, error) {
	query := `
UPDATE generations
SET status = 'failed', error_message = $2, completed_at = $3, updated_at = NOW()
WHERE id = $1 AND status IN ('pending', 'processing');
`
	tag, err := r.pool.Exec(ctx, query, id, errorMessage, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetExternalJobID records the provider-side job identifier.
func (r *GenerationRepositoryPG) SetExternalJobID(ctx context.Context, id, externalJobID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE generations SET external_job_id = $2, updated_at = NOW() WHERE id = $1;`,
		id, externalJobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClaimPending atomically claims the oldest pending generation. SKIP LOCKED
// lets concurrent workers claim distinct rows without blocking each other.
func (r *GenerationRepositoryPG) ClaimPending(ctx context.Context) (*domain.Generation, error) {
	query := `
WITH next AS (
    SELECT id
    FROM generations
    WHERE status = 'pending'
    ORDER BY created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
UPDATE generations g
SET status = 'processing', started_at = NOW(), updated_at = NOW()
FROM next
WHERE g.id = next.id
RETURNING ` + qualifiedGenerationColumns("g") + `;`
	return scanGeneration(r.pool.QueryRow(ctx, query))
}

// ListStaleProcessing returns generations processing since before cutoff.
func (r *GenerationRepositoryPG) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Generation, error) {
	query := `
SELECT ` + generationColumns + `
FROM generations
WHERE status = 'processing' AND started_at < $1
ORDER BY started_at
LIMIT $2;
`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func qualifiedGenerationColumns(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.board_id, ` + alias + `.user_id,
` + alias + `.generator_name, ` + alias + `.provider_name, ` + alias + `.artifact_type,
` + alias + `.input_params, ` + alias + `.status, ` + alias + `.storage_url, ` + alias + `.thumbnail_url,
` + alias + `.additional_files, ` + alias + `.output_metadata, ` + alias + `.parent_generation_id,
` + alias + `.input_generation_ids, ` + alias + `.external_job_id,
` + alias + `.progress::text, ` + alias + `.error_message, ` + alias + `.estimated_cost::text,
` + alias + `.started_at, ` + alias + `.completed_at, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanGeneration(row pgx.Row) (*domain.Generation, error) {
	var (
		g             domain.Generation
		inputParams   []byte
		additional    []byte
		outputMeta    []byte
		storageURL    *string
		thumbnailURL  *string
		parentID      *string
		externalJobID *string
		errorMessage  *string
		progress      string
		estimated     string
	)
	if err := row.Scan(
		&g.ID,
		&g.TenantID,
		&g.BoardID,
		&g.UserID,
		&g.GeneratorName,
		&g.ProviderName,
		&g.ArtifactType,
		&inputParams,
		&g.Status,
		&storageURL,
		&thumbnailURL,
		&additional,
		&outputMeta,
		&parentID,
		&g.InputGenerationIDs,
		&externalJobID,
		&progress,
		&errorMessage,
		&estimated,
		&g.StartedAt,
		&g.CompletedAt,
		&g.CreatedAt,
		&g.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(inputParams) > 0 {
		if err := json.Unmarshal(inputParams, &g.InputParams); err != nil {
			return nil, fmt.Errorf("unmarshal input params: %w", err)
		}
	}
	if len(additional) > 0 {
		if err := json.Unmarshal(additional, &g.AdditionalFiles); err != nil {
			return nil, fmt.Errorf("unmarshal additional files: %w", err)
		}
	}
	if len(outputMeta) > 0 {
		if err := json.Unmarshal(outputMeta, &g.OutputMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal output metadata: %w", err)
		}
	}
	g.StorageURL = derefText(storageURL)
	g.ThumbnailURL = derefText(thumbnailURL)
	g.ParentGenerationID = derefText(parentID)
	g.ExternalJobID = derefText(externalJobID)
	g.ErrorMessage = derefText(errorMessage)

	var err error
	if g.Progress, err = decimal.NewFromString(progress); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	if g.EstimatedCost, err = decimal.NewFromString(estimated); err != nil {
		return nil, fmt.Errorf("parse estimated cost: %w", err)
	}
	return &g, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefText(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
