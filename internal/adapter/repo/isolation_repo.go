package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atelier/internal/domain"
)

// IsolationRepositoryPG implements domain.IsolationRepository with the
// ownership lookups and audit scans the tenant validator needs.
type IsolationRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewIsolationRepository creates an isolation repository backed by PostgreSQL.
func NewIsolationRepository(pool *pgxpool.Pool) *IsolationRepositoryPG {
	return &IsolationRepositoryPG{pool: pool}
}

func (r *IsolationRepositoryPG) UserTenant(ctx context.Context, userID string) (string, error) {
	return r.tenantOf(ctx, `SELECT tenant_id FROM users WHERE id = $1;`, userID)
}

func (r *IsolationRepositoryPG) BoardTenant(ctx context.Context, boardID string) (string, error) {
	return r.tenantOf(ctx, `SELECT tenant_id FROM boards WHERE id = $1;`, boardID)
}

func (r *IsolationRepositoryPG) GenerationTenant(ctx context.Context, generationID string) (string, error) {
	return r.tenantOf(ctx, `SELECT tenant_id FROM generations WHERE id = $1;`, generationID)
}

func (r *IsolationRepositoryPG) tenantOf(ctx context.Context, query, id string) (string, error) {
	var tenantID string
	if err := r.pool.QueryRow(ctx, query, id).Scan(&tenantID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return tenantID, nil
}

// OrphanedBoards finds boards whose owner is missing or belongs to another
// tenant.
func (r *IsolationRepositoryPG) OrphanedBoards(ctx context.Context, tenantID string) ([]domain.AuditFinding, error) {
	query := `
SELECT b.id
FROM boards b
LEFT JOIN users u ON u.id = b.owner_id
WHERE b.tenant_id = $1
  AND (u.id IS NULL OR u.tenant_id <> b.tenant_id);
`
	return r.findings(ctx, query, tenantID, "board", "owner belongs to a different tenant")
}

// OrphanedGenerations finds generations whose board is missing or belongs to
// another tenant.
func (r *IsolationRepositoryPG) OrphanedGenerations(ctx context.Context, tenantID string) ([]domain.AuditFinding, error) {
	query := `
SELECT g.id
FROM generations g
LEFT JOIN boards b ON b.id = g.board_id
WHERE g.tenant_id = $1
  AND (b.id IS NULL OR b.tenant_id <> g.tenant_id);
`
	return r.findings(ctx, query, tenantID, "generation", "board belongs to a different tenant")
}

func (r *IsolationRepositoryPG) findings(ctx context.Context, query, tenantID, entity, detail string) ([]domain.AuditFinding, error) {
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditFinding
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, domain.AuditFinding{Entity: entity, EntityID: id, Detail: detail})
	}
	return out, rows.Err()
}
