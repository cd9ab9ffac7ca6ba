package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atelier/internal/domain"
)

// BoardRepositoryPG implements domain.BoardRepository.
type BoardRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewBoardRepository creates a board repository backed by PostgreSQL.
func NewBoardRepository(pool *pgxpool.Pool) *BoardRepositoryPG {
	return &BoardRepositoryPG{pool: pool}
}

// Create inserts a new board.
func (r *BoardRepositoryPG) Create(ctx context.Context, board *domain.Board) error {
	query := `
INSERT INTO boards (id, tenant_id, owner_id, name, is_public)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query, board.ID, board.TenantID, board.OwnerID, board.Name, board.IsPublic)
	return err
}

// GetByID fetches a board scoped to its tenant.
func (r *BoardRepositoryPG) GetByID(ctx context.Context, tenantID, id string) (*domain.Board, error) {
	query := `
SELECT id, tenant_id, owner_id, name, is_public, created_at, updated_at
FROM boards
WHERE id = $1 AND tenant_id = $2;
`
	var b domain.Board
	if err := r.pool.QueryRow(ctx, query, id, tenantID).Scan(
		&b.ID, &b.TenantID, &b.OwnerID, &b.Name, &b.IsPublic, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// MemberRole returns the user's role on the board, or ErrNotFound when the
// user is not a member.
func (r *BoardRepositoryPG) MemberRole(ctx context.Context, boardID, userID string) (domain.BoardRole, error) {
	var role domain.BoardRole
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM board_members WHERE board_id = $1 AND user_id = $2;`,
		boardID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// AddMember grants or updates a user's role on a board.
func (r *BoardRepositoryPG) AddMember(ctx context.Context, member *domain.BoardMember) error {
	query := `
INSERT INTO board_members (board_id, user_id, role)
VALUES ($1, $2, $3)
ON CONFLICT (board_id, user_id) DO UPDATE
SET role = EXCLUDED.role;
`
	_, err := r.pool.Exec(ctx, query, member.BoardID, member.UserID, member.Role)
	return err
}
