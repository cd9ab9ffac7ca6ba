package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atelier/internal/domain"
)

// UserRepositoryPG implements domain.UserRepository backed by PostgreSQL.
type UserRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepositoryPG.
func NewUserRepository(pool *pgxpool.Pool) *UserRepositoryPG {
	return &UserRepositoryPG{pool: pool}
}

// UpsertByAuthSubject inserts or updates a user keyed on
// (tenant_id, auth_provider, auth_subject).
func (r *UserRepositoryPG) UpsertByAuthSubject(ctx context.Context, user *domain.User) (*domain.User, error) {
	query := `
INSERT INTO users (id, tenant_id, auth_provider, auth_subject, email, name, picture)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (tenant_id, auth_provider, auth_subject) DO UPDATE
SET email = EXCLUDED.email,
    name = EXCLUDED.name,
    picture = EXCLUDED.picture,
    updated_at = NOW()
RETURNING id, tenant_id, auth_provider, auth_subject, email, name, picture, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, query,
		user.ID,
		user.TenantID,
		user.AuthProvider,
		user.AuthSubject,
		user.Email,
		user.Name,
		user.Picture,
	)
	return scanUser(row)
}

// GetByID fetches a user scoped to their tenant.
func (r *UserRepositoryPG) GetByID(ctx context.Context, tenantID, id string) (*domain.User, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id, tenant_id, auth_provider, auth_subject, email, name, picture, created_at, updated_at
FROM users
WHERE id = $1 AND tenant_id = $2;
`, id, tenantID)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.TenantID, &u.AuthProvider, &u.AuthSubject, &u.Email, &u.Name, &u.Picture, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
