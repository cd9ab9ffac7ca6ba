package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atelier/internal/domain"
)

// TenantRepositoryPG implements domain.TenantRepository.
type TenantRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTenantRepository creates a tenant repository backed by PostgreSQL.
func NewTenantRepository(pool *pgxpool.Pool) *TenantRepositoryPG {
	return &TenantRepositoryPG{pool: pool}
}

// Create inserts a new tenant.
func (r *TenantRepositoryPG) Create(ctx context.Context, tenant *domain.Tenant) error {
	settings, err := json.Marshal(tenant.Settings)
	if err != nil {
		return fmt.Errorf("marshal tenant settings: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO tenants (id, name, settings) VALUES ($1, $2, $3);`,
		tenant.ID, tenant.Name, settings)
	return err
}

// GetByID fetches a tenant.
func (r *TenantRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	var (
		t        domain.Tenant
		settings []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, settings, created_at FROM tenants WHERE id = $1;`, id).
		Scan(&t.ID, &t.Name, &settings, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal tenant settings: %w", err)
		}
	}
	return &t, nil
}
