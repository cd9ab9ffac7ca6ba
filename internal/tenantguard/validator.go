// Package tenantguard enforces that every entity an operation touches
// belongs to the caller's tenant.
package tenantguard

import (
	"context"
	"fmt"

	"atelier/internal/domain"
)

// Validator checks entity ownership against a tenant id. In single-tenant
// deployments every check is a configuration-gated no-op.
type Validator struct {
	repo domain.IsolationRepository
	mode domain.TenantMode
}

// New creates a Validator for the given deployment mode.
func New(repo domain.IsolationRepository, mode domain.TenantMode) *Validator {
	return &Validator{repo: repo, mode: mode}
}

// Enabled reports whether isolation checks are active.
func (v *Validator) Enabled() bool {
	return v.mode != domain.TenantModeSingle
}

// ValidateUser asserts the user belongs to the tenant.
func (v *Validator) ValidateUser(ctx context.Context, tenantID, userID string) error {
	return v.validate(ctx, tenantID, "user", userID, v.repo.UserTenant)
}

// ValidateBoard asserts the board belongs to the tenant.
func (v *Validator) ValidateBoard(ctx context.Context, tenantID, boardID string) error {
	return v.validate(ctx, tenantID, "board", boardID, v.repo.BoardTenant)
}

// ValidateGeneration asserts the generation belongs to the tenant.
func (v *Validator) ValidateGeneration(ctx context.Context, tenantID, generationID string) error {
	return v.validate(ctx, tenantID, "generation", generationID, v.repo.GenerationTenant)
}

func (v *Validator) validate(ctx context.Context, tenantID, entity, id string, lookup func(context.Context, string) (string, error)) error {
	if !v.Enabled() {
		return nil
	}
	owner, err := lookup(ctx, id)
	if err != nil {
		return fmt.Errorf("tenant check for %s %s: %w", entity, id, err)
	}
	if owner != tenantID {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrTenantIsolation)
	}
	return nil
}

// Audit scans a tenant for rows whose ownership crosses the tenant boundary
// and reports them without mutating anything. It is a diagnostic, not an
// enforcement mechanism.
func (v *Validator) Audit(ctx context.Context, tenantID string) ([]domain.AuditFinding, error) {
	boards, err := v.repo.OrphanedBoards(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("audit boards: %w", err)
	}
	generations, err := v.repo.OrphanedGenerations(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("audit generations: %w", err)
	}
	return append(boards, generations...), nil
}
