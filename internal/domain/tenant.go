package domain

import "time"

// TenantMode selects between multi-tenant enforcement and single-tenant
// deployments where isolation checks are bypassed.
type TenantMode string

const (
	TenantModeSingle TenantMode = "single"
	TenantModeMulti  TenantMode = "multi"
)

// Tenant is the isolation boundary that owns users, boards and provider
// configuration. Identity is immutable once created.
type Tenant struct {
	ID        string
	Name      string
	Settings  map[string]any
	CreatedAt time.Time
}
