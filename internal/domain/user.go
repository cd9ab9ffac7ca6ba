package domain

import "time"

// User is identified by (tenant_id, auth_provider, auth_subject) and is
// provisioned just-in-time on first successful authentication.
type User struct {
	ID           string
	TenantID     string
	AuthProvider string
	AuthSubject  string
	Email        string
	Name         string
	Picture      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
