package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/middleware"
)

type createTenantRequest struct {
	Name     string         `json:"name"`
	Settings map[string]any `json:"settings"`
}

// CreateTenant provisions a new tenant. Exposed on the admin surface only;
// deployments front it with their own operator authentication.
func (a *App) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var body createTenantRequest
	if !a.decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	tenant := &domain.Tenant{
		ID:       uuid.NewString(),
		Name:     body.Name,
		Settings: body.Settings,
	}
	if err := a.Tenants.Create(r.Context(), tenant); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"id": tenant.ID, "name": tenant.Name})
}

// IsolationAudit scans the caller's tenant for rows whose ownership crosses
// the tenant boundary. Read-only.
func (a *App) IsolationAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	findings, err := a.Guard.Audit(r.Context(), tenantID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if findings == nil {
		findings = []domain.AuditFinding{}
	}
	a.json(w, http.StatusOK, map[string]any{"findings": findings})
}
