// Package handlers implements the HTTP API surface.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"atelier/internal/domain"
	"atelier/internal/ledger"
	"atelier/internal/lifecycle"
	"atelier/internal/progress"
	"atelier/internal/tenantguard"
)

// App bundles the dependencies the HTTP handlers need.
type App struct {
	Lifecycle *lifecycle.Service
	Ledger    *ledger.Ledger
	Progress  *progress.Publisher
	Boards    domain.BoardRepository
	Users     domain.UserRepository
	Tenants   domain.TenantRepository
	Guard     *tenantguard.Validator
	Pool      *pgxpool.Pool
	Logger    zerolog.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "malformed request body")
		return false
	}
	return true
}
