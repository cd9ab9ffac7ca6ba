package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/middleware"
)

type upsertUserRequest struct {
	AuthProvider string `json:"auth_provider"`
	AuthSubject  string `json:"auth_subject"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Picture      string `json:"picture"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Picture   string    `json:"picture,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertUser provisions a user just-in-time on first authentication, keyed
// on (tenant, auth provider, auth subject). Repeated calls refresh profile
// fields and return the same user.
func (a *App) UpsertUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body upsertUserRequest
	if !a.decode(w, r, &body) {
		return
	}
	if body.AuthProvider == "" || body.AuthSubject == "" {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "auth_provider and auth_subject are required")
		return
	}
	user, err := a.Users.UpsertByAuthSubject(ctx, &domain.User{
		ID:           uuid.NewString(),
		TenantID:     middleware.TenantIDFromContext(ctx),
		AuthProvider: body.AuthProvider,
		AuthSubject:  body.AuthSubject,
		Email:        body.Email,
		Name:         body.Name,
		Picture:      body.Picture,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, userResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Picture:   user.Picture,
		CreatedAt: user.CreatedAt,
	})
}
