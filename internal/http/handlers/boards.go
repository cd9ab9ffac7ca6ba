package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"atelier/internal/domain"
	"atelier/internal/middleware"
)

type createBoardRequest struct {
	Name     string `json:"name"`
	IsPublic bool   `json:"is_public"`
}

type boardResponse struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	IsPublic  bool      `json:"is_public"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBoard creates a board owned by the caller.
func (a *App) CreateBoard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body createBoardRequest
	if !a.decode(w, r, &body) {
		return
	}
	if body.Name == "" {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	board := &domain.Board{
		ID:       uuid.NewString(),
		TenantID: middleware.TenantIDFromContext(ctx),
		OwnerID:  middleware.UserIDFromContext(ctx),
		Name:     body.Name,
		IsPublic: body.IsPublic,
	}
	if err := a.Boards.Create(ctx, board); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, boardResponse{
		ID:        board.ID,
		OwnerID:   board.OwnerID,
		Name:      board.Name,
		IsPublic:  board.IsPublic,
		CreatedAt: board.CreatedAt,
	})
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// AddBoardMember grants a user a role on the caller's board. Only the board
// owner may manage membership.
func (a *App) AddBoardMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantIDFromContext(ctx)
	boardID := chi.URLParam(r, "id")

	var body addMemberRequest
	if !a.decode(w, r, &body) {
		return
	}
	role := domain.BoardRole(body.Role)
	switch role {
	case domain.BoardRoleViewer, domain.BoardRoleEditor, domain.BoardRoleAdmin:
	default:
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "role must be viewer, editor or admin")
		return
	}
	board, err := a.Boards.GetByID(ctx, tenantID, boardID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if board.OwnerID != middleware.UserIDFromContext(ctx) {
		a.writeError(w, r, domain.ErrAccessDenied)
		return
	}
	// Members must exist in the same tenant.
	if _, err := a.Users.GetByID(ctx, tenantID, body.UserID); err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Boards.AddMember(ctx, &domain.BoardMember{BoardID: boardID, UserID: body.UserID, Role: role}); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"board_id": boardID, "user_id": body.UserID, "role": string(role)})
}
