package domain

import "time"

// BoardRole enumerates membership roles on a board.
type BoardRole string

const (
	BoardRoleViewer BoardRole = "viewer"
	BoardRoleEditor BoardRole = "editor"
	BoardRoleAdmin  BoardRole = "admin"
)

// CanWrite reports whether the role permits submitting work to the board.
func (r BoardRole) CanWrite() bool {
	return r == BoardRoleEditor || r == BoardRoleAdmin
}

// Board is a workspace owned by one user within one tenant. Generations
// always belong to exactly one board.
type Board struct {
	ID        string
	TenantID  string
	OwnerID   string
	Name      string
	IsPublic  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BoardMember grants a user a role on a board.
type BoardMember struct {
	BoardID string
	UserID  string
	Role    BoardRole
}
