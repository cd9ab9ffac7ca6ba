package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UserRepository defines access methods for users.
type UserRepository interface {
	// UpsertByAuthSubject provisions a user just-in-time keyed on
	// (tenant_id, auth_provider, auth_subject).
	UpsertByAuthSubject(ctx context.Context, user *User) (*User, error)
	GetByID(ctx context.Context, tenantID, id string) (*User, error)
}

// BoardRepository defines persistence for boards and their memberships.
type BoardRepository interface {
	Create(ctx context.Context, board *Board) error
	GetByID(ctx context.Context, tenantID, id string) (*Board, error)
	// MemberRole returns the caller's role on the board, or ErrNotFound when
	// the user is not a member.
	MemberRole(ctx context.Context, boardID, userID string) (BoardRole, error)
	AddMember(ctx context.Context, member *BoardMember) error
}

// CompletionRecord carries everything a generation gains on success.
type CompletionRecord struct {
	StorageURL      string
	ThumbnailURL    string
	AdditionalFiles []ArtifactReference
	OutputMetadata  map[string]any
	CompletedAt     time.Time
}

// GenerationRepository defines persistence for generations. The MarkX
// methods apply the status guard in the store itself and report whether a
// row actually changed, so racing callers (worker, reaper, API) cannot
// corrupt a terminal generation.
type GenerationRepository interface {
	Create(ctx context.Context, g *Generation) error
	GetByID(ctx context.Context, tenantID, id string) (*Generation, error)
	ListByBoard(ctx context.Context, tenantID, boardID string, limit int) ([]Generation, error)

	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)
	// UpdateProgress persists a new progress value only while the generation
	// is processing and the value does not decrease.
	UpdateProgress(ctx context.Context, id string, progress decimal.Decimal) (bool, error)
	MarkCompleted(ctx context.Context, id string, rec CompletionRecord) (bool, error)
	MarkFailed(ctx context.Context, id, errorMessage string, at time.Time) (bool, error)
	SetExternalJobID(ctx context.Context, id, externalJobID string) error

	// ClaimPending atomically moves the oldest pending generation to
	// processing and returns it, or ErrNotFound when the queue is empty.
	ClaimPending(ctx context.Context) (*Generation, error)
	// ListStaleProcessing returns generations processing since before cutoff.
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]Generation, error)
}

// LedgerTx exposes a user's ledger while the per-user serialization lock is
// held. Balance reads and appends through the same LedgerTx observe a frozen
// ledger tail.
type LedgerTx interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	// GenerationEntry finds an existing entry of the given type for a
	// generation, or ErrNotFound. Used for idempotency checks.
	GenerationEntry(ctx context.Context, generationID string, typ TransactionType) (*CreditTransaction, error)
	Append(ctx context.Context, entry *CreditTransaction) error
}

// CreditRepository defines the append-only transaction log. WithUserLedger
// serializes all writers for one (tenant, user) pair; different users never
// contend.
type CreditRepository interface {
	WithUserLedger(ctx context.Context, tenantID, userID string, fn func(tx LedgerTx) error) error
	// FindByGeneration locates an entry of the given type outside the lock,
	// e.g. to discover which user a generation's reserve belongs to.
	FindByGeneration(ctx context.Context, tenantID, generationID string, typ TransactionType) (*CreditTransaction, error)
	Balance(ctx context.Context, tenantID, userID string) (decimal.Decimal, error)
	ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]CreditTransaction, error)
}

// ProgressSnapshot is the latest known progress of one generation, persisted
// for late joiners that were not subscribed to the live channel.
type ProgressSnapshot struct {
	GenerationID string
	TenantID     string
	Status       GenerationStatus
	Progress     decimal.Decimal
	Message      string
	UpdatedAt    time.Time
}

// ProgressSnapshotRepository stores at most one snapshot per generation.
type ProgressSnapshotRepository interface {
	Upsert(ctx context.Context, snap *ProgressSnapshot) error
	Get(ctx context.Context, tenantID, generationID string) (*ProgressSnapshot, error)
}

// TenantRepository defines access methods for tenants.
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
}

// AuditFinding reports a row whose references cross a tenant boundary.
type AuditFinding struct {
	Entity   string `json:"entity"`
	EntityID string `json:"entity_id"`
	Detail   string `json:"detail"`
}

// IsolationRepository backs the tenant isolation validator with the minimal
// ownership lookups and read-only audit scans it needs.
type IsolationRepository interface {
	UserTenant(ctx context.Context, userID string) (string, error)
	BoardTenant(ctx context.Context, boardID string) (string, error)
	GenerationTenant(ctx context.Context, generationID string) (string, error)
	OrphanedBoards(ctx context.Context, tenantID string) ([]AuditFinding, error)
	OrphanedGenerations(ctx context.Context, tenantID string) ([]AuditFinding, error)
}
