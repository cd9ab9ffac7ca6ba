// Package memory provides in-memory repository implementations. They back
// unit tests and single-process development runs where PostgreSQL is not
// available; semantics mirror the pgx repositories in adapter/repo.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

// Credits is an in-memory domain.CreditRepository. Per-user serialization is
// a mutex per (tenant, user) pair, matching the advisory lock the PostgreSQL
// repository takes.
type Credits struct {
	mu      sync.Mutex
	entries []domain.CreditTransaction
	locks   map[string]*sync.Mutex
}

// NewCredits creates an empty credit log.
func NewCredits() *Credits {
	return &Credits{locks: make(map[string]*sync.Mutex)}
}

func (c *Credits) userLock(tenantID, userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tenantID + "/" + userID
	lock, ok := c.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[key] = lock
	}
	return lock
}

// WithUserLedger runs fn while holding the user's ledger lock.
func (c *Credits) WithUserLedger(ctx context.Context, tenantID, userID string, fn func(tx domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := c.userLock(tenantID, userID)
	lock.Lock()
	defer lock.Unlock()
	return fn(&creditsTx{store: c, tenantID: tenantID, userID: userID})
}

type creditsTx struct {
	store    *Credits
	tenantID string
	userID   string
}

func (t *creditsTx) Balance(ctx context.Context) (decimal.Decimal, error) {
	return t.store.Balance(ctx, t.tenantID, t.userID)
}

func (t *creditsTx) GenerationEntry(ctx context.Context, generationID string, typ domain.TransactionType) (*domain.CreditTransaction, error) {
	return t.store.FindByGeneration(ctx, t.tenantID, generationID, typ)
}

func (t *creditsTx) Append(ctx context.Context, entry *domain.CreditTransaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	copied := *entry
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	t.store.entries = append(t.store.entries, copied)
	return nil
}

// FindByGeneration returns the newest entry of the given type linked to the
// generation, or ErrNotFound.
func (c *Credits) FindByGeneration(ctx context.Context, tenantID, generationID string, typ domain.TransactionType) (*domain.CreditTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if generationID == "" {
		return nil, domain.ErrNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.TenantID == tenantID && e.GenerationID == generationID && e.Type == typ {
			copied := e
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Balance returns the balance_after of the user's most recent entry, or zero
// for a user with no history.
func (c *Credits) Balance(ctx context.Context, tenantID, userID string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.TenantID == tenantID && e.UserID == userID {
			return e.BalanceAfter, nil
		}
	}
	return decimal.Zero, nil
}

// ListByUser returns the user's entries, newest first.
func (c *Credits) ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.CreditTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.CreditTransaction
	for i := len(c.entries) - 1; i >= 0; i-- {
		e := c.entries[i]
		if e.TenantID == tenantID && e.UserID == userID {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Generations is an in-memory domain.GenerationRepository.
type Generations struct {
	mu   sync.Mutex
	rows map[string]*domain.Generation
}

// NewGenerations creates an empty generation store.
func NewGenerations() *Generations {
	return &Generations{rows: make(map[string]*domain.Generation)}
}

func (g *Generations) Create(ctx context.Context, gen *domain.Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	copied := *gen
	now := time.Now().UTC()
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	g.rows[copied.ID] = &copied
	return nil
}

func (g *Generations) GetByID(ctx context.Context, tenantID, id string) (*domain.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[id]
	if !ok || row.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (g *Generations) ListByBoard(ctx context.Context, tenantID, boardID string, limit int) ([]domain.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Generation
	for _, row := range g.rows {
		if row.TenantID == tenantID && row.BoardID == boardID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *Generations) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[id]
	if !ok || row.Status != domain.GenerationStatusPending {
		return false, nil
	}
	row.Status = domain.GenerationStatusProcessing
	row.StartedAt = &startedAt
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (g *Generations) UpdateProgress(ctx context.Context, id string, progress decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[id]
	if !ok || row.Status != domain.GenerationStatusProcessing || progress.LessThan(row.Progress) {
		return false, nil
	}
	row.Progress = progress
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (g *Generations) MarkCompleted(ctx context.Context, id string, rec domain.CompletionRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[id]
	if !ok || row.Status != domain.GenerationStatusProcessing {
		return false, nil
	}
	row.Status = domain.GenerationStatusCompleted
	row.StorageURL = rec.StorageURL
	row.ThumbnailURL = rec.ThumbnailURL
	row.AdditionalFiles = append([]domain.ArtifactReference(nil), rec.AdditionalFiles...)
	row.OutputMetadata = rec.OutputMetadata
	completedAt := rec.CompletedAt
	row.CompletedAt = &completedAt
	row.Progress = decimal.NewFromInt(100)
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (g *Generations) MarkFailed(ctx context.Context, id, errorMessage string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[id]
	if !ok || row.Status.Terminal() {
		return false, nil
	}
	row.Status = domain.GenerationStatusFailed
	row.ErrorMessage = errorMessage
	row.CompletedAt = &at
	row.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (g *Generations) SetExternalJobID(ctx context.Context, id, externalJobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	row, ok := g.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.ExternalJobID = externalJobID
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (g *Generations) ClaimPending(ctx context.Context) (*domain.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var oldest *domain.Generation
	for _, row := range g.rows {
		if row.Status != domain.GenerationStatusPending {
			continue
		}
		if oldest == nil || row.CreatedAt.Before(oldest.CreatedAt) {
			oldest = row
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	now := time.Now().UTC()
	oldest.Status = domain.GenerationStatusProcessing
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	copied := *oldest
	return &copied, nil
}

func (g *Generations) ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Generation
	for _, row := range g.rows {
		if row.Status == domain.GenerationStatusProcessing && row.StartedAt != nil && row.StartedAt.Before(cutoff) {
			out = append(out, *row)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Boards is an in-memory domain.BoardRepository.
type Boards struct {
	mu      sync.RWMutex
	rows    map[string]*domain.Board
	members map[string]domain.BoardRole // boardID/userID
}

// NewBoards creates an empty board store.
func NewBoards() *Boards {
	return &Boards{rows: make(map[string]*domain.Board), members: make(map[string]domain.BoardRole)}
}

func (b *Boards) Create(ctx context.Context, board *domain.Board) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := *board
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	b.rows[copied.ID] = &copied
	return nil
}

func (b *Boards) GetByID(ctx context.Context, tenantID, id string) (*domain.Board, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	row, ok := b.rows[id]
	if !ok || row.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (b *Boards) MemberRole(ctx context.Context, boardID, userID string) (domain.BoardRole, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	role, ok := b.members[boardID+"/"+userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return role, nil
}

func (b *Boards) AddMember(ctx context.Context, member *domain.BoardMember) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[member.BoardID+"/"+member.UserID] = member.Role
	return nil
}

// Users is an in-memory domain.UserRepository.
type Users struct {
	mu   sync.RWMutex
	rows map[string]*domain.User
}

// NewUsers creates an empty user store.
func NewUsers() *Users {
	return &Users{rows: make(map[string]*domain.User)}
}

func (u *Users) UpsertByAuthSubject(ctx context.Context, user *domain.User) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, row := range u.rows {
		if row.TenantID == user.TenantID && row.AuthProvider == user.AuthProvider && row.AuthSubject == user.AuthSubject {
			row.Email = user.Email
			row.Name = user.Name
			row.Picture = user.Picture
			row.UpdatedAt = time.Now().UTC()
			copied := *row
			return &copied, nil
		}
	}
	copied := *user
	now := time.Now().UTC()
	copied.CreatedAt = now
	copied.UpdatedAt = now
	u.rows[copied.ID] = &copied
	out := copied
	return &out, nil
}

func (u *Users) GetByID(ctx context.Context, tenantID, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	row, ok := u.rows[id]
	if !ok || row.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

// Tenants is an in-memory domain.TenantRepository.
type Tenants struct {
	mu   sync.RWMutex
	rows map[string]*domain.Tenant
}

// NewTenants creates an empty tenant store.
func NewTenants() *Tenants {
	return &Tenants{rows: make(map[string]*domain.Tenant)}
}

func (t *Tenants) Create(ctx context.Context, tenant *domain.Tenant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := *tenant
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	t.rows[copied.ID] = &copied
	return nil
}

func (t *Tenants) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

// Snapshots is an in-memory domain.ProgressSnapshotRepository.
type Snapshots struct {
	mu   sync.RWMutex
	rows map[string]*domain.ProgressSnapshot
	// FailUpserts makes the next n Upsert calls fail, for retry tests.
	FailUpserts int
}

// NewSnapshots creates an empty snapshot store.
func NewSnapshots() *Snapshots {
	return &Snapshots{rows: make(map[string]*domain.ProgressSnapshot)}
}

func (s *Snapshots) Upsert(ctx context.Context, snap *domain.ProgressSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpserts > 0 {
		s.FailUpserts--
		return errors.New("snapshot store unavailable")
	}
	copied := *snap
	copied.UpdatedAt = time.Now().UTC()
	s.rows[copied.GenerationID] = &copied
	return nil
}

func (s *Snapshots) Get(ctx context.Context, tenantID, generationID string) (*domain.ProgressSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[generationID]
	if !ok || row.TenantID != tenantID {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

// Isolation is an in-memory domain.IsolationRepository over the other
// in-memory stores.
type Isolation struct {
	Users       *Users
	Boards      *Boards
	Generations *Generations
}

func (i *Isolation) UserTenant(ctx context.Context, userID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i.Users.mu.RLock()
	defer i.Users.mu.RUnlock()
	row, ok := i.Users.rows[userID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return row.TenantID, nil
}

func (i *Isolation) BoardTenant(ctx context.Context, boardID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i.Boards.mu.RLock()
	defer i.Boards.mu.RUnlock()
	row, ok := i.Boards.rows[boardID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return row.TenantID, nil
}

func (i *Isolation) GenerationTenant(ctx context.Context, generationID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i.Generations.mu.Lock()
	defer i.Generations.mu.Unlock()
	row, ok := i.Generations.rows[generationID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return row.TenantID, nil
}

func (i *Isolation) OrphanedBoards(ctx context.Context, tenantID string) ([]domain.AuditFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.Boards.mu.RLock()
	defer i.Boards.mu.RUnlock()
	var out []domain.AuditFinding
	for _, board := range i.Boards.rows {
		if board.TenantID != tenantID {
			continue
		}
		ownerTenant, err := i.UserTenant(ctx, board.OwnerID)
		if err != nil || ownerTenant != tenantID {
			out = append(out, domain.AuditFinding{
				Entity:   "board",
				EntityID: board.ID,
				Detail:   "owner belongs to a different tenant",
			})
		}
	}
	return out, nil
}

func (i *Isolation) OrphanedGenerations(ctx context.Context, tenantID string) ([]domain.AuditFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.Generations.mu.Lock()
	defer i.Generations.mu.Unlock()
	var out []domain.AuditFinding
	for _, gen := range i.Generations.rows {
		if gen.TenantID != tenantID {
			continue
		}
		boardTenant, err := i.BoardTenant(ctx, gen.BoardID)
		if err != nil || boardTenant != tenantID {
			out = append(out, domain.AuditFinding{
				Entity:   "generation",
				EntityID: gen.ID,
				Detail:   "board belongs to a different tenant",
			})
		}
	}
	return out, nil
}
