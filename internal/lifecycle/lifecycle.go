// Package lifecycle implements the generation state machine: it is the only
// component allowed to mutate the credit ledger, and it only does so on a
// state transition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
	"atelier/internal/ledger"
	"atelier/internal/progress"
	"atelier/internal/tenantguard"
)

// Service orchestrates a generation from creation to terminal state.
type Service struct {
	generations domain.GenerationRepository
	boards      domain.BoardRepository
	ledger      *ledger.Ledger
	guard       *tenantguard.Validator
	publisher   *progress.Publisher
	logger      zerolog.Logger
}

// NewService wires the lifecycle against its collaborators.
func NewService(
	generations domain.GenerationRepository,
	boards domain.BoardRepository,
	led *ledger.Ledger,
	guard *tenantguard.Validator,
	publisher *progress.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		generations: generations,
		boards:      boards,
		ledger:      led,
		guard:       guard,
		publisher:   publisher,
		logger:      logger,
	}
}

// SubmitRequest describes a new generation.
type SubmitRequest struct {
	TenantID      string
	BoardID       string
	UserID        string
	GeneratorName string
	ProviderName  string
	ArtifactType  domain.ArtifactType
	InputParams   map[string]any
	EstimatedCost decimal.Decimal
}

// Submit validates access, reserves credit, and creates the generation in
// pending. When the reservation fails no generation row exists: reservation
// failure is a precondition failure, not a failed generation.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Generation, error) {
	return s.submit(ctx, req, nil)
}

// Fork creates a child generation whose lineage extends the parent's
// ancestor set. The child pays its own reservation through the regular
// submit path.
func (s *Service) Fork(ctx context.Context, parentGenerationID string, req SubmitRequest) (*domain.Generation, error) {
	parent, err := s.generations.GetByID(ctx, req.TenantID, parentGenerationID)
	if err != nil {
		return nil, fmt.Errorf("fork: load parent %s: %w", parentGenerationID, err)
	}
	return s.submit(ctx, req, parent)
}

func (s *Service) submit(ctx context.Context, req SubmitRequest, parent *domain.Generation) (*domain.Generation, error) {
	if err := s.guard.ValidateUser(ctx, req.TenantID, req.UserID); err != nil {
		return nil, err
	}
	if err := s.guard.ValidateBoard(ctx, req.TenantID, req.BoardID); err != nil {
		return nil, err
	}
	board, err := s.boards.GetByID(ctx, req.TenantID, req.BoardID)
	if err != nil {
		return nil, fmt.Errorf("submit: load board %s: %w", req.BoardID, err)
	}
	if err := s.checkBoardWrite(ctx, board, req.UserID); err != nil {
		return nil, err
	}

	gen := &domain.Generation{
		ID:            uuid.NewString(),
		TenantID:      req.TenantID,
		BoardID:       req.BoardID,
		UserID:        req.UserID,
		GeneratorName: req.GeneratorName,
		ProviderName:  req.ProviderName,
		ArtifactType:  req.ArtifactType,
		InputParams:   req.InputParams,
		Status:        domain.GenerationStatusPending,
		Progress:      decimal.Zero,
		EstimatedCost: req.EstimatedCost.Round(domain.CreditPlaces),
		CreatedAt:     time.Now().UTC(),
	}
	if parent != nil {
		gen.ParentGenerationID = parent.ID
		gen.InputGenerationIDs = parent.Lineage()
	}

	// Reserve before the row exists so an insufficient balance leaves no
	// trace. The id is allocated up front so the hold can reference it.
	if _, err := s.ledger.Reserve(ctx, req.TenantID, req.UserID, gen.EstimatedCost, gen.ID); err != nil {
		return nil, err
	}
	if err := s.generations.Create(ctx, gen); err != nil {
		if refundErr := s.ledger.Refund(ctx, req.TenantID, gen.ID); refundErr != nil {
			s.logger.Error().Err(refundErr).
				Str("generation_id", gen.ID).
				Msg("lifecycle: compensating refund failed, hold is stranded")
		}
		return nil, fmt.Errorf("submit: persist generation: %w", err)
	}

	s.publisher.Publish(ctx, progress.Update{
		GenerationID: gen.ID,
		TenantID:     gen.TenantID,
		Status:       gen.Status,
		Progress:     gen.Progress,
		Message:      "queued",
	})
	s.logger.Info().
		Str("generation_id", gen.ID).
		Str("board_id", gen.BoardID).
		Str("generator", gen.GeneratorName).
		Str("estimated_cost", gen.EstimatedCost.String()).
		Msg("lifecycle: generation submitted")
	return gen, nil
}

// checkBoardWrite applies the board access rules for submission: board
// owner, editor/admin member, or any tenant user on a public board.
func (s *Service) checkBoardWrite(ctx context.Context, board *domain.Board, userID string) error {
	if board.OwnerID == userID || board.IsPublic {
		return nil
	}
	role, err := s.boards.MemberRole(ctx, board.ID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("board %s: %w", board.ID, domain.ErrAccessDenied)
	}
	if err != nil {
		return err
	}
	if !role.CanWrite() {
		return fmt.Errorf("board %s: role %s: %w", board.ID, role, domain.ErrAccessDenied)
	}
	return nil
}

// Get returns a tenant-scoped generation.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*domain.Generation, error) {
	return s.generations.GetByID(ctx, tenantID, id)
}

// ListByBoard returns a board's generations, newest first.
func (s *Service) ListByBoard(ctx context.Context, tenantID, boardID string, limit int) ([]domain.Generation, error) {
	return s.generations.ListByBoard(ctx, tenantID, boardID, limit)
}

// Start moves a pending generation to processing.
func (s *Service) Start(ctx context.Context, tenantID, id string) error {
	gen, err := s.generations.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	changed, err := s.generations.MarkProcessing(ctx, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("start from %s: %w", gen.Status, domain.ErrInvalidTransition)
	}
	s.publisher.Publish(ctx, progress.Update{
		GenerationID: id,
		TenantID:     tenantID,
		Status:       domain.GenerationStatusProcessing,
		Progress:     decimal.Zero,
		Message:      "started",
	})
	return nil
}

// ReportProgress records a progress value for a processing generation.
// Progress is monotone: a decreasing value is rejected.
func (s *Service) ReportProgress(ctx context.Context, tenantID, id string, value decimal.Decimal, message string) error {
	if value.IsNegative() || value.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("progress %s out of range: %w", value, domain.ErrInvalidTransition)
	}
	gen, err := s.generations.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if gen.Status != domain.GenerationStatusProcessing {
		return fmt.Errorf("progress on %s generation: %w", gen.Status, domain.ErrInvalidTransition)
	}
	if value.LessThan(gen.Progress) {
		return fmt.Errorf("progress %s below current %s: %w", value, gen.Progress, domain.ErrInvalidTransition)
	}
	changed, err := s.generations.UpdateProgress(ctx, id, value)
	if err != nil {
		return err
	}
	if !changed {
		// Lost a race against a terminal transition; reject rather than
		// resurrect a finished generation.
		return fmt.Errorf("progress update lost to concurrent transition: %w", domain.ErrInvalidTransition)
	}
	s.publisher.Publish(ctx, progress.Update{
		GenerationID: id,
		TenantID:     tenantID,
		Status:       domain.GenerationStatusProcessing,
		Progress:     value,
		Message:      message,
	})
	return nil
}

// CompleteRequest carries a successful generation's outputs.
type CompleteRequest struct {
	Primary        domain.ArtifactReference
	Thumbnail      *domain.ArtifactReference
	Additional     []domain.ArtifactReference
	OutputMetadata map[string]any
	ActualCost     decimal.Decimal
}

// Complete moves a processing generation to completed, persists its artifact
// references, and settles the credit hold against the actual cost. An actual
// cost above the reservation never fails the generation; the provider has
// already delivered.
func (s *Service) Complete(ctx context.Context, tenantID, id string, req CompleteRequest) error {
	// A completed generation always carries a storage URL; an adapter that
	// produced nothing must fail instead.
	if req.Primary.StorageURL == "" {
		return fmt.Errorf("complete without a primary artifact: %w", domain.ErrArtifactValidation)
	}
	gen, err := s.generations.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	rec := domain.CompletionRecord{
		StorageURL:      req.Primary.StorageURL,
		AdditionalFiles: req.Additional,
		OutputMetadata:  req.OutputMetadata,
		CompletedAt:     time.Now().UTC(),
	}
	if req.Thumbnail != nil {
		rec.ThumbnailURL = req.Thumbnail.StorageURL
	}
	changed, err := s.generations.MarkCompleted(ctx, id, rec)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("complete from %s: %w", gen.Status, domain.ErrInvalidTransition)
	}
	if err := s.ledger.Finalize(ctx, tenantID, id, req.ActualCost); err != nil {
		// The generation is already completed; surface the ledger problem
		// loudly, it needs reconciliation.
		s.logger.Error().Err(err).
			Str("generation_id", id).
			Msg("lifecycle: finalize failed for completed generation")
		return err
	}
	s.publisher.Publish(ctx, progress.Update{
		GenerationID: id,
		TenantID:     tenantID,
		Status:       domain.GenerationStatusCompleted,
		Progress:     decimal.NewFromInt(100),
		Message:      "completed",
	})
	s.logger.Info().
		Str("generation_id", id).
		Str("actual_cost", req.ActualCost.String()).
		Msg("lifecycle: generation completed")
	return nil
}

// Fail moves a pending or processing generation to failed and releases the
// full credit hold. It is idempotent: failing an already-failed generation
// is a no-op, and exactly one refund entry ever exists. Fail never assumes
// the worker is alive; the reaper calls it for abandoned generations.
func (s *Service) Fail(ctx context.Context, tenantID, id, errorMessage string) error {
	gen, err := s.generations.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if gen.Status == domain.GenerationStatusCompleted {
		return fmt.Errorf("fail a completed generation: %w", domain.ErrInvalidTransition)
	}
	changed, err := s.generations.MarkFailed(ctx, id, errorMessage, time.Now().UTC())
	if err != nil {
		return err
	}
	if !changed {
		current, err := s.generations.GetByID(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if current.Status != domain.GenerationStatusFailed {
			return fmt.Errorf("fail from %s: %w", current.Status, domain.ErrInvalidTransition)
		}
		// Already failed: make sure the hold was released, then no-op. This
		// also repairs a crash between the status write and the refund.
		if err := s.refundHold(ctx, tenantID, id); err != nil {
			return err
		}
		return nil
	}
	if err := s.refundHold(ctx, tenantID, id); err != nil {
		return err
	}
	s.publisher.Publish(ctx, progress.Update{
		GenerationID: id,
		TenantID:     tenantID,
		Status:       domain.GenerationStatusFailed,
		Progress:     gen.Progress,
		Message:      errorMessage,
	})
	s.logger.Info().
		Str("generation_id", id).
		Str("error", errorMessage).
		Msg("lifecycle: generation failed")
	return nil
}

// refundHold releases the generation's reservation, treating an
// already-settled hold as success.
func (s *Service) refundHold(ctx context.Context, tenantID, id string) error {
	err := s.ledger.Refund(ctx, tenantID, id)
	if err == nil || errors.Is(err, domain.ErrDuplicateOperation) {
		return nil
	}
	return err
}

// Cancel fails the generation with the dedicated cancelled marker.
func (s *Service) Cancel(ctx context.Context, tenantID, id string) error {
	return s.Fail(ctx, tenantID, id, domain.ErrorMessageCancelled)
}

// ClaimNext atomically claims the oldest pending generation for a worker,
// performing the same pending to processing transition as Start. Returns
// ErrNotFound when the queue is empty.
func (s *Service) ClaimNext(ctx context.Context) (*domain.Generation, error) {
	gen, err := s.generations.ClaimPending(ctx)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, progress.Update{
		GenerationID: gen.ID,
		TenantID:     gen.TenantID,
		Status:       domain.GenerationStatusProcessing,
		Progress:     decimal.Zero,
		Message:      "started",
	})
	return gen, nil
}

// ReapStale fails generations stuck in processing past the deadline. The
// refund contract holds even though the original worker is gone.
func (s *Service) ReapStale(ctx context.Context, deadline time.Duration, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-deadline)
	stale, err := s.generations.ListStaleProcessing(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for i := range stale {
		gen := &stale[i]
		if err := s.Fail(ctx, gen.TenantID, gen.ID, "processing deadline exceeded"); err != nil {
			s.logger.Error().Err(err).
				Str("generation_id", gen.ID).
				Msg("lifecycle: reap failed")
			continue
		}
		reaped++
	}
	return reaped, nil
}
