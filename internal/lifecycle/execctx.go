package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
	"atelier/internal/storage"
)

// ExecutionContext is the scoped handle a provider adapter works through
// while a generation is processing. It pins the tenant, board and generation
// so the adapter cannot write artifacts or progress outside its own job.
type ExecutionContext struct {
	svc     *Service
	manager *storage.Manager
	gen     domain.Generation
}

// NewExecutionContext binds an adapter run to one claimed generation.
func (s *Service) NewExecutionContext(gen *domain.Generation, manager *storage.Manager) *ExecutionContext {
	return &ExecutionContext{svc: s, manager: manager, gen: *gen}
}

// Generation returns a copy of the generation being executed.
func (e *ExecutionContext) Generation() domain.Generation {
	return e.gen
}

// SetExternalJobID records the provider-side job identifier for later
// correlation and cancellation.
func (e *ExecutionContext) SetExternalJobID(ctx context.Context, externalJobID string) error {
	e.gen.ExternalJobID = externalJobID
	return e.svc.generations.SetExternalJobID(ctx, e.gen.ID, externalJobID)
}

// PublishProgress reports adapter progress through the regular lifecycle
// path, so monotonicity and status checks still apply.
func (e *ExecutionContext) PublishProgress(ctx context.Context, value decimal.Decimal, message string) error {
	return e.svc.ReportProgress(ctx, e.gen.TenantID, e.gen.ID, value, message)
}

// ResolveArtifact downloads a referenced input artifact to a temp file and
// returns its path. The caller owns cleanup of the returned file.
func (e *ExecutionContext) ResolveArtifact(ctx context.Context, ref domain.ArtifactReference) (string, error) {
	content, err := e.manager.Download(ctx, ref.StorageKey, ref.StorageProvider)
	if err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp("", "atelier-input-")
	if err != nil {
		return "", fmt.Errorf("resolve artifact %s: %w", ref.ArtifactID, err)
	}
	path := filepath.Join(dir, filepath.Base(ref.StorageKey))
	if err := os.WriteFile(path, content, 0o600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("resolve artifact %s: %w", ref.ArtifactID, err)
	}
	return path, nil
}

func (e *ExecutionContext) store(ctx context.Context, artifactType domain.ArtifactType, content []byte, contentType, variant string) (*domain.ArtifactReference, error) {
	return e.manager.StoreArtifact(ctx, storage.StoreRequest{
		ArtifactID:   uuid.NewString(),
		TenantID:     e.gen.TenantID,
		BoardID:      e.gen.BoardID,
		ArtifactType: artifactType,
		ContentType:  contentType,
		Content:      content,
		Variant:      variant,
	})
}

// StoreImageResult persists an image output under the generation's tenant
// and board scope.
func (e *ExecutionContext) StoreImageResult(ctx context.Context, content []byte, contentType string, width, height int) (*domain.ImageArtifact, error) {
	ref, err := e.store(ctx, domain.ArtifactTypeImage, content, contentType, "")
	if err != nil {
		return nil, err
	}
	return &domain.ImageArtifact{ArtifactReference: *ref, Width: width, Height: height}, nil
}

// StoreVideoResult persists a video output.
func (e *ExecutionContext) StoreVideoResult(ctx context.Context, content []byte, contentType string, width, height int, durationSeconds float64) (*domain.VideoArtifact, error) {
	ref, err := e.store(ctx, domain.ArtifactTypeVideo, content, contentType, "")
	if err != nil {
		return nil, err
	}
	return &domain.VideoArtifact{ArtifactReference: *ref, Width: width, Height: height, DurationSeconds: durationSeconds}, nil
}

// StoreAudioResult persists an audio output.
func (e *ExecutionContext) StoreAudioResult(ctx context.Context, content []byte, contentType string, durationSeconds float64) (*domain.AudioArtifact, error) {
	ref, err := e.store(ctx, domain.ArtifactTypeAudio, content, contentType, "")
	if err != nil {
		return nil, err
	}
	return &domain.AudioArtifact{ArtifactReference: *ref, DurationSeconds: durationSeconds}, nil
}

// StoreTextResult persists a text output.
func (e *ExecutionContext) StoreTextResult(ctx context.Context, text string) (*domain.TextArtifact, error) {
	ref, err := e.store(ctx, domain.ArtifactTypeText, []byte(text), "text/plain", "")
	if err != nil {
		return nil, err
	}
	return &domain.TextArtifact{ArtifactReference: *ref, CharCount: len([]rune(text))}, nil
}

// StoreThumbnail persists a preview variant alongside the primary output.
func (e *ExecutionContext) StoreThumbnail(ctx context.Context, content []byte, contentType string) (*domain.ArtifactReference, error) {
	return e.store(ctx, domain.ArtifactTypeImage, content, contentType, "thumbnail")
}
