package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
	"atelier/internal/lifecycle"
	"atelier/internal/middleware"
)

type createGenerationRequest struct {
	BoardID       string         `json:"board_id"`
	GeneratorName string         `json:"generator_name"`
	ProviderName  string         `json:"provider_name"`
	ArtifactType  string         `json:"artifact_type"`
	InputParams   map[string]any `json:"input_params"`
	EstimatedCost string         `json:"estimated_cost"`
}

type generationResponse struct {
	ID                 string                     `json:"id"`
	BoardID            string                     `json:"board_id"`
	UserID             string                     `json:"user_id"`
	GeneratorName      string                     `json:"generator_name"`
	ProviderName       string                     `json:"provider_name"`
	ArtifactType       domain.ArtifactType        `json:"artifact_type"`
	Status             domain.GenerationStatus    `json:"status"`
	Progress           decimal.Decimal            `json:"progress"`
	EstimatedCost      decimal.Decimal            `json:"estimated_cost"`
	StorageURL         string                     `json:"storage_url,omitempty"`
	ThumbnailURL       string                     `json:"thumbnail_url,omitempty"`
	AdditionalFiles    []domain.ArtifactReference `json:"additional_files,omitempty"`
	OutputMetadata     map[string]any             `json:"output_metadata,omitempty"`
	ParentGenerationID string                     `json:"parent_generation_id,omitempty"`
	InputGenerationIDs []string                   `json:"input_generation_ids,omitempty"`
	ErrorMessage       string                     `json:"error_message,omitempty"`
	StartedAt          *time.Time                 `json:"started_at,omitempty"`
	CompletedAt        *time.Time                 `json:"completed_at,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
}

func toGenerationResponse(g *domain.Generation) generationResponse {
	return generationResponse{
		ID:                 g.ID,
		BoardID:            g.BoardID,
		UserID:             g.UserID,
		GeneratorName:      g.GeneratorName,
		ProviderName:       g.ProviderName,
		ArtifactType:       g.ArtifactType,
		Status:             g.Status,
		Progress:           g.Progress,
		EstimatedCost:      g.EstimatedCost,
		StorageURL:         g.StorageURL,
		ThumbnailURL:       g.ThumbnailURL,
		AdditionalFiles:    g.AdditionalFiles,
		OutputMetadata:     g.OutputMetadata,
		ParentGenerationID: g.ParentGenerationID,
		InputGenerationIDs: g.InputGenerationIDs,
		ErrorMessage:       g.ErrorMessage,
		StartedAt:          g.StartedAt,
		CompletedAt:        g.CompletedAt,
		CreatedAt:          g.CreatedAt,
	}
}

func (a *App) submitRequestFromBody(w http.ResponseWriter, r *http.Request) (lifecycle.SubmitRequest, bool) {
	var body createGenerationRequest
	if !a.decode(w, r, &body) {
		return lifecycle.SubmitRequest{}, false
	}
	artifactType, err := domain.ParseArtifactType(body.ArtifactType)
	if err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return lifecycle.SubmitRequest{}, false
	}
	cost, err := decimal.NewFromString(body.EstimatedCost)
	if err != nil || !cost.IsPositive() {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "estimated_cost must be a positive decimal")
		return lifecycle.SubmitRequest{}, false
	}
	if body.BoardID == "" || body.ProviderName == "" {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "board_id and provider_name are required")
		return lifecycle.SubmitRequest{}, false
	}
	return lifecycle.SubmitRequest{
		TenantID:      middleware.TenantIDFromContext(r.Context()),
		BoardID:       body.BoardID,
		UserID:        middleware.UserIDFromContext(r.Context()),
		GeneratorName: body.GeneratorName,
		ProviderName:  body.ProviderName,
		ArtifactType:  artifactType,
		InputParams:   body.InputParams,
		EstimatedCost: cost,
	}, true
}

// CreateGeneration submits a new generation. The credit hold is placed before
// the generation exists; an insufficient balance returns 402 with no row
// created.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	req, ok := a.submitRequestFromBody(w, r)
	if !ok {
		return
	}
	gen, err := a.Lifecycle.Submit(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toGenerationResponse(gen))
}

// GetGeneration returns one generation scoped to the caller's tenant.
func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	gen, err := a.Lifecycle.Get(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toGenerationResponse(gen))
}

// ForkGeneration creates a child generation derived from an existing one.
func (a *App) ForkGeneration(w http.ResponseWriter, r *http.Request) {
	req, ok := a.submitRequestFromBody(w, r)
	if !ok {
		return
	}
	gen, err := a.Lifecycle.Fork(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toGenerationResponse(gen))
}

// CancelGeneration fails a pending or processing generation and releases its
// credit hold. Cancelling twice is a no-op.
func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := a.Lifecycle.Cancel(r.Context(), tenantID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	gen, err := a.Lifecycle.Get(r.Context(), tenantID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toGenerationResponse(gen))
}

type progressResponse struct {
	GenerationID string                  `json:"generation_id"`
	Status       domain.GenerationStatus `json:"status"`
	Progress     decimal.Decimal         `json:"progress"`
	Message      string                  `json:"message,omitempty"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// GetProgress returns the latest progress snapshot. When no snapshot was ever
// written it falls back to the generation row itself.
func (a *App) GetProgress(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	snap, err := a.Progress.Snapshot(r.Context(), tenantID, id)
	if err == nil {
		a.json(w, http.StatusOK, progressResponse{
			GenerationID: snap.GenerationID,
			Status:       snap.Status,
			Progress:     snap.Progress,
			Message:      snap.Message,
			UpdatedAt:    snap.UpdatedAt,
		})
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		a.writeError(w, r, err)
		return
	}
	gen, err := a.Lifecycle.Get(r.Context(), tenantID, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, progressResponse{
		GenerationID: gen.ID,
		Status:       gen.Status,
		Progress:     gen.Progress,
		Message:      gen.ErrorMessage,
		UpdatedAt:    gen.UpdatedAt,
	})
}

// StreamProgress serves live progress updates over server-sent events. The
// stream carries only events published after the subscription; clients read
// the snapshot endpoint first for current state.
func (a *App) StreamProgress(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	// Tenant scoping before subscribing to the channel.
	if _, err := a.Lifecycle.Get(r.Context(), tenantID, id); err != nil {
		a.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.jsonError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	events, cancel, err := a.Progress.Subscribe(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, open := <-events:
			if !open {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(payload); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ListBoardGenerations returns a board's generations, newest first. Reads are
// open to the owner, any member, and everyone in the tenant for public
// boards.
func (a *App) ListBoardGenerations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantIDFromContext(ctx)
	userID := middleware.UserIDFromContext(ctx)
	boardID := chi.URLParam(r, "id")

	board, err := a.Boards.GetByID(ctx, tenantID, boardID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !board.IsPublic && board.OwnerID != userID {
		if _, err := a.Boards.MemberRole(ctx, boardID, userID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				err = domain.ErrAccessDenied
			}
			a.writeError(w, r, err)
			return
		}
	}
	generations, err := a.Lifecycle.ListByBoard(ctx, tenantID, boardID, parseLimit(r, 50))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]generationResponse, 0, len(generations))
	for i := range generations {
		out = append(out, toGenerationResponse(&generations[i]))
	}
	a.json(w, http.StatusOK, map[string]any{"generations": out})
}
