package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ArtifactType enumerates the kinds of output a generation can produce.
type ArtifactType string

const (
	ArtifactTypeImage ArtifactType = "image"
	ArtifactTypeVideo ArtifactType = "video"
	ArtifactTypeAudio ArtifactType = "audio"
	ArtifactTypeText  ArtifactType = "text"
)

// ParseArtifactType validates a raw artifact type string.
func ParseArtifactType(s string) (ArtifactType, error) {
	switch t := ArtifactType(s); t {
	case ArtifactTypeImage, ArtifactTypeVideo, ArtifactTypeAudio, ArtifactTypeText:
		return t, nil
	}
	return "", fmt.Errorf("unknown artifact type %q", s)
}

// GenerationStatus enumerates generation lifecycle states.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// Terminal reports whether no transition may leave the status.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

var generationTransitions = map[GenerationStatus][]GenerationStatus{
	GenerationStatusPending:    {GenerationStatusProcessing, GenerationStatusFailed},
	GenerationStatusProcessing: {GenerationStatusCompleted, GenerationStatusFailed},
}

// CanTransition is the single authority on legal status changes. Every
// status mutation in the system goes through this table.
func CanTransition(from, to GenerationStatus) bool {
	for _, next := range generationTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrorMessageCancelled marks a failed generation that was cancelled rather
// than broken.
const ErrorMessageCancelled = "cancelled"

// Generation is one unit of paid asynchronous work.
type Generation struct {
	ID                 string
	TenantID           string
	BoardID            string
	UserID             string
	GeneratorName      string
	ProviderName       string
	ArtifactType       ArtifactType
	InputParams        map[string]any
	Status             GenerationStatus
	StorageURL         string
	ThumbnailURL       string
	AdditionalFiles    []ArtifactReference
	OutputMetadata     map[string]any
	ParentGenerationID string
	InputGenerationIDs []string
	ExternalJobID      string
	Progress           decimal.Decimal
	ErrorMessage       string
	EstimatedCost      decimal.Decimal
	StartedAt          *time.Time
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Lineage returns the ancestor set a child forked from this generation must
// carry: the generation's own ancestors plus the generation itself. The
// denormalized copy keeps lineage reads O(1) instead of walking parents.
func (g *Generation) Lineage() []string {
	out := make([]string, 0, len(g.InputGenerationIDs)+1)
	seen := make(map[string]struct{}, len(g.InputGenerationIDs)+1)
	for _, id := range g.InputGenerationIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if _, ok := seen[g.ID]; !ok {
		out = append(out, g.ID)
	}
	return out
}
