package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"atelier/internal/domain"
	"atelier/internal/lifecycle"
)

// Synthetic is a deterministic in-process adapter. It backs development
// environments and the worker's end-to-end tests without calling a paid
// provider: output bytes depend only on the generation's artifact type and
// prompt, and cost equals the estimate unless overridden.
type Synthetic struct{}

// NewSynthetic creates the synthetic adapter.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

func (s *Synthetic) Name() string { return "synthetic" }

// Generate produces a small valid artifact of the generation's type. Input
// params understood:
//
//	fail        bool   - return an error instead of a result
//	actual_cost string - settle at this cost instead of the estimate
func (s *Synthetic) Generate(ctx context.Context, exec *lifecycle.ExecutionContext) (*Result, error) {
	gen := exec.Generation()
	if fail, _ := gen.InputParams["fail"].(bool); fail {
		return nil, errors.New("synthetic: simulated provider failure")
	}
	if err := exec.SetExternalJobID(ctx, "synthetic-"+gen.ID); err != nil {
		return nil, err
	}

	for _, step := range []int64{25, 50, 75} {
		if err := exec.PublishProgress(ctx, decimal.NewFromInt(step), "synthesizing"); err != nil {
			return nil, err
		}
	}

	prompt, _ := gen.InputParams["prompt"].(string)
	var primary domain.ArtifactReference
	metadata := map[string]any{"prompt": prompt, "synthetic": true}
	switch gen.ArtifactType {
	case domain.ArtifactTypeImage:
		img, err := exec.StoreImageResult(ctx, syntheticPNG(), "image/png", 1, 1)
		if err != nil {
			return nil, err
		}
		primary = img.ArtifactReference
		metadata["width"], metadata["height"] = img.Width, img.Height
	case domain.ArtifactTypeVideo:
		vid, err := exec.StoreVideoResult(ctx, syntheticMP4(), "video/mp4", 1, 1, 0)
		if err != nil {
			return nil, err
		}
		primary = vid.ArtifactReference
	case domain.ArtifactTypeAudio:
		aud, err := exec.StoreAudioResult(ctx, syntheticWAV(), "audio/wav", 0)
		if err != nil {
			return nil, err
		}
		primary = aud.ArtifactReference
	case domain.ArtifactTypeText:
		txt, err := exec.StoreTextResult(ctx, "synthetic output for: "+prompt)
		if err != nil {
			return nil, err
		}
		primary = txt.ArtifactReference
		metadata["char_count"] = txt.CharCount
	default:
		return nil, fmt.Errorf("synthetic: unsupported artifact type %q", gen.ArtifactType)
	}

	actualCost := gen.EstimatedCost
	if raw, ok := gen.InputParams["actual_cost"].(string); ok {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("synthetic: bad actual_cost %q: %w", raw, err)
		}
		actualCost = parsed
	}
	return &Result{
		Primary:        primary,
		OutputMetadata: metadata,
		ActualCost:     actualCost,
	}, nil
}

// syntheticPNG is a 1x1 PNG, the smallest payload that sniffs as image/png.
func syntheticPNG() []byte {
	return []byte{
		0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
		0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
		0x00, 0x00, 0x00, 0x00, 'I', 'E', 'N', 'D',
		0xae, 0x42, 0x60, 0x82,
	}
}

// syntheticMP4 is an ftyp box, enough for video/mp4 sniffing.
func syntheticMP4() []byte {
	return []byte{
		0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
		'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm', 'm', 'p', '4', '1',
	}
}

// syntheticWAV is an empty RIFF/WAVE container.
func syntheticWAV() []byte {
	return []byte{
		'R', 'I', 'F', 'F', 0x24, 0x00, 0x00, 0x00,
		'W', 'A', 'V', 'E', 'f', 'm', 't', ' ',
		0x10, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
		0x44, 0xac, 0x00, 0x00, 0x88, 0x58, 0x01, 0x00,
		0x02, 0x00, 0x10, 0x00, 'd', 'a', 't', 'a',
		0x00, 0x00, 0x00, 0x00,
	}
}
