// Package progress fans out generation progress to live subscribers and
// persists the latest snapshot for late joiners. Both effects are
// best-effort: progress reporting never gates a lifecycle transition.
package progress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

// Update is one progress event for a generation.
type Update struct {
	GenerationID string                  `json:"generation_id"`
	TenantID     string                  `json:"tenant_id"`
	Status       domain.GenerationStatus `json:"status"`
	Progress     decimal.Decimal         `json:"progress"`
	Message      string                  `json:"message,omitempty"`
}

// Channel names the broadcast channel for one generation's updates.
func Channel(generationID string) string {
	return "generation:" + generationID + ":progress"
}

// Broker delivers transient updates at-most-once. A disconnected subscriber
// misses events published while it was away; there is no replay.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns a receive channel and a cancel function that releases
	// the subscription.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Publisher pairs the transient broadcast with durable snapshot upserts.
type Publisher struct {
	broker    Broker
	snapshots domain.ProgressSnapshotRepository
	logger    zerolog.Logger
}

// NewPublisher creates a Publisher. broker may be nil in deployments without
// a message broker; snapshots then remain the only effect.
func NewPublisher(broker Broker, snapshots domain.ProgressSnapshotRepository, logger zerolog.Logger) *Publisher {
	return &Publisher{broker: broker, snapshots: snapshots, logger: logger}
}

// Publish broadcasts the update and upserts the snapshot. Broadcast failures
// are logged and dropped; snapshot persistence is retried exactly once and
// then dropped. Publish returns nothing: callers must not fail a generation
// over progress reporting.
func (p *Publisher) Publish(ctx context.Context, update Update) {
	if p.broker != nil {
		payload, err := json.Marshal(update)
		if err == nil {
			err = p.broker.Publish(ctx, Channel(update.GenerationID), payload)
		}
		if err != nil {
			p.logger.Warn().Err(err).
				Str("generation_id", update.GenerationID).
				Msg("progress: broadcast dropped")
		}
	}

	snap := &domain.ProgressSnapshot{
		GenerationID: update.GenerationID,
		TenantID:     update.TenantID,
		Status:       update.Status,
		Progress:     update.Progress,
		Message:      update.Message,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := p.snapshots.Upsert(ctx, snap); err != nil {
		if retryErr := p.snapshots.Upsert(ctx, snap); retryErr != nil {
			p.logger.Warn().Err(retryErr).
				Str("generation_id", update.GenerationID).
				Msg("progress: snapshot dropped after retry")
		}
	}
}

// Snapshot returns the latest persisted progress for a generation.
func (p *Publisher) Snapshot(ctx context.Context, tenantID, generationID string) (*domain.ProgressSnapshot, error) {
	return p.snapshots.Get(ctx, tenantID, generationID)
}

// Subscribe attaches a live subscriber to a generation's updates.
// Subscribing to an unknown generation yields no events.
func (p *Publisher) Subscribe(ctx context.Context, generationID string) (<-chan []byte, func(), error) {
	if p.broker == nil {
		ch := make(chan []byte)
		close(ch)
		return ch, func() {}, nil
	}
	return p.broker.Subscribe(ctx, Channel(generationID))
}
