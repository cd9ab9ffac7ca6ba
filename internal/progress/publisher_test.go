package progress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"atelier/internal/adapter/memory"
	"atelier/internal/domain"
)

func testUpdate(progressValue string) Update {
	return Update{
		GenerationID: "gen-1",
		TenantID:     "tenant-1",
		Status:       domain.GenerationStatusProcessing,
		Progress:     decimal.RequireFromString(progressValue),
		Message:      "rendering",
	}
}

func TestPublishDeliversToSubscriberAndSnapshot(t *testing.T) {
	broker := NewMemoryBroker()
	snapshots := memory.NewSnapshots()
	pub := NewPublisher(broker, snapshots, zerolog.Nop())
	ctx := context.Background()

	events, cancel, err := pub.Subscribe(ctx, "gen-1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer cancel()

	pub.Publish(ctx, testUpdate("40"))

	select {
	case payload := <-events:
		var got Update
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		if !got.Progress.Equal(decimal.RequireFromString("40")) {
			t.Fatalf("event progress = %s, want 40", got.Progress)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	snap, err := pub.Snapshot(ctx, "tenant-1", "gen-1")
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap.Status != domain.GenerationStatusProcessing || !snap.Progress.Equal(decimal.RequireFromString("40")) {
		t.Fatalf("snapshot = %+v, want processing/40", snap)
	}
}

func TestPublishSurvivesBrokerFailure(t *testing.T) {
	snapshots := memory.NewSnapshots()
	pub := NewPublisher(failingBroker{}, snapshots, zerolog.Nop())
	ctx := context.Background()

	pub.Publish(ctx, testUpdate("10"))

	snap, err := pub.Snapshot(ctx, "tenant-1", "gen-1")
	if err != nil {
		t.Fatalf("snapshot missing after broker failure: %v", err)
	}
	if !snap.Progress.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("snapshot progress = %s, want 10", snap.Progress)
	}
}

func TestPublishRetriesSnapshotOnce(t *testing.T) {
	snapshots := memory.NewSnapshots()
	snapshots.FailUpserts = 1
	pub := NewPublisher(nil, snapshots, zerolog.Nop())
	ctx := context.Background()

	pub.Publish(ctx, testUpdate("25"))

	snap, err := pub.Snapshot(ctx, "tenant-1", "gen-1")
	if err != nil {
		t.Fatalf("snapshot missing after single failure: %v", err)
	}
	if !snap.Progress.Equal(decimal.RequireFromString("25")) {
		t.Fatalf("snapshot progress = %s, want 25", snap.Progress)
	}
}

func TestPublishSwallowsPersistentSnapshotFailure(t *testing.T) {
	snapshots := memory.NewSnapshots()
	snapshots.FailUpserts = 2
	pub := NewPublisher(nil, snapshots, zerolog.Nop())
	ctx := context.Background()

	// Must not panic or propagate: progress is best-effort.
	pub.Publish(ctx, testUpdate("25"))

	if _, err := pub.Snapshot(ctx, "tenant-1", "gen-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Snapshot error = %v, want ErrNotFound", err)
	}
}

func TestLateJoinerMissesLiveEventsButReadsSnapshot(t *testing.T) {
	broker := NewMemoryBroker()
	snapshots := memory.NewSnapshots()
	pub := NewPublisher(broker, snapshots, zerolog.Nop())
	ctx := context.Background()

	pub.Publish(ctx, testUpdate("60"))

	// Subscribing after the fact yields no replay.
	events, cancel, err := pub.Subscribe(ctx, "gen-1")
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer cancel()
	select {
	case payload := <-events:
		t.Fatalf("unexpected replayed event: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}

	snap, err := pub.Snapshot(ctx, "tenant-1", "gen-1")
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if !snap.Progress.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("snapshot progress = %s, want 60", snap.Progress)
	}
}

type failingBroker struct{}

func (failingBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.New("broker unavailable")
}

func (failingBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	return nil, nil, errors.New("broker unavailable")
}
