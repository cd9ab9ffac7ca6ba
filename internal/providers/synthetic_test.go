package providers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"atelier/internal/adapter/memory"
	"atelier/internal/domain"
	"atelier/internal/ledger"
	"atelier/internal/lifecycle"
	"atelier/internal/progress"
	"atelier/internal/storage"
	"atelier/internal/tenantguard"
)

func newHarness(t *testing.T) (*lifecycle.Service, *storage.Manager, *ledger.Ledger) {
	t.Helper()
	users := memory.NewUsers()
	boards := memory.NewBoards()
	generations := memory.NewGenerations()
	credits := memory.NewCredits()
	iso := &memory.Isolation{Users: users, Boards: boards, Generations: generations}

	led := ledger.New(credits, decimal.Zero, zerolog.Nop())
	guard := tenantguard.New(iso, domain.TenantModeMulti)
	pub := progress.NewPublisher(progress.NewMemoryBroker(), memory.NewSnapshots(), zerolog.Nop())
	svc := lifecycle.NewService(generations, boards, led, guard, pub, zerolog.Nop())

	local, err := storage.NewLocalStore(t.TempDir(), "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalStore returned error: %v", err)
	}
	manager, err := storage.NewManager(storage.Config{
		MaxArtifactSize:     1 << 20,
		AllowedContentTypes: []string{"image/png", "video/mp4", "audio/wav", "text/plain"},
		Rules:               []storage.RoutingRule{{Name: "default", Provider: storage.ProviderLocal}},
	}, []storage.Provider{local}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	ctx := context.Background()
	if _, err := users.UpsertByAuthSubject(ctx, &domain.User{ID: "user-1", TenantID: "tenant-1", AuthProvider: "google", AuthSubject: "sub-1"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := boards.Create(ctx, &domain.Board{ID: "board-1", TenantID: "tenant-1", OwnerID: "user-1"}); err != nil {
		t.Fatalf("seed board: %v", err)
	}
	if err := led.Grant(ctx, "tenant-1", "user-1", decimal.NewFromInt(10), "opening balance"); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
	return svc, manager, led
}

func runSynthetic(t *testing.T, artifactType domain.ArtifactType, params map[string]any) (*domain.Generation, *Result, error) {
	t.Helper()
	svc, manager, _ := newHarness(t)
	ctx := context.Background()

	if params == nil {
		params = map[string]any{}
	}
	params["prompt"] = "a lighthouse at dusk"
	gen, err := svc.Submit(ctx, lifecycle.SubmitRequest{
		TenantID:      "tenant-1",
		BoardID:       "board-1",
		UserID:        "user-1",
		GeneratorName: "synthetic-gen",
		ProviderName:  "synthetic",
		ArtifactType:  artifactType,
		InputParams:   params,
		EstimatedCost: decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := svc.Start(ctx, "tenant-1", gen.ID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	exec := svc.NewExecutionContext(gen, manager)
	res, err := NewSynthetic().Generate(ctx, exec)
	return gen, res, err
}

func TestSyntheticProducesEachArtifactType(t *testing.T) {
	for _, tc := range []struct {
		artifactType domain.ArtifactType
		contentType  string
	}{
		{domain.ArtifactTypeImage, "image/png"},
		{domain.ArtifactTypeVideo, "video/mp4"},
		{domain.ArtifactTypeAudio, "audio/wav"},
		{domain.ArtifactTypeText, "text/plain"},
	} {
		t.Run(string(tc.artifactType), func(t *testing.T) {
			gen, res, err := runSynthetic(t, tc.artifactType, nil)
			if err != nil {
				t.Fatalf("Generate returned error: %v", err)
			}
			if res.Primary.ContentType != tc.contentType {
				t.Fatalf("content type = %q, want %q", res.Primary.ContentType, tc.contentType)
			}
			if !strings.HasPrefix(res.Primary.StorageKey, "tenant-1/"+string(tc.artifactType)+"/board-1/") {
				t.Fatalf("storage key %q not scoped to tenant and board", res.Primary.StorageKey)
			}
			if !res.ActualCost.Equal(gen.EstimatedCost) {
				t.Fatalf("actual cost = %s, want estimate %s", res.ActualCost, gen.EstimatedCost)
			}
		})
	}
}

func TestSyntheticReportsProgressAndJobID(t *testing.T) {
	svc, manager, _ := newHarness(t)
	ctx := context.Background()

	gen, err := svc.Submit(ctx, lifecycle.SubmitRequest{
		TenantID:      "tenant-1",
		BoardID:       "board-1",
		UserID:        "user-1",
		ProviderName:  "synthetic",
		ArtifactType:  domain.ArtifactTypeText,
		InputParams:   map[string]any{"prompt": "hello"},
		EstimatedCost: decimal.NewFromInt(1),
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if err := svc.Start(ctx, "tenant-1", gen.ID); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	exec := svc.NewExecutionContext(gen, manager)
	if _, err := NewSynthetic().Generate(ctx, exec); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}

	got, err := svc.Get(ctx, "tenant-1", gen.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ExternalJobID != "synthetic-"+gen.ID {
		t.Fatalf("external job id = %q", got.ExternalJobID)
	}
	if !got.Progress.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("progress = %s, want 75", got.Progress)
	}
}

func TestSyntheticSimulatedFailure(t *testing.T) {
	_, _, err := runSynthetic(t, domain.ArtifactTypeImage, map[string]any{"fail": true})
	if err == nil {
		t.Fatal("Generate succeeded, want simulated failure")
	}
}

func TestSyntheticActualCostOverride(t *testing.T) {
	_, res, err := runSynthetic(t, domain.ArtifactTypeImage, map[string]any{"actual_cost": "1.25"})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if !res.ActualCost.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("actual cost = %s, want 1.25", res.ActualCost)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(NewSynthetic()); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if err := reg.Register(NewSynthetic()); err == nil {
		t.Fatal("duplicate Register succeeded")
	}
	if _, err := reg.Lookup("synthetic"); err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if _, err := reg.Lookup("missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Lookup error = %v, want ErrNotFound", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "synthetic" {
		t.Fatalf("Names = %v", names)
	}
}
