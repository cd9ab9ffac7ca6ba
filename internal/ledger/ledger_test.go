package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"atelier/internal/adapter/memory"
	"atelier/internal/domain"
)

const (
	testTenant = "tenant-1"
	testUser   = "user-1"
)

func newTestLedger(t *testing.T, openingBalance string) *Ledger {
	t.Helper()
	credits := memory.NewCredits()
	led := New(credits, decimal.Zero, zerolog.Nop())
	if openingBalance != "" {
		if err := led.Grant(context.Background(), testTenant, testUser, decimal.RequireFromString(openingBalance), "opening balance"); err != nil {
			t.Fatalf("Grant returned error: %v", err)
		}
	}
	return led
}

func mustBalance(t *testing.T, led *Ledger) decimal.Decimal {
	t.Helper()
	balance, err := led.Balance(context.Background(), testTenant, testUser)
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	return balance
}

func assertLedgerConsistent(t *testing.T, led *Ledger) {
	t.Helper()
	entries, err := led.Transactions(context.Background(), testTenant, testUser, 0)
	if err != nil {
		t.Fatalf("Transactions returned error: %v", err)
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	if balance := mustBalance(t, led); !balance.Equal(sum) {
		t.Fatalf("balance %s does not equal transaction sum %s", balance, sum)
	}
}

func TestReserveDeductsAndRecordsHold(t *testing.T) {
	led := newTestLedger(t, "10.0000")
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("2.5000"), "gen-1"); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if balance := mustBalance(t, led); !balance.Equal(decimal.RequireFromString("7.5000")) {
		t.Fatalf("balance after reserve = %s, want 7.5000", balance)
	}

	entries, err := led.Transactions(ctx, testTenant, testUser, 1)
	if err != nil {
		t.Fatalf("Transactions returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Type != domain.TransactionReserve {
		t.Fatalf("entry type = %s, want reserve", entries[0].Type)
	}
	if !entries[0].Amount.Equal(decimal.RequireFromString("-2.5000")) {
		t.Fatalf("reserve amount = %s, want -2.5000", entries[0].Amount)
	}
	assertLedgerConsistent(t, led)
}

func TestReserveInsufficientCreditLeavesNoTrace(t *testing.T) {
	led := newTestLedger(t, "1.0000")
	ctx := context.Background()

	_, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("5.0000"), "gen-1")
	if !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("Reserve error = %v, want ErrInsufficientCredit", err)
	}
	if balance := mustBalance(t, led); !balance.Equal(decimal.RequireFromString("1.0000")) {
		t.Fatalf("balance after failed reserve = %s, want 1.0000", balance)
	}
	entries, err := led.Transactions(ctx, testTenant, testUser, 0)
	if err != nil {
		t.Fatalf("Transactions returned error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the opening grant, got %d entries", len(entries))
	}
}

func TestFinalizeRefundsUnusedReservation(t *testing.T) {
	led := newTestLedger(t, "10.0000")
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("2.5000"), "gen-1"); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := led.Finalize(ctx, testTenant, "gen-1", decimal.RequireFromString("1.8000")); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if balance := mustBalance(t, led); !balance.Equal(decimal.RequireFromString("8.2000")) {
		t.Fatalf("balance after finalize = %s, want 8.2000", balance)
	}

	entries, err := led.Transactions(ctx, testTenant, testUser, 1)
	if err != nil {
		t.Fatalf("Transactions returned error: %v", err)
	}
	if !entries[0].Amount.Equal(decimal.RequireFromString("0.7000")) {
		t.Fatalf("finalize amount = %s, want 0.7000", entries[0].Amount)
	}
	assertLedgerConsistent(t, led)
}

func TestFinalizeOverchargeGoesNegative(t *testing.T) {
	led := newTestLedger(t, "3.0000")
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("3.0000"), "gen-1"); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := led.Finalize(ctx, testTenant, "gen-1", decimal.RequireFromString("4.2500")); err != nil {
		t.Fatalf("Finalize returned error: %v", err)
	}
	if balance := mustBalance(t, led); !balance.Equal(decimal.RequireFromString("-1.2500")) {
		t.Fatalf("balance after overcharge = %s, want -1.2500", balance)
	}

	entries, err := led.Transactions(ctx, testTenant, testUser, 1)
	if err != nil {
		t.Fatalf("Transactions returned error: %v", err)
	}
	if flagged, _ := entries[0].Metadata["overcharge"].(bool); !flagged {
		t.Fatalf("overcharge entry not flagged for reconciliation: %#v", entries[0].Metadata)
	}
	assertLedgerConsistent(t, led)
}

func TestFinalizeIsIdempotentPerGeneration(t *testing.T) {
	led := newTestLedger(t, "10.0000")
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("2.0000"), "gen-1"); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := led.Finalize(ctx, testTenant, "gen-1", decimal.RequireFromString("2.0000")); err != nil {
		t.Fatalf("first Finalize returned error: %v", err)
	}
	if err := led.Finalize(ctx, testTenant, "gen-1", decimal.RequireFromString("2.0000")); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("second Finalize error = %v, want ErrDuplicateOperation", err)
	}
}

func TestRefundRoundTripRestoresBalance(t *testing.T) {
	led := newTestLedger(t, "10.0000")
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("4.7500"), "gen-1"); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := led.Refund(ctx, testTenant, "gen-1"); err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if balance := mustBalance(t, led); !balance.Equal(decimal.RequireFromString("10.0000")) {
		t.Fatalf("balance after refund = %s, want 10.0000", balance)
	}
	assertLedgerConsistent(t, led)
}

func TestRefundRejectsDoubleRelease(t *testing.T) {
	led := newTestLedger(t, "10.0000")
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("1.0000"), "gen-1"); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if err := led.Refund(ctx, testTenant, "gen-1"); err != nil {
		t.Fatalf("first Refund returned error: %v", err)
	}
	if err := led.Refund(ctx, testTenant, "gen-1"); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("second Refund error = %v, want ErrDuplicateOperation", err)
	}
	if err := led.Finalize(ctx, testTenant, "gen-1", decimal.RequireFromString("1.0000")); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("Finalize after Refund error = %v, want ErrDuplicateOperation", err)
	}
}

func TestReserveRejectsDuplicateGeneration(t *testing.T) {
	led := newTestLedger(t, "10.0000")
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("1.0000"), "gen-1"); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("1.0000"), "gen-1"); !errors.Is(err, domain.ErrDuplicateOperation) {
		t.Fatalf("duplicate Reserve error = %v, want ErrDuplicateOperation", err)
	}
}

func TestFloorAllowsConfiguredOverdraft(t *testing.T) {
	credits := memory.NewCredits()
	led := New(credits, decimal.RequireFromString("-5.0000"), zerolog.Nop())
	ctx := context.Background()

	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("4.0000"), "gen-1"); err != nil {
		t.Fatalf("Reserve within overdraft returned error: %v", err)
	}
	if _, err := led.Reserve(ctx, testTenant, testUser, decimal.RequireFromString("2.0000"), "gen-2"); !errors.Is(err, domain.ErrInsufficientCredit) {
		t.Fatalf("Reserve past overdraft error = %v, want ErrInsufficientCredit", err)
	}
}

func TestBalanceMatchesSumUnderConcurrentUsers(t *testing.T) {
	led := newTestLedger(t, "100.0000")
	ctx := context.Background()

	// A second user's traffic must not contend with or corrupt the first.
	if err := led.Grant(ctx, testTenant, "user-2", decimal.RequireFromString("50.0000"), "opening balance"); err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}

	done := make(chan error, 2)
	run := func(user string, generations []string) {
		for _, id := range generations {
			if _, err := led.Reserve(ctx, testTenant, user, decimal.RequireFromString("0.5000"), id); err != nil {
				done <- err
				return
			}
			if err := led.Refund(ctx, testTenant, id); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}
	go run(testUser, []string{"a1", "a2", "a3", "a4"})
	go run("user-2", []string{"b1", "b2", "b3", "b4"})
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent ledger traffic failed: %v", err)
		}
	}

	if balance := mustBalance(t, led); !balance.Equal(decimal.RequireFromString("100.0000")) {
		t.Fatalf("user-1 balance = %s, want 100.0000", balance)
	}
	assertLedgerConsistent(t, led)
}
