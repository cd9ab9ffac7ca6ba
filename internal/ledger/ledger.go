// Package ledger implements the append-only credit ledger and the
// reserve/finalize/refund cycle around a generation's lifetime.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

// Ledger exposes credit operations over a serialized per-user transaction
// log. All amounts are fixed-point decimals with four fractional digits.
type Ledger struct {
	repo   domain.CreditRepository
	floor  decimal.Decimal
	logger zerolog.Logger
}

// New creates a Ledger. floor is the lowest balance a reservation may leave
// behind; zero unless a negative-balance policy is configured.
func New(repo domain.CreditRepository, floor decimal.Decimal, logger zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, floor: floor, logger: logger}
}

// Reserve places a credit hold for a generation. It fails with
// ErrInsufficientCredit when the hold would push the balance below the
// floor, and with ErrDuplicateOperation when the generation already holds a
// reservation. Returns the transaction id.
func (l *Ledger) Reserve(ctx context.Context, tenantID, userID string, amount decimal.Decimal, generationID string) (string, error) {
	amount = amount.Round(domain.CreditPlaces)
	if !amount.IsPositive() {
		return "", fmt.Errorf("reserve amount must be positive, got %s", amount)
	}
	entryID := uuid.NewString()
	err := l.repo.WithUserLedger(ctx, tenantID, userID, func(tx domain.LedgerTx) error {
		if _, err := tx.GenerationEntry(ctx, generationID, domain.TransactionReserve); err == nil {
			return domain.ErrDuplicateOperation
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		after := balance.Sub(amount)
		if after.LessThan(l.floor) {
			return domain.ErrInsufficientCredit
		}
		return tx.Append(ctx, &domain.CreditTransaction{
			ID:           entryID,
			TenantID:     tenantID,
			UserID:       userID,
			Type:         domain.TransactionReserve,
			Amount:       amount.Neg(),
			BalanceAfter: after,
			GenerationID: generationID,
			Description:  "credit hold for generation",
			CreatedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

// Finalize settles a generation's hold against its actual cost. A cheaper
// run refunds the difference; a costlier run appends a negative adjustment
// that may drive the balance below zero. That overcharge is flagged in the
// entry metadata for billing reconciliation and never fails the call. A
// second settle attempt for the same generation is rejected.
func (l *Ledger) Finalize(ctx context.Context, tenantID, generationID string, actualAmount decimal.Decimal) error {
	actualAmount = actualAmount.Round(domain.CreditPlaces)
	if actualAmount.IsNegative() {
		return fmt.Errorf("finalize amount must not be negative, got %s", actualAmount)
	}
	reserve, err := l.repo.FindByGeneration(ctx, tenantID, generationID, domain.TransactionReserve)
	if err != nil {
		return fmt.Errorf("finalize: locate reserve for generation %s: %w", generationID, err)
	}
	reserved := reserve.Amount.Neg()
	delta := reserved.Sub(actualAmount)

	return l.repo.WithUserLedger(ctx, tenantID, reserve.UserID, func(tx domain.LedgerTx) error {
		if err := l.ensureUnsettled(ctx, tx, generationID); err != nil {
			return err
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		after := balance.Add(delta)
		metadata := map[string]any{"reserved": reserved.String(), "actual": actualAmount.String()}
		if delta.IsNegative() {
			metadata["overcharge"] = true
			l.logger.Warn().
				Str("tenant_id", tenantID).
				Str("user_id", reserve.UserID).
				Str("generation_id", generationID).
				Str("shortfall", delta.Neg().String()).
				Msg("ledger: finalize exceeded reservation, balance may go negative")
		}
		return tx.Append(ctx, &domain.CreditTransaction{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			UserID:       reserve.UserID,
			Type:         domain.TransactionFinalize,
			Amount:       delta,
			BalanceAfter: after,
			GenerationID: generationID,
			Description:  "settle credit hold",
			Metadata:     metadata,
			CreatedAt:    time.Now().UTC(),
		})
	})
}

// Refund releases a generation's full hold, typically on failure. Idempotent
// per generation: a hold that was already settled or refunded is rejected
// with ErrDuplicateOperation rather than double-applied.
func (l *Ledger) Refund(ctx context.Context, tenantID, generationID string) error {
	reserve, err := l.repo.FindByGeneration(ctx, tenantID, generationID, domain.TransactionReserve)
	if err != nil {
		return fmt.Errorf("refund: locate reserve for generation %s: %w", generationID, err)
	}
	amount := reserve.Amount.Neg()

	return l.repo.WithUserLedger(ctx, tenantID, reserve.UserID, func(tx domain.LedgerTx) error {
		if err := l.ensureUnsettled(ctx, tx, generationID); err != nil {
			return err
		}
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		return tx.Append(ctx, &domain.CreditTransaction{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			UserID:       reserve.UserID,
			Type:         domain.TransactionRefund,
			Amount:       amount,
			BalanceAfter: balance.Add(amount),
			GenerationID: generationID,
			Description:  "release credit hold",
			CreatedAt:    time.Now().UTC(),
		})
	})
}

// ensureUnsettled rejects a settle attempt when the generation's hold has
// already been finalized or refunded.
func (l *Ledger) ensureUnsettled(ctx context.Context, tx domain.LedgerTx, generationID string) error {
	for _, typ := range []domain.TransactionType{domain.TransactionFinalize, domain.TransactionRefund} {
		if _, err := tx.GenerationEntry(ctx, generationID, typ); err == nil {
			return domain.ErrDuplicateOperation
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	return nil
}

// Grant adds administrative credit with no generation linkage.
func (l *Ledger) Grant(ctx context.Context, tenantID, userID string, amount decimal.Decimal, description string) error {
	return l.addCredit(ctx, tenantID, userID, amount, domain.TransactionGrant, description)
}

// Purchase adds purchased credit with no generation linkage.
func (l *Ledger) Purchase(ctx context.Context, tenantID, userID string, amount decimal.Decimal, description string) error {
	return l.addCredit(ctx, tenantID, userID, amount, domain.TransactionPurchase, description)
}

func (l *Ledger) addCredit(ctx context.Context, tenantID, userID string, amount decimal.Decimal, typ domain.TransactionType, description string) error {
	amount = amount.Round(domain.CreditPlaces)
	if !amount.IsPositive() {
		return fmt.Errorf("%s amount must be positive, got %s", typ, amount)
	}
	return l.repo.WithUserLedger(ctx, tenantID, userID, func(tx domain.LedgerTx) error {
		balance, err := tx.Balance(ctx)
		if err != nil {
			return err
		}
		return tx.Append(ctx, &domain.CreditTransaction{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			UserID:       userID,
			Type:         typ,
			Amount:       amount,
			BalanceAfter: balance.Add(amount),
			Description:  description,
			CreatedAt:    time.Now().UTC(),
		})
	})
}

// Balance returns the balance_after of the user's most recent entry. It
// never re-sums the log on the hot path.
func (l *Ledger) Balance(ctx context.Context, tenantID, userID string) (decimal.Decimal, error) {
	return l.repo.Balance(ctx, tenantID, userID)
}

// Transactions returns the user's most recent ledger entries.
func (l *Ledger) Transactions(ctx context.Context, tenantID, userID string, limit int) ([]domain.CreditTransaction, error) {
	return l.repo.ListByUser(ctx, tenantID, userID, limit)
}
