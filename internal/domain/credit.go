package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionReserve  TransactionType = "reserve"
	TransactionFinalize TransactionType = "finalize"
	TransactionRefund   TransactionType = "refund"
	TransactionPurchase TransactionType = "purchase"
	TransactionGrant    TransactionType = "grant"
)

// CreditPlaces is the fixed-point scale for all credit amounts and balances.
const CreditPlaces = 4

// CreditTransaction is one append-only ledger entry. Entries are never
// updated or deleted; the current balance is the balance_after of the most
// recent entry for the user.
type CreditTransaction struct {
	ID           string
	TenantID     string
	UserID       string
	Type         TransactionType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	GenerationID string
	Description  string
	Metadata     map[string]any
	CreatedAt    time.Time
}
