package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"atelier/internal/domain"
)

const creditColumns = `
id, tenant_id, user_id, type, amount::text, balance_after::text,
generation_id, description, metadata, created_at`

// CreditRepositoryPG implements domain.CreditRepository over an append-only
// credit_transactions table. Writers for one user are serialized with a
// transaction-scoped advisory lock keyed on (tenant_id, user_id); different
// users never contend.
type CreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a credit repository backed by PostgreSQL.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepositoryPG {
	return &CreditRepositoryPG{pool: pool}
}

// WithUserLedger runs fn inside a transaction holding the user's ledger lock.
func (r *CreditRepositoryPG) WithUserLedger(ctx context.Context, tenantID, userID string, fn func(tx domain.LedgerTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2));`, tenantID, userID); err != nil {
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if err := fn(&ledgerTxPG{db: tx, tenantID: tenantID, userID: userID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type ledgerTxPG struct {
	db       DBTX
	tenantID string
	userID   string
}

func (t *ledgerTxPG) Balance(ctx context.Context) (decimal.Decimal, error) {
	return queryBalance(ctx, t.db, t.tenantID, t.userID)
}

func (t *ledgerTxPG) GenerationEntry(ctx context.Context, generationID string, typ domain.TransactionType) (*domain.CreditTransaction, error) {
	return queryGenerationEntry(ctx, t.db, t.tenantID, generationID, typ)
}

func (t *ledgerTxPG) Append(ctx context.Context, entry *domain.CreditTransaction) error {
	var metadata []byte
	if entry.Metadata != nil {
		var err error
		if metadata, err = json.Marshal(entry.Metadata); err != nil {
			return fmt.Errorf("marshal entry metadata: %w", err)
		}
	}
	query := `
INSERT INTO credit_transactions (id, tenant_id, user_id, type, amount, balance_after, generation_id, description, metadata)
VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9);
`
	_, err := t.db.Exec(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.UserID,
		entry.Type,
		entry.Amount.String(),
		entry.BalanceAfter.String(),
		nullableText(entry.GenerationID),
		entry.Description,
		metadata,
	)
	return err
}

// FindByGeneration returns the newest entry of the given type linked to the
// generation, or ErrNotFound.
func (r *CreditRepositoryPG) FindByGeneration(ctx context.Context, tenantID, generationID string, typ domain.TransactionType) (*domain.CreditTransaction, error) {
	return queryGenerationEntry(ctx, r.pool, tenantID, generationID, typ)
}

// Balance returns the balance_after of the user's most recent entry, zero for
// a user with no history.
func (r *CreditRepositoryPG) Balance(ctx context.Context, tenantID, userID string) (decimal.Decimal, error) {
	return queryBalance(ctx, r.pool, tenantID, userID)
}

// ListByUser returns the user's entries, newest first.
func (r *CreditRepositoryPG) ListByUser(ctx context.Context, tenantID, userID string, limit int) ([]domain.CreditTransaction, error) {
	query := `
SELECT ` + creditColumns + `
FROM credit_transactions
WHERE tenant_id = $1 AND user_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3;
`
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, query, tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CreditTransaction
	for rows.Next() {
		entry, err := scanCreditTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func queryBalance(ctx context.Context, db DBTX, tenantID, userID string) (decimal.Decimal, error) {
	query := `
SELECT balance_after::text
FROM credit_transactions
WHERE tenant_id = $1 AND user_id = $2
ORDER BY created_at DESC, id DESC
LIMIT 1;
`
	var raw string
	if err := db.QueryRow(ctx, query, tenantID, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return balance, nil
}

func queryGenerationEntry(ctx context.Context, db DBTX, tenantID, generationID string, typ domain.TransactionType) (*domain.CreditTransaction, error) {
	if generationID == "" {
		return nil, domain.ErrNotFound
	}
	query := `
SELECT ` + creditColumns + `
FROM credit_transactions
WHERE tenant_id = $1 AND generation_id = $2 AND type = $3
ORDER BY created_at DESC, id DESC
LIMIT 1;
`
	return scanCreditTransaction(db.QueryRow(ctx, query, tenantID, generationID, typ))
}

func scanCreditTransaction(row pgx.Row) (*domain.CreditTransaction, error) {
	var (
		e            domain.CreditTransaction
		amount       string
		balanceAfter string
		generationID *string
		metadata     []byte
	)
	if err := row.Scan(
		&e.ID,
		&e.TenantID,
		&e.UserID,
		&e.Type,
		&amount,
		&balanceAfter,
		&generationID,
		&e.Description,
		&metadata,
		&e.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	e.GenerationID = derefText(generationID)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal entry metadata: %w", err)
		}
	}
	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if e.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return nil, fmt.Errorf("parse balance_after: %w", err)
	}
	return &e, nil
}
