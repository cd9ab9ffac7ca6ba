package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"atelier/internal/domain"
	"atelier/internal/middleware"
)

type balanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// GetBalance returns the caller's current credit balance.
func (a *App) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantIDFromContext(ctx)
	userID := middleware.UserIDFromContext(ctx)

	balance, err := a.Ledger.Balance(ctx, tenantID, userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

type transactionResponse struct {
	ID           string                 `json:"id"`
	Type         domain.TransactionType `json:"type"`
	Amount       decimal.Decimal        `json:"amount"`
	BalanceAfter decimal.Decimal        `json:"balance_after"`
	GenerationID string                 `json:"generation_id,omitempty"`
	Description  string                 `json:"description,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ListTransactions returns the caller's ledger entries, newest first.
func (a *App) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantIDFromContext(ctx)
	userID := middleware.UserIDFromContext(ctx)

	entries, err := a.Ledger.Transactions(ctx, tenantID, userID, parseLimit(r, 50))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]transactionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, transactionResponse{
			ID:           e.ID,
			Type:         e.Type,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			GenerationID: e.GenerationID,
			Description:  e.Description,
			Metadata:     e.Metadata,
			CreatedAt:    e.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"transactions": out})
}

type grantRequest struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// GrantCredit adds administrative credit to a user in the caller's tenant.
func (a *App) GrantCredit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.TenantIDFromContext(ctx)

	var body grantRequest
	if !a.decode(w, r, &body) {
		return
	}
	if body.UserID == "" {
		body.UserID = middleware.UserIDFromContext(ctx)
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil || !amount.IsPositive() {
		a.jsonError(w, http.StatusBadRequest, "invalid_request", "amount must be a positive decimal")
		return
	}
	if err := a.Ledger.Grant(ctx, tenantID, body.UserID, amount, body.Description); err != nil {
		a.writeError(w, r, err)
		return
	}
	balance, err := a.Ledger.Balance(ctx, tenantID, body.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, balanceResponse{UserID: body.UserID, Balance: balance})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}
