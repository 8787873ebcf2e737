package interfaces

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
)

// Sentinel errors shared by every TradingStore implementation. Anything else
// returned by a store is a storage failure.
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrHoldingNotFound    = errors.New("holding not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// TradingStore is the persistence port for the ledger engine.
//
// ExecuteBuy and ExecuteSell are the atomic units: each implementation must
// apply the holding mutation, the balance mutation and the transaction append
// together or not at all, and must re-check funds (buy) or held shares (sell)
// inside the unit so two concurrent trades for the same user cannot both pass
// a check against a stale row.
type TradingStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, userID string) (models.Account, error)

	GetHolding(ctx context.Context, userID, symbol string) (models.Holding, error)
	GetHoldings(ctx context.Context, userID string) ([]models.Holding, error)

	// ExecuteBuy creates the company row if the symbol is new (insert-if-
	// absent keyed by symbol), adds tx.Shares to the user's holding, debits
	// the account by tx.TotalAmount and appends tx. Returns the new balance.
	ExecuteBuy(ctx context.Context, tx models.Transaction) (decimal.Decimal, error)

	// ExecuteSell removes tx.Shares from the holding (deleting it when it
	// reaches zero), credits the account by tx.TotalAmount and appends tx.
	// Returns the new balance.
	ExecuteSell(ctx context.Context, tx models.Transaction) (decimal.Decimal, error)

	// GetTransactions returns the user's trades ordered by execution time
	// ascending, ties broken by insertion order. An empty history is a valid
	// empty slice, not an error.
	GetTransactions(ctx context.Context, userID string) ([]models.Transaction, error)
}
