package ledger

import (
	"errors"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
)

// Failure kinds surfaced by the engine. Callers match them with errors.Is;
// any error not in this list is a storage failure and guarantees that no
// partial mutation was committed.
var (
	// Caller errors: rejected before any lookup or write happens.
	ErrInvalidShares = errors.New("shares must be a positive integer")

	// Business-rule rejections: no side effect.
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrNoSuchHolding      = interfaces.ErrHoldingNotFound
	ErrInsufficientFunds  = interfaces.ErrInsufficientFunds
	ErrInsufficientShares = interfaces.ErrInsufficientShares
	ErrAccountNotFound    = interfaces.ErrAccountNotFound
	ErrAccountExists      = interfaces.ErrAccountExists

	// Transient: the quote source could not answer; worth a caller retry.
	ErrQuoteUnavailable = errors.New("quote unavailable")
)
