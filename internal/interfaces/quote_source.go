package interfaces

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
)

// ErrSymbolNotFound means the source answered and knows no such symbol,
// as opposed to a transport failure where the source could not answer.
var ErrSymbolNotFound = errors.New("symbol not found")

// QuoteSource resolves a ticker symbol to a current price. Lookups may block
// on network I/O; implementations are expected to bound them with a timeout.
type QuoteSource interface {
	Lookup(ctx context.Context, symbol string) (models.Quote, error)
}
