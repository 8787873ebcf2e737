package quotes

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
)

// Static serves quotes from a fixed in-memory table. It backs the tests and
// lets the server run without touching the network.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

func NewStatic() *Static {
	return &Static{quotes: make(map[string]models.Quote)}
}

// Set adds or replaces the quote for a symbol.
func (s *Static) Set(symbol, displayName string, price decimal.Decimal) {
	symbol = Normalize(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[symbol] = models.Quote{Symbol: symbol, DisplayName: displayName, Price: price}
}

// Remove forgets a symbol, so later lookups report it as unknown.
func (s *Static) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, Normalize(symbol))
}

func (s *Static) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quote, ok := s.quotes[Normalize(symbol)]
	if !ok {
		return models.Quote{}, interfaces.ErrSymbolNotFound
	}
	return quote, nil
}

var _ interfaces.QuoteSource = (*Static)(nil)
