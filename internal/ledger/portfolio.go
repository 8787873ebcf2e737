package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
)

// PortfolioRow is one held position valued at the current quote. When the
// quote source cannot price the symbol, PriceAvailable is false and the row
// still lists the position with Price and MarketValue zero.
type PortfolioRow struct {
	Symbol         string
	DisplayName    string
	Shares         int64
	Price          decimal.Decimal
	MarketValue    decimal.Decimal
	PriceAvailable bool
}

// Portfolio is a valuation snapshot of one user's account. It is read-only
// and not atomic with concurrent trades; a read slightly behind an in-flight
// commit is acceptable.
type Portfolio struct {
	CashBalance   decimal.Decimal
	Rows          []PortfolioRow
	HoldingsValue decimal.Decimal // sum of the priced rows only
	TotalValue    decimal.Decimal // HoldingsValue + CashBalance
}

// GetPortfolio values every holding of the user at current quotes. A failed
// quote marks its row unpriced rather than failing the whole view.
func (e *Engine) GetPortfolio(ctx context.Context, userID string) (Portfolio, error) {
	account, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}
	holdings, err := e.store.GetHoldings(ctx, userID)
	if err != nil {
		return Portfolio{}, err
	}

	portfolio := Portfolio{
		CashBalance: account.CashBalance,
		Rows:        make([]PortfolioRow, 0, len(holdings)),
	}

	for _, holding := range holdings {
		row := PortfolioRow{
			Symbol:      holding.Symbol,
			DisplayName: holding.DisplayName,
			Shares:      holding.Shares,
		}
		if quote, err := e.lookup(ctx, holding.Symbol); err == nil {
			row.Price = quote.Price
			row.MarketValue = quote.Price.Mul(decimal.NewFromInt(holding.Shares))
			row.PriceAvailable = true
			portfolio.HoldingsValue = portfolio.HoldingsValue.Add(row.MarketValue)
		}
		portfolio.Rows = append(portfolio.Rows, row)
	}

	portfolio.TotalValue = portfolio.HoldingsValue.Add(portfolio.CashBalance)
	return portfolio, nil
}

// GetHistory returns the user's trades oldest first. A user with no trades
// gets an empty slice, not an error.
func (e *Engine) GetHistory(ctx context.Context, userID string) ([]models.Transaction, error) {
	txns, err := e.store.GetTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if txns == nil {
		txns = make([]models.Transaction, 0)
	}
	return txns, nil
}
