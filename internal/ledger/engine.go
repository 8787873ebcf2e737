package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models/events"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/quotes"
)

const tradeTopic = "trade_executed"

// Engine executes buy and sell orders against a TradingStore and a
// QuoteSource. Validation runs before the store's atomic unit, so a rejected
// request writes nothing; the store re-checks funds and held shares inside
// the unit, so two concurrent orders for one user cannot both pass a check
// against a stale balance.
type Engine struct {
	store     interfaces.TradingStore
	quotes    interfaces.QuoteSource
	publisher interfaces.EventPublisher // optional; nil disables events
}

func NewEngine(store interfaces.TradingStore, quotes interfaces.QuoteSource, publisher interfaces.EventPublisher) *Engine {
	return &Engine{
		store:     store,
		quotes:    quotes,
		publisher: publisher,
	}
}

// OpenAccount creates the account a user trades from, seeded with its
// starting cash. Registration itself (credentials, sessions) lives elsewhere.
func (e *Engine) OpenAccount(ctx context.Context, userID string, startingCash decimal.Decimal) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if startingCash.IsNegative() {
		return fmt.Errorf("starting cash must not be negative")
	}
	return e.store.CreateAccount(ctx, models.Account{
		UserID:      userID,
		CashBalance: startingCash,
		CreatedAt:   time.Now().UTC(),
	})
}

// Quote resolves a symbol to its current price.
func (e *Engine) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	quote, err := e.lookup(ctx, quotes.Normalize(symbol))
	if errors.Is(err, interfaces.ErrSymbolNotFound) {
		return models.Quote{}, ErrUnknownSymbol
	}
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	return quote, nil
}

// lookup asks the quote source, retrying once on a transport failure. Only
// the lookup is retried, never a mutation.
func (e *Engine) lookup(ctx context.Context, symbol string) (models.Quote, error) {
	quote, err := e.quotes.Lookup(ctx, symbol)
	if err != nil && !errors.Is(err, interfaces.ErrSymbolNotFound) {
		quote, err = e.quotes.Lookup(ctx, symbol)
	}
	return quote, err
}

// Buy purchases shares of symbol at the currently quoted price, debiting the
// user's cash. The holding upsert, the debit and the transaction append
// commit together or not at all. Returns the new cash balance.
func (e *Engine) Buy(ctx context.Context, userID, symbol string, shares int64) (decimal.Decimal, error) {
	if shares < 1 {
		return decimal.Zero, ErrInvalidShares
	}
	symbol = quotes.Normalize(symbol)
	if symbol == "" {
		return decimal.Zero, ErrUnknownSymbol
	}

	quote, err := e.lookup(ctx, symbol)
	if err != nil {
		// The symbol has never been verified tradable, so a source that
		// cannot answer and a source that answers "no match" reject alike.
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnknownSymbol, err)
	}

	cost := quote.Price.Mul(decimal.NewFromInt(shares))

	// Fast-fail funds check. The store repeats it under the account lock;
	// this one just spares a doomed request the atomic unit.
	account, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if cost.GreaterThan(account.CashBalance) {
		return decimal.Zero, ErrInsufficientFunds
	}

	tx := models.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		Symbol:      quote.Symbol,
		DisplayName: quote.DisplayName,
		Kind:        models.TradeBuy,
		Shares:      shares,
		TotalAmount: cost,
		CreatedAt:   time.Now().UTC(),
	}

	newBalance, err := e.store.ExecuteBuy(ctx, tx)
	if err != nil {
		return decimal.Zero, err
	}

	e.publishTrade(tx, newBalance)
	return newBalance, nil
}

// Sell disposes of shares the user holds, crediting the proceeds at the
// currently quoted price. Selling the entire position deletes the holding.
// Returns the new cash balance.
func (e *Engine) Sell(ctx context.Context, userID, symbol string, shares int64) (decimal.Decimal, error) {
	if shares < 1 {
		return decimal.Zero, ErrInvalidShares
	}
	symbol = quotes.Normalize(symbol)
	if symbol == "" {
		return decimal.Zero, ErrNoSuchHolding
	}

	holding, err := e.store.GetHolding(ctx, userID, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if shares > holding.Shares {
		return decimal.Zero, ErrInsufficientShares
	}

	quote, err := e.lookup(ctx, holding.Symbol)
	if err != nil {
		// The symbol was tradable when bought, so any lookup failure here is
		// the source being unavailable, not the symbol being unknown.
		return decimal.Zero, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}

	tx := models.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		CompanyID:   holding.CompanyID,
		Symbol:      holding.Symbol,
		DisplayName: holding.DisplayName,
		Kind:        models.TradeSell,
		Shares:      shares,
		TotalAmount: quote.Price.Mul(decimal.NewFromInt(shares)),
		CreatedAt:   time.Now().UTC(),
	}

	newBalance, err := e.store.ExecuteSell(ctx, tx)
	if err != nil {
		return decimal.Zero, err
	}

	e.publishTrade(tx, newBalance)
	return newBalance, nil
}

// publishTrade emits a trade event after the commit. Best effort: the trade
// is already durable, so a publish failure is logged and swallowed.
func (e *Engine) publishTrade(tx models.Transaction, newBalance decimal.Decimal) {
	if e.publisher == nil {
		return
	}
	event := events.TradeExecuted{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Symbol:        tx.Symbol,
		Kind:          string(tx.Kind),
		Shares:        tx.Shares,
		TotalAmount:   tx.TotalAmount,
		NewBalance:    newBalance,
		OccurredAt:    tx.CreatedAt,
	}
	if err := e.publisher.Publish(tradeTopic, event); err != nil {
		log.Printf("publish %s for tx %s: %v", tradeTopic, tx.ID, err)
	}
}
