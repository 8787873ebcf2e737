package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/quotes"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/storage/memory"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newTestEngine creates an Engine over fresh in-memory collaborators.
func newTestEngine(t *testing.T) (*Engine, *memory.Store, *quotes.Static) {
	t.Helper()
	store := memory.NewStore()
	source := quotes.NewStatic()
	source.Set("ACME", "Acme Corporation", d("50.00"))
	source.Set("WIDG", "Widget Works", d("10.00"))
	return NewEngine(store, source, nil), store, source
}

// openAccount is a helper that seeds an account with starting cash.
func openAccount(t *testing.T, e *Engine, userID, cash string) {
	t.Helper()
	if err := e.OpenAccount(context.Background(), userID, d(cash)); err != nil {
		t.Fatalf("open account %s: %v", userID, err)
	}
}

// replayBalance applies a user's history to a starting balance: buys
// subtract, sells add.
func replayBalance(t *testing.T, e *Engine, userID string, starting decimal.Decimal) decimal.Decimal {
	t.Helper()
	txns, err := e.GetHistory(context.Background(), userID)
	if err != nil {
		t.Fatalf("history for %s: %v", userID, err)
	}
	balance := starting
	for _, tx := range txns {
		switch tx.Kind {
		case models.TradeBuy:
			balance = balance.Sub(tx.TotalAmount)
		case models.TradeSell:
			balance = balance.Add(tx.TotalAmount)
		default:
			t.Fatalf("unexpected trade kind %q", tx.Kind)
		}
	}
	return balance
}

func TestBuy_DebitsBalanceAndRecordsHolding(t *testing.T) {
	e, store, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	newBalance, err := e.Buy(context.Background(), "alice", "ACME", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !newBalance.Equal(d("9500.00")) {
		t.Fatalf("balance = %s, want 9500.00", newBalance)
	}

	holding, err := store.GetHolding(context.Background(), "alice", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding.Shares != 10 {
		t.Fatalf("shares = %d, want 10", holding.Shares)
	}
	if holding.DisplayName != "Acme Corporation" {
		t.Fatalf("display name = %q", holding.DisplayName)
	}

	txns, err := e.GetHistory(context.Background(), "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("history length = %d, want 1", len(txns))
	}
	if txns[0].Kind != models.TradeBuy || !txns[0].TotalAmount.Equal(d("500.00")) {
		t.Fatalf("transaction = %+v, want buy of 500.00", txns[0])
	}
}

func TestBuy_NormalizesSymbol(t *testing.T) {
	e, store, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	if _, err := e.Buy(context.Background(), "alice", " acme ", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.GetHolding(context.Background(), "alice", "ACME"); err != nil {
		t.Fatalf("holding not stored under canonical symbol: %v", err)
	}
}

func TestBuy_InvalidShares(t *testing.T) {
	e, _, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	for _, shares := range []int64{0, -3} {
		_, err := e.Buy(context.Background(), "alice", "ACME", shares)
		if !errors.Is(err, ErrInvalidShares) {
			t.Fatalf("shares=%d: err = %v, want ErrInvalidShares", shares, err)
		}
	}

	if got := replayBalance(t, e, "alice", d("10000.00")); !got.Equal(d("10000.00")) {
		t.Fatalf("rejected buys left transactions behind, replay = %s", got)
	}
}

func TestBuy_UnknownSymbol(t *testing.T) {
	e, _, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	_, err := e.Buy(context.Background(), "alice", "NOPE", 1)
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol", err)
	}
}

func TestBuy_InsufficientFundsLeavesStateUnchanged(t *testing.T) {
	e, store, _ := newTestEngine(t)
	openAccount(t, e, "alice", "100.00")

	_, err := e.Buy(context.Background(), "alice", "ACME", 3) // 150.00 > 100.00
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}

	account, err := store.GetAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.CashBalance.Equal(d("100.00")) {
		t.Fatalf("balance = %s, want 100.00", account.CashBalance)
	}
	if _, err := store.GetHolding(context.Background(), "alice", "ACME"); !errors.Is(err, ErrNoSuchHolding) {
		t.Fatalf("holding err = %v, want ErrNoSuchHolding", err)
	}
	txns, _ := e.GetHistory(context.Background(), "alice")
	if len(txns) != 0 {
		t.Fatalf("history length = %d, want 0", len(txns))
	}
}

func TestBuy_UnknownAccount(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.Buy(context.Background(), "ghost", "ACME", 1)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestSell_PartialDecrementsHolding(t *testing.T) {
	e, store, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")
	if _, err := e.Buy(context.Background(), "alice", "ACME", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}

	newBalance, err := e.Sell(context.Background(), "alice", "ACME", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !newBalance.Equal(d("9700.00")) { // 9500 + 4×50
		t.Fatalf("balance = %s, want 9700.00", newBalance)
	}

	holding, err := store.GetHolding(context.Background(), "alice", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding.Shares != 6 {
		t.Fatalf("shares = %d, want 6", holding.Shares)
	}

	txns, _ := e.GetHistory(context.Background(), "alice")
	if len(txns) != 2 {
		t.Fatalf("history length = %d, want 2", len(txns))
	}
}

func TestSell_EntirePositionDeletesHolding(t *testing.T) {
	e, store, source := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")
	if _, err := e.Buy(context.Background(), "alice", "ACME", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Price moved between the buy and the sell.
	source.Set("ACME", "Acme Corporation", d("60.00"))

	newBalance, err := e.Sell(context.Background(), "alice", "ACME", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !newBalance.Equal(d("10100.00")) { // 9500 + 10×60
		t.Fatalf("balance = %s, want 10100.00", newBalance)
	}

	if _, err := store.GetHolding(context.Background(), "alice", "ACME"); !errors.Is(err, ErrNoSuchHolding) {
		t.Fatalf("holding err = %v, want ErrNoSuchHolding after full sell", err)
	}

	txns, _ := e.GetHistory(context.Background(), "alice")
	if len(txns) != 2 {
		t.Fatalf("history length = %d, want 2", len(txns))
	}
	last := txns[len(txns)-1]
	if last.Kind != models.TradeSell || !last.TotalAmount.Equal(d("600.00")) {
		t.Fatalf("last transaction = %+v, want sell of 600.00", last)
	}
}

func TestSell_InsufficientSharesLeavesStateUnchanged(t *testing.T) {
	e, store, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")
	if _, err := e.Buy(context.Background(), "alice", "ACME", 5); err != nil {
		t.Fatalf("buy: %v", err)
	}

	_, err := e.Sell(context.Background(), "alice", "ACME", 6)
	if !errors.Is(err, ErrInsufficientShares) {
		t.Fatalf("err = %v, want ErrInsufficientShares", err)
	}

	holding, err := store.GetHolding(context.Background(), "alice", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding.Shares != 5 {
		t.Fatalf("shares = %d, want 5", holding.Shares)
	}
	account, _ := store.GetAccount(context.Background(), "alice")
	if !account.CashBalance.Equal(d("9750.00")) {
		t.Fatalf("balance = %s, want 9750.00", account.CashBalance)
	}
}

func TestSell_NoSuchHolding(t *testing.T) {
	e, _, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	_, err := e.Sell(context.Background(), "alice", "ACME", 1)
	if !errors.Is(err, ErrNoSuchHolding) {
		t.Fatalf("err = %v, want ErrNoSuchHolding", err)
	}
}

func TestSell_QuoteUnavailable(t *testing.T) {
	e, store, source := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")
	if _, err := e.Buy(context.Background(), "alice", "ACME", 5); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// The symbol was tradable at buy time; the source losing it is a
	// transient failure, not an unknown symbol.
	source.Remove("ACME")

	_, err := e.Sell(context.Background(), "alice", "ACME", 5)
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}

	holding, err := store.GetHolding(context.Background(), "alice", "ACME")
	if err != nil || holding.Shares != 5 {
		t.Fatalf("holding after failed sell = %+v, %v; want 5 shares intact", holding, err)
	}
}

func TestHistory_EmptyIsNotAnError(t *testing.T) {
	e, _, _ := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	txns, err := e.GetHistory(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txns == nil || len(txns) != 0 {
		t.Fatalf("history = %v, want empty slice", txns)
	}
}

func TestHistory_ReplayMatchesBalance(t *testing.T) {
	e, store, source := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	ctx := context.Background()
	steps := []struct {
		sell   bool
		symbol string
		shares int64
		price  string
	}{
		{false, "ACME", 10, "50.00"},
		{false, "WIDG", 20, "10.00"},
		{true, "ACME", 4, "55.50"},
		{false, "ACME", 2, "48.25"},
		{true, "WIDG", 20, "9.75"},
		{true, "ACME", 8, "61.00"},
	}
	for i, step := range steps {
		source.Set(step.symbol, step.symbol, d(step.price))
		var err error
		if step.sell {
			_, err = e.Sell(ctx, "alice", step.symbol, step.shares)
		} else {
			_, err = e.Buy(ctx, "alice", step.symbol, step.shares)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	account, err := store.GetAccount(ctx, "alice")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	replayed := replayBalance(t, e, "alice", d("10000.00"))
	if !replayed.Equal(account.CashBalance) {
		t.Fatalf("replayed balance %s != stored balance %s", replayed, account.CashBalance)
	}
	if account.CashBalance.IsNegative() {
		t.Fatalf("balance went negative: %s", account.CashBalance)
	}
}

func TestPortfolio_ValuesHoldingsAndMarksUnpriced(t *testing.T) {
	e, _, source := newTestEngine(t)
	openAccount(t, e, "alice", "10000.00")

	ctx := context.Background()
	if _, err := e.Buy(ctx, "alice", "ACME", 10); err != nil {
		t.Fatalf("buy ACME: %v", err)
	}
	if _, err := e.Buy(ctx, "alice", "WIDG", 5); err != nil {
		t.Fatalf("buy WIDG: %v", err)
	}

	// WIDG can no longer be priced; its row must survive unpriced.
	source.Remove("WIDG")

	portfolio, err := e.GetPortfolio(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !portfolio.CashBalance.Equal(d("9450.00")) { // 10000 − 500 − 50
		t.Fatalf("cash = %s, want 9450.00", portfolio.CashBalance)
	}
	if len(portfolio.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(portfolio.Rows))
	}

	bySymbol := make(map[string]PortfolioRow)
	for _, row := range portfolio.Rows {
		bySymbol[row.Symbol] = row
	}
	acme := bySymbol["ACME"]
	if !acme.PriceAvailable || !acme.MarketValue.Equal(d("500.00")) {
		t.Fatalf("ACME row = %+v, want priced at 500.00", acme)
	}
	widg := bySymbol["WIDG"]
	if widg.PriceAvailable || widg.Shares != 5 {
		t.Fatalf("WIDG row = %+v, want 5 unpriced shares", widg)
	}

	if !portfolio.HoldingsValue.Equal(d("500.00")) {
		t.Fatalf("holdings value = %s, want 500.00", portfolio.HoldingsValue)
	}
	if !portfolio.TotalValue.Equal(d("9950.00")) {
		t.Fatalf("total value = %s, want 9950.00", portfolio.TotalValue)
	}
}

func TestConcurrentBuys_NoOverdraft(t *testing.T) {
	e, store, source := newTestEngine(t)
	openAccount(t, e, "alice", "1000.00")
	source.Set("ACME", "Acme Corporation", d("200.00"))

	// Ten racing buys of 200.00 against 1000.00: at most five may commit.
	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Buy(context.Background(), "alice", "ACME", 1)
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
		} else if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if committed > 5 {
		t.Fatalf("%d buys committed, balance overdrawn", committed)
	}

	account, err := store.GetAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if account.CashBalance.IsNegative() {
		t.Fatalf("balance overdrawn: %s", account.CashBalance)
	}
	spent := d("200.00").Mul(decimal.NewFromInt(int64(committed)))
	if !account.CashBalance.Add(spent).Equal(d("1000.00")) {
		t.Fatalf("balance %s + spent %s != 1000.00", account.CashBalance, spent)
	}
	if got := replayBalance(t, e, "alice", d("1000.00")); !got.Equal(account.CashBalance) {
		t.Fatalf("replayed %s != stored %s", got, account.CashBalance)
	}
}

// recordingPublisher captures published events and optionally fails.
type recordingPublisher struct {
	events []any
	fail   bool
}

func (p *recordingPublisher) Publish(topic string, event any) error {
	if p.fail {
		return fmt.Errorf("broker down")
	}
	p.events = append(p.events, event)
	return nil
}

func TestTrades_PublishEventsAfterCommit(t *testing.T) {
	store := memory.NewStore()
	source := quotes.NewStatic()
	source.Set("ACME", "Acme Corporation", d("50.00"))
	pub := &recordingPublisher{}
	e := NewEngine(store, source, pub)
	openAccount(t, e, "alice", "10000.00")

	ctx := context.Background()
	if _, err := e.Buy(ctx, "alice", "ACME", 10); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := e.Sell(ctx, "alice", "ACME", 10); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}

	// A rejected trade publishes nothing.
	if _, err := e.Buy(ctx, "alice", "ACME", 0); !errors.Is(err, ErrInvalidShares) {
		t.Fatalf("err = %v, want ErrInvalidShares", err)
	}
	if len(pub.events) != 2 {
		t.Fatalf("rejected trade published an event")
	}

	// A failing broker never fails the trade itself.
	pub.fail = true
	if _, err := e.Buy(ctx, "alice", "ACME", 1); err != nil {
		t.Fatalf("buy must survive a publish failure: %v", err)
	}
}

// flakySource fails a fixed number of lookups with a transport error before
// delegating to the real source.
type flakySource struct {
	inner     interfaces.QuoteSource
	failures  int
	attempted int
}

func (f *flakySource) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	f.attempted++
	if f.failures > 0 {
		f.failures--
		return models.Quote{}, fmt.Errorf("connection reset")
	}
	return f.inner.Lookup(ctx, symbol)
}

func TestBuy_RetriesQuoteLookupOnce(t *testing.T) {
	store := memory.NewStore()
	static := quotes.NewStatic()
	static.Set("ACME", "Acme Corporation", d("50.00"))
	flaky := &flakySource{inner: static, failures: 1}
	e := NewEngine(store, flaky, nil)
	openAccount(t, e, "alice", "10000.00")

	if _, err := e.Buy(context.Background(), "alice", "ACME", 1); err != nil {
		t.Fatalf("buy should survive one transient lookup failure: %v", err)
	}
	if flaky.attempted != 2 {
		t.Fatalf("lookup attempts = %d, want 2", flaky.attempted)
	}

	// Two consecutive failures exhaust the single retry.
	flaky.failures = 2
	if _, err := e.Buy(context.Background(), "alice", "ACME", 1); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("err = %v, want ErrUnknownSymbol after exhausted retry", err)
	}
}
