package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
)

// Yahoo resolves symbols against the Yahoo Finance v8 chart endpoint.
// Quotes are cached for a short TTL so a portfolio view re-quoting the same
// symbol for every row costs one upstream call.
type Yahoo struct {
	cli   *http.Client
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote   models.Quote
	fetched time.Time
}

func NewYahoo() *Yahoo {
	return &Yahoo{
		cli:   &http.Client{Timeout: 8 * time.Second},
		ttl:   60 * time.Second,
		cache: make(map[string]cachedQuote),
	}
}

func (y *Yahoo) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = Normalize(symbol)
	if symbol == "" {
		return models.Quote{}, interfaces.ErrSymbolNotFound
	}

	y.mu.RLock()
	if c, ok := y.cache[symbol]; ok && time.Since(c.fetched) < y.ttl {
		y.mu.RUnlock()
		return c.quote, nil
	}
	y.mu.RUnlock()

	url := fmt.Sprintf("https://query2.finance.yahoo.com/v8/finance/chart/%s?interval=1m&range=1d", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Quote{}, err
	}
	req.Header.Set("User-Agent", "stock-trading-ledger/1.0")

	resp, err := y.cli.Do(req)
	if err != nil {
		return models.Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.Quote{}, interfaces.ErrSymbolNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return models.Quote{}, fmt.Errorf("yahoo http %d", resp.StatusCode)
	}

	var raw struct {
		Chart struct {
			Result []struct {
				Meta struct {
					Symbol             string  `json:"symbol"`
					ShortName          string  `json:"shortName"`
					LongName           string  `json:"longName"`
					RegularMarketPrice float64 `json:"regularMarketPrice"`
				} `json:"meta"`
			} `json:"result"`
			Error any `json:"error"`
		} `json:"chart"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Quote{}, err
	}
	if len(raw.Chart.Result) == 0 {
		return models.Quote{}, interfaces.ErrSymbolNotFound
	}

	meta := raw.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return models.Quote{}, interfaces.ErrSymbolNotFound
	}

	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}
	if name == "" {
		name = symbol
	}

	quote := models.Quote{
		Symbol:      symbol,
		DisplayName: name,
		Price:       decimal.NewFromFloat(meta.RegularMarketPrice),
	}

	y.mu.Lock()
	y.cache[symbol] = cachedQuote{quote: quote, fetched: time.Now()}
	y.mu.Unlock()

	return quote, nil
}

// Normalize maps user input to the canonical ticker form.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var _ interfaces.QuoteSource = (*Yahoo)(nil)
