package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	kafkaevents "github.com/sheikh-saqib/stock-trading-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/ledger"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/quotes"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/storage/postgres"
)

func main() {
	godotenv.Load()

	var store interfaces.TradingStore
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("ping postgres: %v", err)
		}
		store = postgres.NewStore(db)
		log.Println("using postgres store")
	} else {
		store = memory.NewStore()
		log.Println("DATABASE_URL not set, using in-memory store")
	}

	var source interfaces.QuoteSource
	if strings.EqualFold(os.Getenv("QUOTES"), "static") {
		static := quotes.NewStatic()
		static.Set("ACME", "Acme Corporation", decimal.NewFromFloat(50.00))
		static.Set("AAPL", "Apple Inc.", decimal.NewFromFloat(190.00))
		static.Set("MSFT", "Microsoft Corporation", decimal.NewFromFloat(410.00))
		source = static
		log.Println("using static quotes")
	} else {
		source = quotes.NewYahoo()
	}

	var publisher interfaces.EventPublisher
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kp := kafkaevents.NewPublisher(strings.Split(brokers, ","), "trade_executed")
		defer kp.Close()
		publisher = kp
		log.Println("publishing trade events to kafka")
	}

	startingCash := decimal.NewFromInt(10000)
	if raw := os.Getenv("STARTING_CASH"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			log.Fatalf("invalid STARTING_CASH %q", raw)
		}
		startingCash = parsed
	}

	engine := ledger.NewEngine(store, source, publisher)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	http.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			http.Error(w, "symbol is a mandatory field", http.StatusBadRequest)
			return
		}

		quote, err := engine.Quote(r.Context(), symbol)
		if err != nil {
			writeError(w, err)
			return
		}

		response := struct {
			Symbol      string          `json:"symbol"`
			DisplayName string          `json:"display_name"`
			Price       decimal.Decimal `json:"price"`
		}{
			Symbol:      quote.Symbol,
			DisplayName: quote.DisplayName,
			Price:       quote.Price,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	http.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			UserID       string           `json:"user_id"`
			StartingCash *decimal.Decimal `json:"starting_cash"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id is a mandatory field", http.StatusBadRequest)
			return
		}

		cash := startingCash
		if req.StartingCash != nil {
			cash = *req.StartingCash
		}

		if err := engine.OpenAccount(r.Context(), req.UserID, cash); err != nil {
			writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"account created"}`))
	})

	http.HandleFunc("/trades/buy", tradeHandler(engine.Buy))
	http.HandleFunc("/trades/sell", tradeHandler(engine.Sell))

	http.HandleFunc("/portfolio", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is a mandatory field", http.StatusBadRequest)
			return
		}

		portfolio, err := engine.GetPortfolio(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}

		type row struct {
			Symbol      string           `json:"symbol"`
			DisplayName string           `json:"display_name"`
			Shares      int64            `json:"shares"`
			Price       *decimal.Decimal `json:"price,omitempty"`
			MarketValue *decimal.Decimal `json:"market_value,omitempty"`
		}
		response := struct {
			CashBalance   decimal.Decimal `json:"cash_balance"`
			Holdings      []row           `json:"holdings"`
			HoldingsValue decimal.Decimal `json:"holdings_value"`
			TotalValue    decimal.Decimal `json:"total_value"`
		}{
			CashBalance:   portfolio.CashBalance,
			Holdings:      make([]row, 0, len(portfolio.Rows)),
			HoldingsValue: portfolio.HoldingsValue,
			TotalValue:    portfolio.TotalValue,
		}
		for _, h := range portfolio.Rows {
			out := row{Symbol: h.Symbol, DisplayName: h.DisplayName, Shares: h.Shares}
			if h.PriceAvailable {
				price, value := h.Price, h.MarketValue
				out.Price, out.MarketValue = &price, &value
			}
			response.Holdings = append(response.Holdings, out)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	http.HandleFunc("/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is a mandatory field", http.StatusBadRequest)
			return
		}

		txns, err := engine.GetHistory(r.Context(), userID)
		if err != nil {
			writeError(w, err)
			return
		}

		type row struct {
			Kind        string          `json:"kind"`
			Symbol      string          `json:"symbol"`
			DisplayName string          `json:"display_name"`
			Shares      int64           `json:"shares"`
			TotalAmount decimal.Decimal `json:"total_amount"`
			Timestamp   string          `json:"timestamp"`
		}
		response := make([]row, 0, len(txns))
		for _, tx := range txns {
			response = append(response, row{
				Kind:        string(tx.Kind),
				Symbol:      tx.Symbol,
				DisplayName: tx.DisplayName,
				Shares:      tx.Shares,
				TotalAmount: tx.TotalAmount,
				Timestamp:   tx.CreatedAt.Format(time.RFC3339),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Println("Starting server on", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// tradeHandler adapts Buy or Sell to an HTTP handler. Shares arrive as a
// string; validation is parse first, range-check second, so a non-integer
// count never reaches the quote source.
func tradeHandler(trade func(ctx context.Context, userID, symbol string, shares int64) (decimal.Decimal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			UserID string `json:"user_id"`
			Symbol string `json:"symbol"`
			Shares string `json:"shares"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id is a mandatory field", http.StatusBadRequest)
			return
		}

		shares, err := strconv.ParseInt(req.Shares, 10, 64)
		if err != nil {
			writeError(w, ledger.ErrInvalidShares)
			return
		}

		newBalance, err := trade(r.Context(), req.UserID, req.Symbol, shares)
		if err != nil {
			writeError(w, err)
			return
		}

		response := struct {
			UserID     string          `json:"user_id"`
			NewBalance decimal.Decimal `json:"new_balance"`
		}{
			UserID:     req.UserID,
			NewBalance: newBalance,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// writeError maps engine failure kinds to HTTP statuses. Storage failures
// stay generic in the response and detailed in the log.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidShares),
		errors.Is(err, ledger.ErrUnknownSymbol),
		errors.Is(err, ledger.ErrNoSuchHolding),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientShares):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrAccountExists):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ledger.ErrAccountNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrQuoteUnavailable):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		log.Printf("storage failure: %v", err)
		http.Error(w, "storage failure", http.StatusInternalServerError)
	}
}
