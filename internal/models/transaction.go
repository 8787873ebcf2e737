package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeKind string

const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
)

// Transaction is one executed trade. Rows are append-only: never updated or
// deleted, so replaying a user's transactions against their starting balance
// reproduces the current cash balance.
type Transaction struct {
	ID          string // uuid
	UserID      string
	CompanyID   int64
	Symbol      string // filled from the company on reads
	DisplayName string
	Kind        TradeKind
	Shares      int64
	TotalAmount decimal.Decimal // price at execution time × shares
	CreatedAt   time.Time
}
