package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeExecuted struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Symbol        string          `json:"symbol"`
	Kind          string          `json:"kind"`
	Shares        int64           `json:"shares"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
