package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's cash balance. One row per user, created with a
// starting balance when the user registers; only trades mutate it afterwards.
type Account struct {
	UserID      string          // unique identifier for the user
	CashBalance decimal.Decimal // never negative
	CreatedAt   time.Time
}
