package models

import "github.com/shopspring/decimal"

// Quote is the current price for one symbol as reported by a quote source.
type Quote struct {
	Symbol      string
	DisplayName string
	Price       decimal.Decimal // always positive
}
