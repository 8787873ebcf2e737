package models

// Holding is a user's current position in one company. A holding always has
// shares > 0; selling a position down to zero deletes the row instead of
// storing a zero.
type Holding struct {
	UserID      string
	CompanyID   int64
	Symbol      string
	DisplayName string
	Shares      int64
}
