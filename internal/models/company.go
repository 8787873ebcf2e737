package models

// Company is a traded symbol. Created lazily on the first buy of a symbol
// and immutable afterwards; the symbol is the natural dedup key.
type Company struct {
	ID          int64
	Symbol      string // unique, upper-case ticker
	DisplayName string
}
