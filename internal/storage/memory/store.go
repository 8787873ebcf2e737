package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
)

// Store is an in-memory implementation of interfaces.TradingStore, used in
// tests and for running the server without Postgres. Per-account mutexes make
// ExecuteBuy/ExecuteSell the same all-or-nothing, check-under-lock units the
// Postgres store gets from row locking.
type Store struct {
	mu        sync.Mutex // protects every map below and the company sequence
	accounts  map[string]models.Account
	companies map[string]models.Company  // keyed by symbol
	holdings  map[string]map[int64]int64 // userID -> companyID -> shares
	txns      []models.Transaction       // append-only, insertion order
	nextID    int64

	acctMuMap map[string]*sync.Mutex // one lock per account
	mapMu     sync.Mutex             // protects acctMuMap itself
}

func NewStore() *Store {
	return &Store{
		accounts:  make(map[string]models.Account),
		companies: make(map[string]models.Company),
		holdings:  make(map[string]map[int64]int64),
		acctMuMap: make(map[string]*sync.Mutex),
	}
}

// accountLock returns the mutex serializing trades for one account,
// creating it on first use.
func (s *Store) accountLock(userID string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()

	if _, exists := s.acctMuMap[userID]; !exists {
		s.acctMuMap[userID] = &sync.Mutex{}
	}
	return s.acctMuMap[userID]
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.UserID]; exists {
		return interfaces.ErrAccountExists
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	s.accounts[account.UserID] = account
	return nil
}

func (s *Store) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[userID]
	if !exists {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	return account, nil
}

func (s *Store) GetHolding(ctx context.Context, userID, symbol string) (models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getHoldingLocked(userID, symbol)
}

func (s *Store) getHoldingLocked(userID, symbol string) (models.Holding, error) {
	company, exists := s.companies[symbol]
	if !exists {
		return models.Holding{}, interfaces.ErrHoldingNotFound
	}
	shares := s.holdings[userID][company.ID]
	if shares == 0 {
		return models.Holding{}, interfaces.ErrHoldingNotFound
	}
	return models.Holding{
		UserID:      userID,
		CompanyID:   company.ID,
		Symbol:      company.Symbol,
		DisplayName: company.DisplayName,
		Shares:      shares,
	}, nil
}

func (s *Store) GetHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []models.Holding
	for _, company := range s.companies {
		if shares := s.holdings[userID][company.ID]; shares > 0 {
			result = append(result, models.Holding{
				UserID:      userID,
				CompanyID:   company.ID,
				Symbol:      company.Symbol,
				DisplayName: company.DisplayName,
				Shares:      shares,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

// ensureCompanyLocked is the insert-if-absent for company rows. Callers hold
// s.mu, so two first-time buys of the same symbol cannot create duplicates.
func (s *Store) ensureCompanyLocked(symbol, displayName string) models.Company {
	if company, exists := s.companies[symbol]; exists {
		return company
	}
	s.nextID++
	company := models.Company{ID: s.nextID, Symbol: symbol, DisplayName: displayName}
	s.companies[symbol] = company
	return company
}

func (s *Store) ExecuteBuy(ctx context.Context, tx models.Transaction) (decimal.Decimal, error) {
	acctMu := s.accountLock(tx.UserID)
	acctMu.Lock()
	defer acctMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[tx.UserID]
	if !exists {
		return decimal.Zero, interfaces.ErrAccountNotFound
	}

	// Funds re-check under the account lock; the engine's earlier check may
	// have raced another trade.
	if tx.TotalAmount.GreaterThan(account.CashBalance) {
		return decimal.Zero, interfaces.ErrInsufficientFunds
	}

	company := s.ensureCompanyLocked(tx.Symbol, tx.DisplayName)
	if s.holdings[tx.UserID] == nil {
		s.holdings[tx.UserID] = make(map[int64]int64)
	}
	s.holdings[tx.UserID][company.ID] += tx.Shares

	account.CashBalance = account.CashBalance.Sub(tx.TotalAmount)
	s.accounts[tx.UserID] = account

	tx.CompanyID = company.ID
	tx.DisplayName = company.DisplayName
	s.txns = append(s.txns, tx)

	return account.CashBalance, nil
}

func (s *Store) ExecuteSell(ctx context.Context, tx models.Transaction) (decimal.Decimal, error) {
	acctMu := s.accountLock(tx.UserID)
	acctMu.Lock()
	defer acctMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	account, exists := s.accounts[tx.UserID]
	if !exists {
		return decimal.Zero, interfaces.ErrAccountNotFound
	}

	holding, err := s.getHoldingLocked(tx.UserID, tx.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if tx.Shares > holding.Shares {
		return decimal.Zero, interfaces.ErrInsufficientShares
	}

	// Selling the whole position deletes the row; a holding never stores zero.
	if tx.Shares == holding.Shares {
		delete(s.holdings[tx.UserID], holding.CompanyID)
	} else {
		s.holdings[tx.UserID][holding.CompanyID] -= tx.Shares
	}

	account.CashBalance = account.CashBalance.Add(tx.TotalAmount)
	s.accounts[tx.UserID] = account

	tx.CompanyID = holding.CompanyID
	tx.DisplayName = holding.DisplayName
	s.txns = append(s.txns, tx)

	return account.CashBalance, nil
}

func (s *Store) GetTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]models.Transaction, 0)
	for _, tx := range s.txns {
		if tx.UserID == userID {
			result = append(result, tx)
		}
	}
	// txns is already in insertion order, which breaks timestamp ties.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// Compile-time check: Store implements the TradingStore interface.
var _ interfaces.TradingStore = (*Store)(nil)
