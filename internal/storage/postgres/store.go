package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/stock-trading-ledger/internal/interfaces"
	"github.com/sheikh-saqib/stock-trading-ledger/internal/models"
)

// Store implements interfaces.TradingStore on PostgreSQL (see schema.sql).
// Each trade runs inside one database transaction with the account row (and
// the holding row for sells) locked FOR UPDATE, so concurrent trades for the
// same user serialize and the funds/shares checks run against the committed
// balance, not a stale read.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db: db,
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *Store) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (user_id, cash_balance, created_at)
	VALUES ($1, $2, $3)`

	_, err := s.db.ExecContext(ctx, query, account.UserID, account.CashBalance, account.CreatedAt)
	if isUniqueViolation(err) {
		return interfaces.ErrAccountExists
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, userID string) (models.Account, error) {
	const query = `SELECT user_id, cash_balance, created_at FROM accounts
	WHERE user_id = $1`

	var account models.Account
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&account.UserID,
		&account.CashBalance,
		&account.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

func (s *Store) GetHolding(ctx context.Context, userID, symbol string) (models.Holding, error) {
	const query = `SELECT h.user_id, h.company_id, c.symbol, c.display_name, h.shares
	FROM holdings h JOIN companies c ON h.company_id = c.company_id
	WHERE h.user_id = $1 AND c.symbol = $2`

	var holding models.Holding
	err := s.db.QueryRowContext(ctx, query, userID, symbol).Scan(
		&holding.UserID,
		&holding.CompanyID,
		&holding.Symbol,
		&holding.DisplayName,
		&holding.Shares,
	)
	if err == sql.ErrNoRows {
		return models.Holding{}, interfaces.ErrHoldingNotFound
	}
	if err != nil {
		return models.Holding{}, err
	}
	return holding, nil
}

func (s *Store) GetHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	const query = `SELECT h.user_id, h.company_id, c.symbol, c.display_name, h.shares
	FROM holdings h JOIN companies c ON h.company_id = c.company_id
	WHERE h.user_id = $1
	ORDER BY c.symbol`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var holding models.Holding
		err := rows.Scan(
			&holding.UserID,
			&holding.CompanyID,
			&holding.Symbol,
			&holding.DisplayName,
			&holding.Shares,
		)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, holding)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holdings, nil
}

// lockBalance reads the account's cash balance with the row locked until the
// surrounding transaction commits or rolls back.
func (s *Store) lockBalance(ctx context.Context, dbTx *sql.Tx, userID string) (decimal.Decimal, error) {
	const query = `SELECT cash_balance FROM accounts WHERE user_id = $1 FOR UPDATE`

	var balance decimal.Decimal
	err := dbTx.QueryRowContext(ctx, query, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, interfaces.ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// ensureCompany is the atomic insert-or-fetch for company rows. The no-op
// DO UPDATE makes RETURNING yield the existing row when another transaction
// already inserted the symbol, so concurrent first-time buys of the same
// symbol resolve to one company.
func (s *Store) ensureCompany(ctx context.Context, dbTx *sql.Tx, symbol, displayName string) (int64, error) {
	const query = `INSERT INTO companies (symbol, display_name)
	VALUES ($1, $2)
	ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
	RETURNING company_id`

	var companyID int64
	if err := dbTx.QueryRowContext(ctx, query, symbol, displayName).Scan(&companyID); err != nil {
		return 0, err
	}
	return companyID, nil
}

func (s *Store) appendTransaction(ctx context.Context, dbTx *sql.Tx, tx models.Transaction) error {
	const query = `INSERT INTO transactions (id, user_id, company_id, kind, shares, total_amount, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := dbTx.ExecContext(ctx, query,
		tx.ID, tx.UserID, tx.CompanyID, string(tx.Kind), tx.Shares, tx.TotalAmount, tx.CreatedAt)
	return err
}

func (s *Store) ExecuteBuy(ctx context.Context, tx models.Transaction) (decimal.Decimal, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	balance, err := s.lockBalance(ctx, dbTx, tx.UserID)
	if err != nil {
		return decimal.Zero, err
	}

	// Funds re-check under the row lock.
	if tx.TotalAmount.GreaterThan(balance) {
		err = interfaces.ErrInsufficientFunds
		return decimal.Zero, err
	}

	tx.CompanyID, err = s.ensureCompany(ctx, dbTx, tx.Symbol, tx.DisplayName)
	if err != nil {
		return decimal.Zero, err
	}

	const upsertHolding = `INSERT INTO holdings (user_id, company_id, shares)
	VALUES ($1, $2, $3)
	ON CONFLICT (user_id, company_id) DO UPDATE SET shares = holdings.shares + EXCLUDED.shares`

	if _, err = dbTx.ExecContext(ctx, upsertHolding, tx.UserID, tx.CompanyID, tx.Shares); err != nil {
		return decimal.Zero, err
	}

	const debit = `UPDATE accounts SET cash_balance = cash_balance - $2
	WHERE user_id = $1
	RETURNING cash_balance`

	var newBalance decimal.Decimal
	if err = dbTx.QueryRowContext(ctx, debit, tx.UserID, tx.TotalAmount).Scan(&newBalance); err != nil {
		return decimal.Zero, err
	}

	if err = s.appendTransaction(ctx, dbTx, tx); err != nil {
		return decimal.Zero, err
	}

	if err = dbTx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (s *Store) ExecuteSell(ctx context.Context, tx models.Transaction) (decimal.Decimal, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	// Account row first, holding row second, in every trade path, so two
	// trades for one user cannot deadlock on lock order.
	if _, err = s.lockBalance(ctx, dbTx, tx.UserID); err != nil {
		return decimal.Zero, err
	}

	const lockHolding = `SELECT h.company_id, h.shares
	FROM holdings h JOIN companies c ON h.company_id = c.company_id
	WHERE h.user_id = $1 AND c.symbol = $2
	FOR UPDATE OF h`

	var heldShares int64
	err = dbTx.QueryRowContext(ctx, lockHolding, tx.UserID, tx.Symbol).Scan(&tx.CompanyID, &heldShares)
	if err == sql.ErrNoRows {
		err = interfaces.ErrHoldingNotFound
		return decimal.Zero, err
	}
	if err != nil {
		return decimal.Zero, err
	}

	if tx.Shares > heldShares {
		err = interfaces.ErrInsufficientShares
		return decimal.Zero, err
	}

	// Selling the whole position deletes the row; shares never stores zero.
	if tx.Shares == heldShares {
		const query = `DELETE FROM holdings WHERE user_id = $1 AND company_id = $2`
		_, err = dbTx.ExecContext(ctx, query, tx.UserID, tx.CompanyID)
	} else {
		const query = `UPDATE holdings SET shares = shares - $3
		WHERE user_id = $1 AND company_id = $2`
		_, err = dbTx.ExecContext(ctx, query, tx.UserID, tx.CompanyID, tx.Shares)
	}
	if err != nil {
		return decimal.Zero, err
	}

	const credit = `UPDATE accounts SET cash_balance = cash_balance + $2
	WHERE user_id = $1
	RETURNING cash_balance`

	var newBalance decimal.Decimal
	if err = dbTx.QueryRowContext(ctx, credit, tx.UserID, tx.TotalAmount).Scan(&newBalance); err != nil {
		return decimal.Zero, err
	}

	if err = s.appendTransaction(ctx, dbTx, tx); err != nil {
		return decimal.Zero, err
	}

	if err = dbTx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

func (s *Store) GetTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	const query = `SELECT t.id, t.user_id, t.company_id, c.symbol, c.display_name,
	t.kind, t.shares, t.total_amount, t.created_at
	FROM transactions t JOIN companies c ON t.company_id = c.company_id
	WHERE t.user_id = $1
	ORDER BY t.created_at, t.seq`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txns := make([]models.Transaction, 0)
	for rows.Next() {
		var tx models.Transaction
		var kind string
		err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.CompanyID,
			&tx.Symbol,
			&tx.DisplayName,
			&kind,
			&tx.Shares,
			&tx.TotalAmount,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		tx.Kind = models.TradeKind(kind)
		txns = append(txns, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txns, nil
}

// Compile-time check: Store implements the TradingStore interface.
var _ interfaces.TradingStore = (*Store)(nil)
