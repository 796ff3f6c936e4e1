package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-bank/meridian-bank/internal/shared"
)

// Postgres SQLSTATEs that signal the transaction lost to a concurrent
// conflicting write and should be retried as a whole.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Repository provides PostgreSQL backed persistence for accounts and their
// transaction log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateAccount opens an account with its starting balance recorded by the
// store itself.
func (r *Repository) CreateAccount(ctx context.Context, ownerID, openingBalanceMinor int64, currency string) (*Account, error) {
	acc := Account{
		OwnerID:      ownerID,
		BalanceMinor: openingBalanceMinor,
		Currency:     currency,
		CreatedAt:    time.Now().UTC(),
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO accounts (owner_id, balance_minor, currency, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, acc.OwnerID, acc.BalanceMinor, acc.Currency, acc.CreatedAt).Scan(&acc.ID)
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// GetAccount fetches one account row.
func (r *Repository) GetAccount(ctx context.Context, accountID int64) (*Account, error) {
	var acc Account
	err := r.pool.QueryRow(ctx, `SELECT id, owner_id, balance_minor, currency, created_at FROM accounts WHERE id = $1`, accountID).Scan(
		&acc.ID, &acc.OwnerID, &acc.BalanceMinor, &acc.Currency, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &acc, nil
}

// ListAccounts returns every account owned by the user.
func (r *Repository) ListAccounts(ctx context.Context, ownerID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, owner_id, balance_minor, currency, created_at FROM accounts WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var acc Account
		if err := rows.Scan(&acc.ID, &acc.OwnerID, &acc.BalanceMinor, &acc.Currency, &acc.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListTransactions returns the append-only transaction log for an account.
func (r *Repository) ListTransactions(ctx context.Context, accountID int64) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, amount_minor, description, created_at FROM transactions WHERE account_id = $1 ORDER BY id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.AmountMinor, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

// ApplyFunding runs the read-modify-write-append cycle in one transaction:
// lock and re-read the persisted balance, add the amount with exact integer
// arithmetic, write the balance, append the transaction row, then read the
// updated row back before committing so the returned balance is the stored
// value. Any failure rolls everything back; no partial mutation is visible
// and no substitute value is ever returned.
func (r *Repository) ApplyFunding(ctx context.Context, accountID, ownerID, amountMinor int64, description string) (FundingResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return FundingResult{}, mapPGError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	var owner int64
	err = tx.QueryRow(ctx, `SELECT balance_minor, owner_id FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance, &owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FundingResult{}, shared.ErrNotFound
		}
		return FundingResult{}, mapPGError(err)
	}
	if owner != ownerID {
		return FundingResult{}, shared.ErrNotFound
	}

	newBalance := balance + amountMinor
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance_minor = $1 WHERE id = $2`, newBalance, accountID); err != nil {
		return FundingResult{}, mapPGError(err)
	}

	var txID int64
	err = tx.QueryRow(ctx, `INSERT INTO transactions (account_id, amount_minor, description, created_at)
VALUES ($1, $2, $3, $4) RETURNING id`, accountID, amountMinor, description, time.Now().UTC()).Scan(&txID)
	if err != nil {
		return FundingResult{}, mapPGError(err)
	}

	// Re-read the persisted row; the caller gets what is actually stored,
	// not the sum computed above.
	var stored int64
	if err := tx.QueryRow(ctx, `SELECT balance_minor FROM accounts WHERE id = $1`, accountID).Scan(&stored); err != nil {
		return FundingResult{}, mapPGError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return FundingResult{}, mapPGError(err)
	}
	return FundingResult{NewBalanceMinor: stored, TransactionID: txID}, nil
}

func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return shared.ErrConcurrencyConflict
		}
	}
	return err
}
