package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meridian-bank/meridian-bank/internal/shared"
)

// RepositoryPort defines data access methods for the ledger.
type RepositoryPort interface {
	CreateAccount(ctx context.Context, ownerID, openingBalanceMinor int64, currency string) (*Account, error)
	GetAccount(ctx context.Context, accountID int64) (*Account, error)
	ListAccounts(ctx context.Context, ownerID int64) ([]Account, error)
	ListTransactions(ctx context.Context, accountID int64) ([]Transaction, error)
	ApplyFunding(ctx context.Context, accountID, ownerID, amountMinor int64, description string) (FundingResult, error)
}

// Service is the funding engine plus the cached read side.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// OpenAccount creates an account whose starting balance is recorded by the
// store itself.
func (s *Service) OpenAccount(ctx context.Context, ownerID, openingBalanceMinor int64, currency string) (*Account, error) {
	if openingBalanceMinor < 0 {
		return nil, shared.NewValidationError("opening_balance_minor", "must not be negative")
	}
	if currency == "" {
		currency = "USD"
	}
	return s.repo.CreateAccount(ctx, ownerID, openingBalanceMinor, currency)
}

// Fund applies a positive amount to the account atomically and returns the
// authoritative post-operation state. A transaction aborted by a concurrent
// conflicting write is retried once; every other store failure surfaces as
// a FundingError, never as invented data.
func (s *Service) Fund(ctx context.Context, accountID, ownerID, amountMinor int64, description string) (FundingResult, error) {
	if amountMinor <= 0 {
		return FundingResult{}, shared.NewValidationError("amount_minor", "must be positive")
	}

	result, err := s.repo.ApplyFunding(ctx, accountID, ownerID, amountMinor, description)
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		result, err = s.repo.ApplyFunding(ctx, accountID, ownerID, amountMinor, description)
	}
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return FundingResult{}, shared.NewValidationError("account_id", "unknown account")
		}
		if errors.Is(err, shared.ErrConcurrencyConflict) {
			return FundingResult{}, err
		}
		return FundingResult{}, shared.NewFundingError(err)
	}

	// Dependent balance and transaction views are stale from this point on.
	if err := s.cache.Invalidate(ctx, ScopeBalances, accountID); err != nil {
		s.logger.Error("invalidate balances view", slog.Int64("account", accountID), slog.Any("error", err))
	}
	if err := s.cache.Invalidate(ctx, ScopeTransactions, accountID); err != nil {
		s.logger.Error("invalidate transactions view", slog.Int64("account", accountID), slog.Any("error", err))
	}
	return result, nil
}

// AccountView serves the balance view through the versioned cache. Ownership
// is checked on the loaded record, not on a memoized one.
func (s *Service) AccountView(ctx context.Context, accountID, ownerID int64) (*Account, error) {
	key, err := s.cache.BuildKey(ctx, ScopeBalances, accountID)
	if err != nil {
		return nil, err
	}
	var acc Account
	err = s.cache.FetchJSON(ctx, key, &acc, func(ctx context.Context) (interface{}, error) {
		return s.repo.GetAccount(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	if acc.OwnerID != ownerID {
		return nil, shared.ErrNotFound
	}
	return &acc, nil
}

// Accounts lists the caller's accounts. The list is served uncached; only
// per-account views participate in the staleness contract.
func (s *Service) Accounts(ctx context.Context, ownerID int64) ([]Account, error) {
	return s.repo.ListAccounts(ctx, ownerID)
}

// Transactions serves the transaction-list view through the versioned cache.
func (s *Service) Transactions(ctx context.Context, accountID, ownerID int64) ([]Transaction, error) {
	acc, err := s.AccountView(ctx, accountID, ownerID)
	if err != nil {
		return nil, err
	}
	key, err := s.cache.BuildKey(ctx, ScopeTransactions, acc.ID)
	if err != nil {
		return nil, err
	}
	var txs []Transaction
	err = s.cache.FetchJSON(ctx, key, &txs, func(ctx context.Context) (interface{}, error) {
		return s.repo.ListTransactions(ctx, acc.ID)
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}
