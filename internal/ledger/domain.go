package ledger

import "time"

// Account is owned by exactly one user. Balance is held in integer minor
// units (cents) so arithmetic stays exact; it is mutated only through the
// funding transaction path.
type Account struct {
	ID           int64     `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	BalanceMinor int64     `json:"balance_minor"`
	Currency     string    `json:"currency"`
	CreatedAt    time.Time `json:"created_at"`
}

// Transaction is an immutable append-only record created exactly once per
// successful funding operation, in the same atomic unit as the balance
// update. Description is opaque text and is never interpreted as markup.
type Transaction struct {
	ID          int64     `json:"id"`
	AccountID   int64     `json:"account_id"`
	AmountMinor int64     `json:"amount_minor"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// FundingResult reports the authoritative post-operation state.
// NewBalanceMinor is the value re-read from the store, never an in-memory sum.
type FundingResult struct {
	NewBalanceMinor int64 `json:"new_balance_minor"`
	TransactionID   int64 `json:"transaction_id"`
}
