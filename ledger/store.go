package ledger

import (
	"context"

	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/types"
)

// ListOpts controls pagination for entry history queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Type filters by entry type. Empty means all types.
	Type EntryType
}

// Store defines the persistence contract for the wallet ledger.
//
// CreditAccount, DebitAccount, and RefundAccount must each be a single
// atomic storage operation (one transaction or conditional update), not
// a read-modify-write pair. This is where the balance and idempotency
// invariants live.
type Store interface {
	// CreateAccount persists a new account. Fails with
	// paidwork.ErrAccountAlreadyExists if the ID or owner is taken.
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)

	// GetAccountByOwner retrieves an account by its external owner.
	GetAccountByOwner(ctx context.Context, owner string) (*Account, error)

	// CreditAccount atomically consumes e's (Provider, IdempotencyKey)
	// pair, increments the account balance by e.Amount, and appends e.
	// If the pair was already consumed it fails with
	// paidwork.ErrDuplicateIdempotencyKey and changes nothing. The key
	// insert happens before the balance update, inside the same
	// transaction, closing the concurrent-replay race.
	CreditAccount(ctx context.Context, e *Entry) error

	// DebitAccount conditionally decrements the account balance by
	// e.Amount and appends e. Returns ok=false, with no state change,
	// when the balance is insufficient. The decrement is a single
	// compare-and-set style update.
	DebitAccount(ctx context.Context, e *Entry) (bool, error)

	// RefundAccount unconditionally increments the account balance by
	// e.Amount and appends e.
	RefundAccount(ctx context.Context, e *Entry) error

	// GetBalance returns the current balance for an account.
	GetBalance(ctx context.Context, accountID id.AccountID) (types.Money, error)

	// IsKeyUsed reports whether the (provider, key) pair has been consumed.
	IsKeyUsed(ctx context.Context, provider, key string) (bool, error)

	// ListEntries returns the entry history for an account, newest first.
	ListEntries(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Entry, error)
}
