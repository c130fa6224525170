package ledger

import (
	"time"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/types"
)

// Account is a wallet balance owned by one external user.
type Account struct {
	paidwork.Entity

	ID id.AccountID `json:"id"`

	// Owner is the external principal this wallet belongs to, e.g. a
	// chat identifier. Unique per store.
	Owner string `json:"owner"`

	// Balance is the current balance. It is mutated only through the
	// store's atomic credit/debit/refund primitives and always satisfies
	// balance == Σcredits − Σdebits + Σrefunds ≥ 0.
	Balance types.Money `json:"balance"`
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	// EntryCredit is a top-up from a payment provider.
	EntryCredit EntryType = "credit"
	// EntryDebit is a charge for a job.
	EntryDebit EntryType = "debit"
	// EntryRefund reverses a debit after a job's terminal failure.
	EntryRefund EntryType = "refund"
)

// Entry is one immutable record in the append-only ledger history.
type Entry struct {
	ID        id.EntryID   `json:"id"`
	AccountID id.AccountID `json:"account_id"`
	Type      EntryType    `json:"type"`
	Amount    types.Money  `json:"amount"`

	// Reference ties the entry to its cause: a job ID for debits and
	// refunds, a provider transaction for credits.
	Reference string `json:"reference"`

	// IdempotencyKey and Provider are set on credits only. The pair is
	// unique per store; its existence is the authoritative
	// "already used" check.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Provider       string `json:"provider,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UsedKey records a consumed (provider, idempotency key) pair.
type UsedKey struct {
	Provider   string       `json:"provider"`
	Key        string       `json:"key"`
	ConsumedBy id.EntryID   `json:"consumed_by"`
	AccountID  id.AccountID `json:"account_id"`
	Amount     types.Money  `json:"amount"`
	CreatedAt  time.Time    `json:"created_at"`
}
