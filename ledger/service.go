package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/types"
)

// Emitter receives ledger lifecycle events. The engine package adapts
// the extension registry to this interface; the indirection keeps ledger
// free of an ext import.
type Emitter interface {
	EmitCreditRecorded(ctx context.Context, e *Entry)
	EmitRefundIssued(ctx context.Context, e *Entry)
}

// noopEmitter is used until an Emitter is wired.
type noopEmitter struct{}

func (noopEmitter) EmitCreditRecorded(context.Context, *Entry) {}
func (noopEmitter) EmitRefundIssued(context.Context, *Entry)   {}

// DefaultDenominations are the top-up packages accepted by Credit when
// no custom allow-list is configured: 25, 50, 100, 200, and 500 birr.
func DefaultDenominations() []types.Money {
	return []types.Money{
		types.ETB(2500),
		types.ETB(5000),
		types.ETB(10000),
		types.ETB(20000),
		types.ETB(50000),
	}
}

// Service provides wallet operations over a Store: idempotent credit
// with a denomination allow-list, conditional debit, and unconditional
// refund.
type Service struct {
	store   Store
	denoms  []types.Money
	emitter Emitter
	logger  *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDenominations replaces the credit allow-list.
func WithDenominations(denoms ...types.Money) ServiceOption {
	return func(s *Service) { s.denoms = denoms }
}

// WithLogger sets the structured logger for the service.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) ServiceOption {
	return func(s *Service) { s.emitter = e }
}

// NewService creates a wallet service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		denoms:  DefaultDenominations(),
		emitter: noopEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates a new account for owner with a zero balance in the given
// currency.
func (s *Service) Open(ctx context.Context, owner, currency string) (*Account, error) {
	a := &Account{
		Entity:  paidwork.NewEntity(),
		ID:      id.NewAccountID(),
		Owner:   owner,
		Balance: types.Zero(currency),
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("account opened",
		slog.String("account_id", a.ID.String()),
		slog.String("owner", owner),
	)
	return a, nil
}

// Ensure returns the account for owner, opening one if none exists yet.
func (s *Service) Ensure(ctx context.Context, owner, currency string) (*Account, error) {
	a, err := s.store.GetAccountByOwner(ctx, owner)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, paidwork.ErrAccountNotFound) {
		return nil, err
	}
	return s.Open(ctx, owner, currency)
}

// Account retrieves an account by ID.
func (s *Service) Account(ctx context.Context, accountID id.AccountID) (*Account, error) {
	return s.store.GetAccount(ctx, accountID)
}

// Credit tops up an account from a payment provider. amount must be one
// of the configured denominations (paidwork.ErrInvalidAmount otherwise).
// A (provider, key) pair that was consumed before fails with
// paidwork.ErrDuplicateIdempotencyKey and leaves the balance unchanged,
// even under concurrent replays — only one caller can win the key insert.
func (s *Service) Credit(ctx context.Context, accountID id.AccountID, amount types.Money, key, provider string) (*Entry, error) {
	if !s.allowed(amount) {
		return nil, fmt.Errorf("credit %s: %w", amount, paidwork.ErrInvalidAmount)
	}
	if key == "" || provider == "" {
		return nil, fmt.Errorf("credit: idempotency key and provider are required: %w", paidwork.ErrInvalidAmount)
	}

	e := &Entry{
		ID:             id.NewEntryID(),
		AccountID:      accountID,
		Type:           EntryCredit,
		Amount:         amount,
		Reference:      key,
		IdempotencyKey: key,
		Provider:       provider,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreditAccount(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info("credit recorded",
		slog.String("account_id", accountID.String()),
		slog.String("amount", amount.String()),
		slog.String("provider", provider),
		slog.String("key", key),
	)
	s.emitter.EmitCreditRecorded(ctx, e)
	return e, nil
}

// Debit charges an account for a job. It returns ok=false, with no
// balance change, when funds are insufficient — a normal outcome, not an
// error. The underlying update is conditional, so concurrent debits can
// never drive the balance negative.
func (s *Service) Debit(ctx context.Context, accountID id.AccountID, amount types.Money, reference string) (bool, error) {
	if !amount.IsPositive() {
		return false, fmt.Errorf("debit %s: %w", amount, paidwork.ErrInvalidAmount)
	}

	e := &Entry{
		ID:        id.NewEntryID(),
		AccountID: accountID,
		Type:      EntryDebit,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	ok, err := s.store.DebitAccount(ctx, e)
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Debug("debit declined: insufficient balance",
			slog.String("account_id", accountID.String()),
			slog.String("amount", amount.String()),
			slog.String("reference", reference),
		)
		return false, nil
	}

	s.logger.Info("debit recorded",
		slog.String("account_id", accountID.String()),
		slog.String("amount", amount.String()),
		slog.String("reference", reference),
	)
	return true, nil
}

// Refund returns a previously debited amount to an account. It always
// succeeds barring storage errors and is used by the settlement hook
// after a job's terminal failure, with the job ID as reference.
func (s *Service) Refund(ctx context.Context, accountID id.AccountID, amount types.Money, reference string) (*Entry, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("refund %s: %w", amount, paidwork.ErrInvalidAmount)
	}

	e := &Entry{
		ID:        id.NewEntryID(),
		AccountID: accountID,
		Type:      EntryRefund,
		Amount:    amount,
		Reference: reference,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.RefundAccount(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Info("refund issued",
		slog.String("account_id", accountID.String()),
		slog.String("amount", amount.String()),
		slog.String("reference", reference),
	)
	s.emitter.EmitRefundIssued(ctx, e)
	return e, nil
}

// Balance returns the current balance for an account.
func (s *Service) Balance(ctx context.Context, accountID id.AccountID) (types.Money, error) {
	return s.store.GetBalance(ctx, accountID)
}

// IsKeyUsed reports whether the (provider, key) pair has been consumed.
func (s *Service) IsKeyUsed(ctx context.Context, provider, key string) (bool, error) {
	return s.store.IsKeyUsed(ctx, provider, key)
}

// Entries returns the entry history for an account, newest first.
func (s *Service) Entries(ctx context.Context, accountID id.AccountID, opts ListOpts) ([]*Entry, error) {
	return s.store.ListEntries(ctx, accountID, opts)
}

// SetEmitter wires the lifecycle event emitter after construction
// (called by the engine package).
func (s *Service) SetEmitter(e Emitter) {
	if e != nil {
		s.emitter = e
	}
}

func (s *Service) allowed(amount types.Money) bool {
	for _, d := range s.denoms {
		if d.Equal(amount) {
			return true
		}
	}
	return false
}
