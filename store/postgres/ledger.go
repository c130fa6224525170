package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/ledger"
	"github.com/robelmit/paidwork/types"
)

const accountColumns = `id, owner, balance_amount, balance_currency, created_at, updated_at`

const entryColumns = `id, account_id, type, amount, currency, reference,
	idempotency_key, provider, created_at`

// CreateAccount persists a new account.
func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO paidwork_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID.String(), a.Owner, a.Balance.Amount, a.Balance.Currency,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return paidwork.ErrAccountAlreadyExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*ledger.Account, error) {
	return s.getAccount(ctx,
		`SELECT `+accountColumns+` FROM paidwork_accounts WHERE id = $1`,
		accountID.String())
}

// GetAccountByOwner retrieves an account by its external owner.
func (s *Store) GetAccountByOwner(ctx context.Context, owner string) (*ledger.Account, error) {
	return s.getAccount(ctx,
		`SELECT `+accountColumns+` FROM paidwork_accounts WHERE owner = $1`,
		owner)
}

func (s *Store) getAccount(ctx context.Context, query string, arg any) (*ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, paidwork.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// CreditAccount consumes the (provider, key) pair, increments the
// balance, and appends the entry, all in one transaction. The key
// insert runs first, so concurrent replays of the same key see exactly
// one winner and a duplicate leaves everything untouched.
func (s *Store) CreditAccount(ctx context.Context, e *ledger.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	_, err = tx.Exec(ctx, `
		INSERT INTO paidwork_used_keys (provider, key, consumed_by, account_id, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.Provider, e.IdempotencyKey, e.ID.String(), e.AccountID.String(),
		e.Amount.Amount, e.Amount.Currency)
	if err != nil {
		if isDuplicateKey(err) {
			return paidwork.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("consume idempotency key: %w", err)
	}

	if err := s.adjustBalance(ctx, tx, e.AccountID, e.Amount, +1, "credit"); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DebitAccount conditionally decrements the balance and appends the
// entry. The decrement and the sufficiency check are one UPDATE, so
// concurrent debits can never overdraw the account.
func (s *Store) DebitAccount(ctx context.Context, e *ledger.Entry) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("debit account: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	tag, err := tx.Exec(ctx, `
		UPDATE paidwork_accounts
		SET balance_amount = balance_amount - $2, updated_at = now()
		WHERE id = $1 AND balance_currency = $3 AND balance_amount >= $2`,
		e.AccountID.String(), e.Amount.Amount, e.Amount.Currency)
	if err != nil {
		return false, fmt.Errorf("debit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a declined debit from a bad account or currency.
		if err := s.checkAccountCurrency(ctx, e.AccountID, e.Amount, "debit"); err != nil {
			return false, err
		}
		return false, nil
	}

	if err := insertEntry(ctx, tx, e); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// RefundAccount unconditionally increments the balance and appends the
// entry.
func (s *Store) RefundAccount(ctx context.Context, e *ledger.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("refund account: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := s.adjustBalance(ctx, tx, e.AccountID, e.Amount, +1, "refund"); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetBalance returns the current balance for an account.
func (s *Store) GetBalance(ctx context.Context, accountID id.AccountID) (types.Money, error) {
	var m types.Money
	err := s.pool.QueryRow(ctx,
		`SELECT balance_amount, balance_currency FROM paidwork_accounts WHERE id = $1`,
		accountID.String()).Scan(&m.Amount, &m.Currency)
	if err != nil {
		if isNoRows(err) {
			return types.Money{}, paidwork.ErrAccountNotFound
		}
		return types.Money{}, fmt.Errorf("get balance: %w", err)
	}
	return m, nil
}

// IsKeyUsed reports whether the (provider, key) pair has been consumed.
func (s *Store) IsKeyUsed(ctx context.Context, provider, key string) (bool, error) {
	var used bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM paidwork_used_keys WHERE provider = $1 AND key = $2)`,
		provider, key).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("is key used: %w", err)
	}
	return used, nil
}

// ListEntries returns the entry history for an account, newest first.
func (s *Store) ListEntries(ctx context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	// An unknown account is an error, not an empty history.
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + entryColumns + ` FROM paidwork_entries WHERE account_id = $1`)
	args := []any{accountID.String()}

	if opts.Type != "" {
		args = append(args, string(opts.Type))
		fmt.Fprintf(&sb, " AND type = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// adjustBalance increments the balance by sign*amount inside tx,
// mapping a zero-row update to the right account or currency error.
func (s *Store) adjustBalance(ctx context.Context, tx pgx.Tx, accountID id.AccountID, amount types.Money, sign int64, op string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE paidwork_accounts
		SET balance_amount = balance_amount + $2, updated_at = now()
		WHERE id = $1 AND balance_currency = $3`,
		accountID.String(), sign*amount.Amount, amount.Currency)
	if err != nil {
		return fmt.Errorf("%s account: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return s.checkAccountCurrency(ctx, accountID, amount, op)
	}
	return nil
}

// checkAccountCurrency reports why a currency-guarded update matched
// nothing: the account does not exist, or its currency differs.
// Returns nil when the account exists with a matching currency.
func (s *Store) checkAccountCurrency(ctx context.Context, accountID id.AccountID, amount types.Money, op string) error {
	var currency string
	err := s.pool.QueryRow(ctx,
		`SELECT balance_currency FROM paidwork_accounts WHERE id = $1`,
		accountID.String()).Scan(&currency)
	if err != nil {
		if isNoRows(err) {
			return paidwork.ErrAccountNotFound
		}
		return fmt.Errorf("%s account: %w", op, err)
	}
	if currency != amount.Currency {
		return fmt.Errorf("%s %s to %s account: %w", op, amount.Currency, currency, paidwork.ErrCurrencyMismatch)
	}
	return nil
}

func insertEntry(ctx context.Context, tx pgx.Tx, e *ledger.Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO paidwork_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID.String(), e.AccountID.String(), string(e.Type),
		e.Amount.Amount, e.Amount.Currency, e.Reference,
		e.IdempotencyKey, e.Provider, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var (
		a         ledger.Account
		accountID string
	)
	err := row.Scan(&accountID, &a.Owner, &a.Balance.Amount,
		&a.Balance.Currency, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.ID, err = id.Parse(accountID); err != nil {
		return nil, fmt.Errorf("parse account id: %w", err)
	}
	return &a, nil
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	var (
		e         ledger.Entry
		entryID   string
		accountID string
		entryType string
	)
	err := row.Scan(&entryID, &accountID, &entryType, &e.Amount.Amount,
		&e.Amount.Currency, &e.Reference, &e.IdempotencyKey, &e.Provider,
		&e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.Parse(entryID); err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	if e.AccountID, err = id.Parse(accountID); err != nil {
		return nil, fmt.Errorf("parse entry account id: %w", err)
	}
	e.Type = ledger.EntryType(entryType)
	return &e, nil
}
