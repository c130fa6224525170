// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/ledger"
	"github.com/robelmit/paidwork/types"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store    = (*Store)(nil)
	_ ledger.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs     map[string]*job.Job
	accounts map[string]*ledger.Account
	owners   map[string]string // owner -> account ID
	entries  map[string][]*ledger.Entry
	usedKeys map[string]*ledger.UsedKey // "provider:key"
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:     make(map[string]*job.Job),
		accounts: make(map[string]*ledger.Account),
		owners:   make(map[string]string),
		entries:  make(map[string][]*ledger.Entry),
		usedKeys: make(map[string]*ledger.UsedKey),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state. A live (pending or
// processing) job under the same ID is rejected; a terminal record is
// replaced.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if existing, ok := m.jobs[key]; ok && !existing.State.Terminal() {
		return paidwork.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// DequeueJobs atomically claims up to limit due pending jobs from the
// given queues, sets them to processing, and returns them.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	queueSet := make(map[string]struct{}, len(queues))
	for _, q := range queues {
		queueSet[q] = struct{}{}
	}

	now := time.Now().UTC()

	// Collect candidates.
	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != job.StatePending {
			continue
		}
		if !j.RunAt.IsZero() && j.RunAt.After(now) {
			continue
		}
		if len(queueSet) > 0 {
			if _, ok := queueSet[j.Queue]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	// Sort: priority DESC, RunAt ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateProcessing
		n := now
		j.StartedAt = &n
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, paidwork.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return paidwork.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return paidwork.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// JobStats returns a snapshot of job counts per state.
func (m *Store) JobStats(_ context.Context) (job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats job.Stats
	for _, j := range m.jobs {
		switch j.State {
		case job.StatePending:
			stats.Pending++
		case job.StateProcessing:
			stats.Processing++
		case job.StateCompleted:
			stats.Completed++
		case job.StateFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// PurgeTerminalJobs removes completed and failed jobs whose last update
// is older than maxAge.
func (m *Store) PurgeTerminalJobs(_ context.Context, maxAge time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	var purged int64
	for key, j := range m.jobs {
		if !j.State.Terminal() {
			continue
		}
		if j.UpdatedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, key)
		purged++
	}
	return purged, nil
}

// ──────────────────────────────────────────────────
// Ledger Store
// ──────────────────────────────────────────────────

// CreateAccount persists a new account.
func (m *Store) CreateAccount(_ context.Context, a *ledger.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	if _, ok := m.accounts[key]; ok {
		return paidwork.ErrAccountAlreadyExists
	}
	if _, ok := m.owners[a.Owner]; ok {
		return paidwork.ErrAccountAlreadyExists
	}
	cp := *a
	m.accounts[key] = &cp
	m.owners[a.Owner] = key
	return nil
}

// GetAccount retrieves an account by ID.
func (m *Store) GetAccount(_ context.Context, accountID id.AccountID) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(accountID)
}

// GetAccountByOwner retrieves an account by its external owner.
func (m *Store) GetAccountByOwner(_ context.Context, owner string) (*ledger.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.owners[owner]
	if !ok {
		return nil, paidwork.ErrAccountNotFound
	}
	cp := *m.accounts[key]
	return &cp, nil
}

// CreditAccount consumes the (provider, key) pair, increments the
// balance, and appends the entry. The whole operation happens under one
// lock, so concurrent replays of the same key see exactly one winner.
func (m *Store) CreditAccount(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[e.AccountID.String()]
	if !ok {
		return paidwork.ErrAccountNotFound
	}
	if !a.Balance.SameCurrency(e.Amount) {
		return fmt.Errorf("credit %s to %s account: %w", e.Amount.Currency, a.Balance.Currency, paidwork.ErrCurrencyMismatch)
	}

	// Key consumption comes first; a duplicate leaves everything untouched.
	uk := usedKeyID(e.Provider, e.IdempotencyKey)
	if _, used := m.usedKeys[uk]; used {
		return paidwork.ErrDuplicateIdempotencyKey
	}
	m.usedKeys[uk] = &ledger.UsedKey{
		Provider:   e.Provider,
		Key:        e.IdempotencyKey,
		ConsumedBy: e.ID,
		AccountID:  e.AccountID,
		Amount:     e.Amount,
		CreatedAt:  time.Now().UTC(),
	}

	a.Balance = a.Balance.Add(e.Amount)
	a.Touch()
	m.appendEntryLocked(e)
	return nil
}

// DebitAccount conditionally decrements the balance and appends the
// entry. Returns ok=false with no state change when the balance is
// insufficient.
func (m *Store) DebitAccount(_ context.Context, e *ledger.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[e.AccountID.String()]
	if !ok {
		return false, paidwork.ErrAccountNotFound
	}
	if !a.Balance.SameCurrency(e.Amount) {
		return false, fmt.Errorf("debit %s from %s account: %w", e.Amount.Currency, a.Balance.Currency, paidwork.ErrCurrencyMismatch)
	}

	if a.Balance.LessThan(e.Amount) {
		return false, nil
	}

	a.Balance = a.Balance.Subtract(e.Amount)
	a.Touch()
	m.appendEntryLocked(e)
	return true, nil
}

// RefundAccount unconditionally increments the balance and appends the
// entry.
func (m *Store) RefundAccount(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[e.AccountID.String()]
	if !ok {
		return paidwork.ErrAccountNotFound
	}
	if !a.Balance.SameCurrency(e.Amount) {
		return fmt.Errorf("refund %s to %s account: %w", e.Amount.Currency, a.Balance.Currency, paidwork.ErrCurrencyMismatch)
	}

	a.Balance = a.Balance.Add(e.Amount)
	a.Touch()
	m.appendEntryLocked(e)
	return nil
}

// GetBalance returns the current balance for an account.
func (m *Store) GetBalance(_ context.Context, accountID id.AccountID) (types.Money, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, err := m.getAccountLocked(accountID)
	if err != nil {
		return types.Money{}, err
	}
	return a.Balance, nil
}

// IsKeyUsed reports whether the (provider, key) pair has been consumed.
func (m *Store) IsKeyUsed(_ context.Context, provider, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, used := m.usedKeys[usedKeyID(provider, key)]
	return used, nil
}

// ListEntries returns the entry history for an account, newest first.
func (m *Store) ListEntries(_ context.Context, accountID id.AccountID, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.accounts[accountID.String()]; !ok {
		return nil, paidwork.ErrAccountNotFound
	}

	history := m.entries[accountID.String()]
	result := make([]*ledger.Entry, 0, len(history))
	// Entries are appended in order; walk backwards for newest first.
	for i := len(history) - 1; i >= 0; i-- {
		e := history[i]
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (m *Store) getAccountLocked(accountID id.AccountID) (*ledger.Account, error) {
	a, ok := m.accounts[accountID.String()]
	if !ok {
		return nil, paidwork.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Store) appendEntryLocked(e *ledger.Entry) {
	cp := *e
	key := e.AccountID.String()
	m.entries[key] = append(m.entries[key], &cp)
}

func usedKeyID(provider, key string) string {
	return provider + ":" + key
}
