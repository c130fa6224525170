package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// AccountConfig defines rate limits and concurrency for a specific
// account on a specific queue, identified by the job's AccountID. It
// keeps one heavy top-up buyer from starving everyone else's jobs.
type AccountConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// AccountID is the account identifier (job.AccountID.String()).
	AccountID string

	// RateLimit is the sustained jobs per second for this account.
	RateLimit float64

	// RateBurst is the burst size for the account's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this account on this
	// queue. Zero means no account-specific concurrency limit.
	MaxConcurrency int
}

// accountState tracks runtime state for a single queue+account pair.
type accountState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// accountKey builds the map key for a queue+account pair.
func accountKey(queue, accountID string) string {
	return fmt.Sprintf("%s:%s", queue, accountID)
}

// SetAccountConfig configures rate limits and concurrency for a specific
// account on a specific queue. Calling this multiple times for the same
// queue+account replaces the previous configuration.
func (m *Manager) SetAccountConfig(cfg AccountConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := accountKey(cfg.QueueName, cfg.AccountID)
	existing := m.accounts[key]

	as := &accountState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		as.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		as.active = existing.active
	}
	m.accounts[key] = as
}

// AccountActiveCount returns the current number of active jobs for a
// queue+account pair.
func (m *Manager) AccountActiveCount(queue, accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if as := m.accounts[accountKey(queue, accountID)]; as != nil {
		return as.active
	}
	return 0
}
