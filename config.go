package paidwork

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for the Core.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int `env:"PAIDWORK_CONCURRENCY"`

	// Queues is the list of queues the worker pool will poll.
	Queues []string `env:"PAIDWORK_QUEUES" envSeparator:","`

	// PollInterval is how often idle workers poll for new jobs.
	PollInterval time.Duration `env:"PAIDWORK_POLL_INTERVAL"`

	// MaxAttempts is the default total attempt budget per job.
	// A job is attempted at most MaxAttempts times, first try included.
	MaxAttempts int `env:"PAIDWORK_MAX_ATTEMPTS"`

	// RetryDelay is the fixed delay between attempts when the default
	// constant backoff strategy is in use.
	RetryDelay time.Duration `env:"PAIDWORK_RETRY_DELAY"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"PAIDWORK_SHUTDOWN_TIMEOUT"`

	// TerminalJobTTL is how long completed and failed jobs are retained
	// before the janitor purges them.
	TerminalJobTTL time.Duration `env:"PAIDWORK_TERMINAL_JOB_TTL"`

	// CleanupInterval is how often the janitor purges terminal jobs.
	// Zero disables the janitor; Cleanup can still be called manually.
	CleanupInterval time.Duration `env:"PAIDWORK_CLEANUP_INTERVAL"`

	// BatchGraceDelay is how long completed batch groups are kept around
	// to absorb straggler duplicate reports before disposal.
	BatchGraceDelay time.Duration `env:"PAIDWORK_BATCH_GRACE_DELAY"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     10,
		Queues:          []string{"default"},
		PollInterval:    1 * time.Second,
		MaxAttempts:     3,
		RetryDelay:      30 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		TerminalJobTTL:  24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
		BatchGraceDelay: 30 * time.Second,
	}
}

// ConfigFromEnv returns DefaultConfig overridden by PAIDWORK_* environment
// variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
