package job

import (
	"time"

	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/types"
)

// Options configures per-job behavior such as attempts, queue, and billing.
type Options struct {
	// MaxAttempts is the total attempt budget, first try included.
	MaxAttempts int

	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values are processed first.
	Priority int

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// JobID supplies the job's identifier. Nil means a fresh ID is
	// generated at enqueue time. Callers that need deterministic IDs
	// (one job per uploaded document, say) set this; an ID that already
	// exists as pending or processing is rejected.
	JobID id.JobID

	// AccountID and Cost record the wallet debit backing the job.
	AccountID id.AccountID
	Cost      types.Money

	// BatchGroup, BatchIndex, BatchExpect mark the job as part of a bulk
	// batch.
	BatchGroup  string
	BatchIndex  int
	BatchExpect int
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		Queue:       "default",
		Priority:    0,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxAttempts sets the total attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithJobID supplies the job's identifier instead of generating one.
func WithJobID(jobID id.JobID) Option {
	return func(o *Options) {
		o.JobID = jobID
	}
}

// WithAccount records the wallet debit that paid for the job. A job
// carrying an account and a positive cost is refunded on terminal failure.
func WithAccount(accountID id.AccountID, cost types.Money) Option {
	return func(o *Options) {
		o.AccountID = accountID
		o.Cost = cost
	}
}

// WithBatch marks the job as member index of a bulk batch in the given
// group. expect is the number of jobs in the batch.
func WithBatch(group string, index, expect int) Option {
	return func(o *Options) {
		o.BatchGroup = group
		o.BatchIndex = index
		o.BatchExpect = expect
	}
}
