// Package ext defines the extension system for Paidwork.
// Extensions are notified of lifecycle events (job enqueued, completed,
// batch ready, credit recorded, etc.) and can react to them — delivering
// callbacks, recording metrics, writing audit logs.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/robelmit/paidwork/batch"
	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/ledger"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// ──────────────────────────────────────────────────
// Batch lifecycle hooks
// ──────────────────────────────────────────────────

// BatchReady is called exactly once when every job of a batch has
// reported its artifact.
type BatchReady interface {
	OnBatchReady(ctx context.Context, groupID string, batchIndex int, artifacts []batch.Artifact) error
}

// ──────────────────────────────────────────────────
// Ledger lifecycle hooks
// ──────────────────────────────────────────────────

// CreditRecorded is called after a top-up is credited to an account.
type CreditRecorded interface {
	OnCreditRecorded(ctx context.Context, e *ledger.Entry) error
}

// RefundIssued is called after a debit is returned to an account,
// typically because the job it paid for failed.
type RefundIssued interface {
	OnRefundIssued(ctx context.Context, e *ledger.Entry) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
