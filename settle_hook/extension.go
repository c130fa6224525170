package settlehook

import (
	"context"
	"log/slog"
	"time"

	"github.com/robelmit/paidwork/batch"
	"github.com/robelmit/paidwork/ext"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/ledger"
	"github.com/robelmit/paidwork/types"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
)

// Notifier is the interface that delivery backends must implement.
// Defined locally so this package stays transport-agnostic — callers
// inject the concrete bot, webhook, or bus client at wiring time.
type Notifier interface {
	// Notify delivers a job outcome to whoever is waiting on it.
	Notify(ctx context.Context, n *Notification) error
}

// Notification describes one job outcome for delivery.
type Notification struct {
	JobID   string       `json:"job_id"`
	JobName string       `json:"job_name"`
	Queue   string       `json:"queue"`
	Account id.AccountID `json:"account_id,omitempty"`

	// Outcome is "success" or "failure".
	Outcome string `json:"outcome"`

	// Result holds the handler output on success.
	Result []byte `json:"result,omitempty"`

	// Reason is the terminal error on failure.
	Reason string `json:"reason,omitempty"`

	// Refund is set when a failure triggered a wallet refund.
	Refund *types.Money `json:"refund,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
}

// NotifierFunc is an adapter to use a plain function as a Notifier.
type NotifierFunc func(ctx context.Context, n *Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n *Notification) error {
	return f(ctx, n)
}

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// RefundLedger is the slice of the wallet service the hook needs.
type RefundLedger interface {
	Refund(ctx context.Context, accountID id.AccountID, amount types.Money, reference string) (*ledger.Entry, error)
}

// ArtifactSink receives batch members' artifacts. *batch.Tracker
// implements it.
type ArtifactSink interface {
	Report(ctx context.Context, groupID string, batchIndex, expect int, art batch.Artifact) error
}

// Extension settles terminal job outcomes: refunds on failure, delivery
// and batch reporting on success.
type Extension struct {
	notifier Notifier
	wallet   RefundLedger
	batches  ArtifactSink
	logger   *slog.Logger
}

// New creates an Extension that delivers outcomes through the provided
// Notifier. Refunds and batch reporting are enabled via options.
func New(n Notifier, opts ...Option) *Extension {
	e := &Extension{
		notifier: n,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "settle-hook" }

// OnJobCompleted implements ext.JobCompleted. Batch members report their
// artifact to the tracker; every completion is then delivered
// best-effort.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if j.BatchGroup != "" && e.batches != nil {
		art := batch.Artifact{
			JobID:      j.ID,
			Name:       j.Name,
			Data:       j.Result,
			ReportedAt: time.Now().UTC(),
		}
		if err := e.batches.Report(ctx, j.BatchGroup, j.BatchIndex, j.BatchExpect, art); err != nil {
			e.logger.Warn("settle_hook: batch report failed",
				"job_id", j.ID,
				"batch_group", j.BatchGroup,
				"batch_index", j.BatchIndex,
				"error", err,
			)
		}
	}

	e.notify(ctx, &Notification{
		JobID:   j.ID.String(),
		JobName: j.Name,
		Queue:   j.Queue,
		Account: j.AccountID,
		Outcome: OutcomeSuccess,
		Result:  j.Result,
		Elapsed: elapsed,
	})
	return nil
}

// OnJobFailed implements ext.JobFailed. The refund happens first and is
// never conditional on the notification: a paying user gets their money
// back even when delivery is down.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	var (
		refund    *types.Money
		refundErr error
	)
	if e.wallet != nil && !j.AccountID.IsNil() && j.Cost.IsPositive() {
		if _, refundErr = e.wallet.Refund(ctx, j.AccountID, j.Cost, j.ID.String()); refundErr != nil {
			e.logger.Error("settle_hook: refund failed",
				"job_id", j.ID,
				"account_id", j.AccountID,
				"amount", j.Cost,
				"error", refundErr,
			)
		} else {
			cost := j.Cost
			refund = &cost
		}
	}

	reason := j.LastError
	if reason == "" && jobErr != nil {
		reason = jobErr.Error()
	}
	e.notify(ctx, &Notification{
		JobID:   j.ID.String(),
		JobName: j.Name,
		Queue:   j.Queue,
		Account: j.AccountID,
		Outcome: OutcomeFailure,
		Reason:  reason,
		Refund:  refund,
		Elapsed: 0,
	})
	return refundErr
}

// notify delivers best-effort: failures are logged, never propagated.
func (e *Extension) notify(ctx context.Context, n *Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("settle_hook: notification failed",
			"job_id", n.JobID,
			"outcome", n.Outcome,
			"error", err,
		)
	}
}
