package job

import (
	"time"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/types"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker,
	// either for its first attempt or for a delayed retry.
	StatePending State = "pending"
	// StateProcessing means a worker is currently executing the job.
	StateProcessing State = "processing"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempt budget.
	StateFailed State = "failed"
)

// Terminal reports whether no further transition can occur from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job represents a unit of work to be processed by a worker.
type Job struct {
	paidwork.Entity

	ID          id.JobID    `json:"id"`
	Name        string      `json:"name"`
	Queue       string      `json:"queue"`
	Payload     []byte      `json:"payload"`
	Result      []byte      `json:"result,omitempty"`
	State       State       `json:"state"`
	Priority    int         `json:"priority"`
	Attempts    int         `json:"attempts"`
	MaxAttempts int         `json:"max_attempts"`
	LastError   string      `json:"last_error,omitempty"`

	// AccountID and Cost record the wallet debit that paid for this job.
	// Zero values mean the job is free; no refund is issued on failure.
	AccountID id.AccountID `json:"account_id,omitempty"`
	Cost      types.Money  `json:"cost,omitempty"`

	// Batch fields are set on bulk jobs. BatchExpect is the number of
	// jobs in this job's batch; the batch tracker fires once all of them
	// have reported their artifacts.
	BatchGroup  string `json:"batch_group,omitempty"`
	BatchIndex  int    `json:"batch_index,omitempty"`
	BatchExpect int    `json:"batch_expect,omitempty"`

	RunAt       time.Time  `json:"run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Stats is a point-in-time snapshot of job counts per state.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}
