// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robelmit/paidwork/backoff"
	"github.com/robelmit/paidwork/ext"
	"github.com/robelmit/paidwork/job"
	"github.com/robelmit/paidwork/middleware"
)

// Executor runs a single job through middleware and the registered handler,
// then handles retry logic, state updates, and lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed with the handler's result, emits JobCompleted.
// On failure with attempts remaining: returns the job to pending with a
// backoff delay, emits JobRetrying.
// On failure with attempts exhausted: marks failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		// No handler will ever exist for this name; retrying is pointless.
		return e.failJob(ctx, j, fmt.Errorf("no handler registered for job %q", j.Name))
	}

	start := time.Now()

	// The terminal handler that calls the registered job handler and
	// captures its result.
	var result []byte
	terminal := func(ctx context.Context) error {
		out, handlerErr := handler(ctx, j.Payload)
		if handlerErr != nil {
			return handlerErr
		}
		result = out
		return nil
	}

	// Run through middleware chain.
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.Touch()

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, result, now, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.Result = result
	j.ProcessedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure burns one attempt and either schedules a retry or marks
// the job failed.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.Attempts++
	j.LastError = handlerErr.Error()

	if j.Attempts < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, now)
	}

	return e.failJob(ctx, j, handlerErr)
}

// scheduleRetry returns the job to StatePending with a backoff delay so
// it is dequeued again once RunAt passes.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := e.backoff.Delay(j.Attempts)
	nextRunAt := now.Add(delay)
	j.RunAt = nextRunAt
	j.State = job.StatePending
	j.StartedAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %s", j.Name, j.Attempts, j.MaxAttempts, j.LastError)
}

// failJob marks the job as failed and emits JobFailed. Settlement
// (refunding the wallet debit) happens in the extension layer.
func (e *Executor) failJob(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed
	j.LastError = handlerErr.Error()

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempts", j.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
