package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/robelmit/paidwork"
	"github.com/robelmit/paidwork/id"
	"github.com/robelmit/paidwork/job"
)

const jobColumns = `id, name, queue, payload, result, state, priority, attempts,
	max_attempts, last_error, account_id, cost_amount, cost_currency,
	batch_group, batch_index, batch_expect, run_at, started_at, processed_at,
	created_at, updated_at`

// EnqueueJob persists a new pending job. A terminal record under the
// same ID is replaced in place; a live one is rejected.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	accountID := nullableID(j.AccountID)
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO paidwork_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			queue = EXCLUDED.queue,
			payload = EXCLUDED.payload,
			result = NULL,
			state = EXCLUDED.state,
			priority = EXCLUDED.priority,
			attempts = 0,
			max_attempts = EXCLUDED.max_attempts,
			last_error = '',
			account_id = EXCLUDED.account_id,
			cost_amount = EXCLUDED.cost_amount,
			cost_currency = EXCLUDED.cost_currency,
			batch_group = EXCLUDED.batch_group,
			batch_index = EXCLUDED.batch_index,
			batch_expect = EXCLUDED.batch_expect,
			run_at = EXCLUDED.run_at,
			started_at = NULL,
			processed_at = NULL,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE paidwork_jobs.state IN ('completed', 'failed')`,
		j.ID.String(), j.Name, j.Queue, j.Payload, j.Result, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts, j.LastError, accountID,
		j.Cost.Amount, j.Cost.Currency, j.BatchGroup, j.BatchIndex,
		j.BatchExpect, j.RunAt, j.StartedAt, j.ProcessedAt,
		j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paidwork.ErrJobAlreadyExists
	}
	return nil
}

// DequeueJobs atomically claims up to limit due pending jobs.
// Uses SELECT FOR UPDATE SKIP LOCKED so concurrent workers never claim
// the same job twice.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	queueFilter := ""
	args := []any{limit}
	if len(queues) > 0 {
		queueFilter = "AND queue = ANY($2)"
		args = append(args, queues)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		WITH due AS (
			SELECT id FROM paidwork_jobs
			WHERE state = 'pending' AND run_at <= now() %s
			ORDER BY priority DESC, run_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE paidwork_jobs j
		SET state = 'processing', started_at = now(), updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING `+prefixColumns("j", jobColumns), queueFilter), args...)
	if err != nil {
		return nil, fmt.Errorf("dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM paidwork_jobs WHERE id = $1`,
		jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, paidwork.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	j.Touch()
	tag, err := s.pool.Exec(ctx, `
		UPDATE paidwork_jobs SET
			name = $2, queue = $3, payload = $4, result = $5, state = $6,
			priority = $7, attempts = $8, max_attempts = $9, last_error = $10,
			account_id = $11, cost_amount = $12, cost_currency = $13,
			batch_group = $14, batch_index = $15, batch_expect = $16,
			run_at = $17, started_at = $18, processed_at = $19, updated_at = $20
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, j.Result, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts, j.LastError,
		nullableID(j.AccountID), j.Cost.Amount, j.Cost.Currency,
		j.BatchGroup, j.BatchIndex, j.BatchExpect,
		j.RunAt, j.StartedAt, j.ProcessedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paidwork.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM paidwork_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return paidwork.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM paidwork_jobs WHERE state = $1`)
	args := []any{string(state)}

	if opts.Queue != "" {
		args = append(args, opts.Queue)
		fmt.Fprintf(&sb, " AND queue = $%d", len(args))
	}
	sb.WriteString(" ORDER BY created_at ASC")
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
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT COUNT(*) FROM paidwork_jobs WHERE 1=1`)
	var args []any

	if opts.Queue != "" {
		args = append(args, opts.Queue)
		fmt.Fprintf(&sb, " AND queue = $%d", len(args))
	}
	if opts.State != "" {
		args = append(args, string(opts.State))
		fmt.Fprintf(&sb, " AND state = $%d", len(args))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, sb.String(), args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// JobStats returns a snapshot of job counts per state.
func (s *Store) JobStats(ctx context.Context) (job.Stats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM paidwork_jobs GROUP BY state`)
	if err != nil {
		return job.Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var stats job.Stats
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return job.Stats{}, fmt.Errorf("job stats: %w", err)
		}
		switch job.State(state) {
		case job.StatePending:
			stats.Pending = count
		case job.StateProcessing:
			stats.Processing = count
		case job.StateCompleted:
			stats.Completed = count
		case job.StateFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// PurgeTerminalJobs removes terminal jobs whose last update is older
// than maxAge.
func (s *Store) PurgeTerminalJobs(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM paidwork_jobs
		WHERE state IN ('completed', 'failed') AND updated_at < $1`,
		time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		jobID     string
		state     string
		accountID *string
	)
	err := row.Scan(&jobID, &j.Name, &j.Queue, &j.Payload, &j.Result, &state,
		&j.Priority, &j.Attempts, &j.MaxAttempts, &j.LastError, &accountID,
		&j.Cost.Amount, &j.Cost.Currency, &j.BatchGroup, &j.BatchIndex,
		&j.BatchExpect, &j.RunAt, &j.StartedAt, &j.ProcessedAt,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.Parse(jobID); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	if accountID != nil {
		if j.AccountID, err = id.Parse(*accountID); err != nil {
			return nil, fmt.Errorf("parse account id: %w", err)
		}
	}
	j.State = job.State(state)
	return &j, nil
}

// collectJobs drains rows into a slice.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// nullableID maps the zero ID to SQL NULL.
func nullableID(v id.ID) *string {
	if v.IsNil() {
		return nil
	}
	s := v.String()
	return &s
}

// prefixColumns qualifies each column in cols with the given table
// alias, for use in RETURNING clauses with joined updates.
func prefixColumns(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
