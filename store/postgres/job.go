package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
)

const jobColumns = `id, queue, payload, state, priority, attempts, max_attempts,
	last_error, result, worker_id, delay_until, started_at, finished_at,
	timeout_ns, created_at, updated_at`

// EnqueueJob persists a new job in its initial waiting or delayed state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relayq_jobs (
			id, queue, payload, state, priority, attempts, max_attempts,
			last_error, result, worker_id, delay_until, started_at, finished_at,
			timeout_ns, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16
		)`,
		j.ID.String(), j.Queue, j.Payload, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts,
		j.LastError, j.Result, j.WorkerID.String(),
		j.DelayUntil, j.StartedAt, j.FinishedAt,
		j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return relayq.ErrJobAlreadyExists
		}
		return wrapErr("enqueue job", err)
	}
	return nil
}

// ClaimJob atomically claims the best waiting job on the queue. SKIP
// LOCKED guarantees exactly one concurrent claimer wins each row.
func (s *Store) ClaimJob(ctx context.Context, queue string, workerID id.WorkerID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT id FROM relayq_jobs
			WHERE queue = $1 AND state = 'waiting'
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE relayq_jobs j
		SET state = 'active',
			attempts = j.attempts + 1,
			worker_id = $2,
			started_at = NOW(),
			updated_at = NOW()
		FROM candidate
		WHERE j.id = candidate.id
		RETURNING `+claimReturning,
		queue, workerID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, relayq.ErrNoJob
		}
		return nil, wrapErr("claim job", err)
	}
	return j, nil
}

// CompleteJob transitions an active job to completed.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, result []byte) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relayq_jobs
		SET state = 'completed', result = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'active'`,
		jobID.String(), result,
	)
	if err != nil {
		return wrapErr("complete job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, jobID, "complete")
	}
	return nil
}

// FailJob transitions an active job to terminal failed.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, lastError string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relayq_jobs
		SET state = 'failed', last_error = $2, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'active'`,
		jobID.String(), lastError,
	)
	if err != nil {
		return wrapErr("fail job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, jobID, "fail")
	}
	return nil
}

// RescheduleJob returns an active job to delayed for a later retry.
func (s *Store) RescheduleJob(ctx context.Context, jobID id.JobID, lastError string, delayUntil time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relayq_jobs
		SET state = 'delayed', last_error = $2, delay_until = $3,
			worker_id = '', started_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'active'`,
		jobID.String(), lastError, delayUntil,
	)
	if err != nil {
		return wrapErr("reschedule job", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionConflict(ctx, jobID, "reschedule")
	}
	return nil
}

// PromoteDueJobs moves up to limit due delayed jobs to waiting.
func (s *Store) PromoteDueJobs(ctx context.Context, now time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relayq_jobs
		SET state = 'waiting', delay_until = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM relayq_jobs
			WHERE state = 'delayed'
			  AND (delay_until IS NULL OR delay_until <= $1)
			ORDER BY delay_until ASC NULLS FIRST
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)`,
		now, limit,
	)
	if err != nil {
		return 0, wrapErr("promote due jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

// RequeueStaleJobs returns long-running active jobs to waiting. The
// attempt consumed by the stale claim stays counted, so a job whose
// crashed attempt was its last is failed instead of requeued; requeuing
// it would let the next claim exceed the attempt budget.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := s.pool.Query(ctx, `
		UPDATE relayq_jobs
		SET state       = CASE WHEN attempts >= max_attempts THEN 'failed' ELSE 'waiting' END,
			last_error  = CASE WHEN attempts >= max_attempts THEN 'stale execution abandoned' ELSE last_error END,
			finished_at = CASE WHEN attempts >= max_attempts THEN NOW() ELSE finished_at END,
			started_at  = CASE WHEN attempts >= max_attempts THEN started_at ELSE NULL END,
			worker_id = '', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM relayq_jobs
			WHERE state = 'active' AND started_at < $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		cutoff,
	)
	if err != nil {
		return nil, wrapErr("requeue stale jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// RetryJob moves a failed job back to waiting with a fresh attempt
// budget. Returns false when the job exists but is not failed.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE relayq_jobs
		SET state = 'waiting', attempts = 0, last_error = '', result = NULL,
			worker_id = '', delay_until = NULL, started_at = NULL,
			finished_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'failed'`,
		jobID.String(),
	)
	if err != nil {
		return false, wrapErr("retry job", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

// RetryAllFailed retries up to limit failed jobs on the queue, oldest
// first. A non-positive limit retries all of them.
func (s *Store) RetryAllFailed(ctx context.Context, queue string, limit int) (int64, error) {
	query := `
		UPDATE relayq_jobs
		SET state = 'waiting', attempts = 0, last_error = '', result = NULL,
			worker_id = '', delay_until = NULL, started_at = NULL,
			finished_at = NULL, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM relayq_jobs
			WHERE queue = $1 AND state = 'failed'
			ORDER BY created_at ASC`
	args := []any{queue}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	query += `
		)`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("retry all failed", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM relayq_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, relayq.ErrJobNotFound
		}
		return nil, wrapErr("get job", err)
	}
	return j, nil
}

// ListJobs returns jobs in the given state, oldest first.
func (s *Store) ListJobs(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM relayq_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list jobs", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteJob removes a job by ID regardless of state.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM relayq_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return wrapErr("delete job", err)
	}
	if tag.RowsAffected() == 0 {
		return relayq.ErrJobNotFound
	}
	return nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM relayq_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapErr("count jobs", err)
	}
	return count, nil
}

// Queues returns the distinct queue names present in the store.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT queue FROM relayq_jobs ORDER BY queue ASC`)
	if err != nil {
		return nil, wrapErr("list queues", err)
	}
	defer rows.Close()

	var queues []string
	for rows.Next() {
		var q string
		if scanErr := rows.Scan(&q); scanErr != nil {
			return nil, wrapErr("scan queue name", scanErr)
		}
		queues = append(queues, q)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate queues", err)
	}
	return queues, nil
}

// PurgeJobs deletes terminal jobs on the queue finished before the
// cutoff. A zero cutoff matches any finished time.
func (s *Store) PurgeJobs(ctx context.Context, queue string, states []job.State, finishedBefore time.Time) (int64, error) {
	stateStrs := make([]string, 0, len(states))
	for _, st := range states {
		if !st.Terminal() {
			return 0, fmt.Errorf("relayq/postgres: purge state %q: %w", st, relayq.ErrInvalidState)
		}
		stateStrs = append(stateStrs, string(st))
	}

	query := `
		DELETE FROM relayq_jobs
		WHERE queue = $1 AND state = ANY($2) AND finished_at IS NOT NULL`
	args := []any{queue, stateStrs}
	if !finishedBefore.IsZero() {
		query += ` AND finished_at < $3`
		args = append(args, finishedBefore)
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("purge jobs", err)
	}
	return tag.RowsAffected(), nil
}

// transitionConflict distinguishes a missing job from one in the wrong
// state after a guarded update matched no rows.
func (s *Store) transitionConflict(ctx context.Context, jobID id.JobID, op string) error {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("relayq/postgres: %s job in state %q: %w", op, j.State, relayq.ErrInvalidState)
}

// claimReturning mirrors jobColumns for RETURNING clauses.
const claimReturning = `j.id, j.queue, j.payload, j.state, j.priority, j.attempts, j.max_attempts,
	j.last_error, j.result, j.worker_id, j.delay_until, j.started_at, j.finished_at,
	j.timeout_ns, j.created_at, j.updated_at`

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.Result, &workerStr,
		&j.DelayUntil, &j.StartedAt, &j.FinishedAt,
		&timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("relayq/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("relayq/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relayq/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
