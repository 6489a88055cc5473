package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
)

const jobColumns = `id, queue, payload, state, priority, attempts, max_attempts,
	last_error, result, worker_id, delay_until, started_at, finished_at,
	timeout_ns, created_at, updated_at`

// EnqueueJob persists a new job in its initial waiting or delayed state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relayq_jobs (
			id, queue, payload, state, priority, attempts, max_attempts,
			last_error, result, worker_id, delay_until, started_at, finished_at,
			timeout_ns, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Queue, j.Payload, string(j.State),
		j.Priority, j.Attempts, j.MaxAttempts,
		j.LastError, j.Result, j.WorkerID.String(),
		nsOrNil(j.DelayUntil), nsOrNil(j.StartedAt), nsOrNil(j.FinishedAt),
		j.Timeout.Nanoseconds(), j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return relayq.ErrJobAlreadyExists
		}
		return wrapErr("enqueue job", err)
	}
	return nil
}

// ClaimJob atomically claims the best waiting job on the queue. The
// select and guarded update run in one transaction, and SQLite's single
// writer guarantees exactly one claimer wins.
func (s *Store) ClaimJob(ctx context.Context, queue string, workerID id.WorkerID) (*job.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr("claim begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM relayq_jobs
		WHERE queue = ? AND state = 'waiting'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`,
		queue,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, relayq.ErrNoJob
		}
		return nil, wrapErr("claim select", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE relayq_jobs
		SET state = 'active', attempts = attempts + 1, worker_id = ?,
			started_at = ?, updated_at = ?
		WHERE id = ?`,
		workerID.String(), now.UnixNano(), now.UnixNano(), j.ID.String(),
	)
	if err != nil {
		return nil, wrapErr("claim update", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr("claim commit", err)
	}

	j.State = job.StateActive
	j.Attempts++
	j.WorkerID = workerID
	j.StartedAt = &now
	j.UpdatedAt = now
	return j, nil
}

// CompleteJob transitions an active job to completed.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, result []byte) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE relayq_jobs
		SET state = 'completed', result = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		result, now, now, jobID.String(),
	)
	if err != nil {
		return wrapErr("complete job", err)
	}
	return s.checkTransition(ctx, res, jobID, "complete")
}

// FailJob transitions an active job to terminal failed.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, lastError string) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE relayq_jobs
		SET state = 'failed', last_error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		lastError, now, now, jobID.String(),
	)
	if err != nil {
		return wrapErr("fail job", err)
	}
	return s.checkTransition(ctx, res, jobID, "fail")
}

// RescheduleJob returns an active job to delayed for a later retry.
func (s *Store) RescheduleJob(ctx context.Context, jobID id.JobID, lastError string, delayUntil time.Time) error {
	now := time.Now().UTC().UnixNano()
	res, err := s.db.ExecContext(ctx, `
		UPDATE relayq_jobs
		SET state = 'delayed', last_error = ?, delay_until = ?,
			worker_id = '', started_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'active'`,
		lastError, delayUntil.UnixNano(), now, jobID.String(),
	)
	if err != nil {
		return wrapErr("reschedule job", err)
	}
	return s.checkTransition(ctx, res, jobID, "reschedule")
}

// PromoteDueJobs moves up to limit due delayed jobs to waiting.
func (s *Store) PromoteDueJobs(ctx context.Context, now time.Time, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relayq_jobs
		SET state = 'waiting', delay_until = NULL, updated_at = ?
		WHERE id IN (
			SELECT id FROM relayq_jobs
			WHERE state = 'delayed'
			  AND (delay_until IS NULL OR delay_until <= ?)
			ORDER BY delay_until ASC
			LIMIT ?
		)`,
		time.Now().UTC().UnixNano(), now.UnixNano(), limit,
	)
	if err != nil {
		return 0, wrapErr("promote due jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("promote rows affected", err)
	}
	return int(n), nil
}

// RequeueStaleJobs returns long-running active jobs to waiting. The
// attempt consumed by the stale claim stays counted, so a job whose
// crashed attempt was its last is failed instead of requeued; requeuing
// it would let the next claim exceed the attempt budget.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan).UnixNano()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM relayq_jobs
		WHERE state = 'active' AND started_at IS NOT NULL AND started_at < ?`,
		cutoff,
	)
	if err != nil {
		return nil, wrapErr("requeue stale select", err)
	}
	stale, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, j := range stale {
		if j.Attempts >= j.MaxAttempts {
			if _, err := s.db.ExecContext(ctx, `
				UPDATE relayq_jobs
				SET state = 'failed', last_error = 'stale execution abandoned',
					worker_id = '', finished_at = ?, updated_at = ?
				WHERE id = ? AND state = 'active'`,
				now.UnixNano(), now.UnixNano(), j.ID.String(),
			); err != nil {
				return nil, wrapErr("abandon stale update", err)
			}
			finished := now
			j.State = job.StateFailed
			j.LastError = "stale execution abandoned"
			j.WorkerID = id.Nil
			j.FinishedAt = &finished
			j.UpdatedAt = now
			continue
		}

		if _, err := s.db.ExecContext(ctx, `
			UPDATE relayq_jobs
			SET state = 'waiting', worker_id = '', started_at = NULL, updated_at = ?
			WHERE id = ? AND state = 'active'`,
			now.UnixNano(), j.ID.String(),
		); err != nil {
			return nil, wrapErr("requeue stale update", err)
		}
		j.State = job.StateWaiting
		j.WorkerID = id.Nil
		j.StartedAt = nil
		j.UpdatedAt = now
	}
	return stale, nil
}

// RetryJob moves a failed job back to waiting with a fresh attempt
// budget. Returns false when the job exists but is not failed.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE relayq_jobs
		SET state = 'waiting', attempts = 0, last_error = '', result = NULL,
			worker_id = '', delay_until = NULL, started_at = NULL,
			finished_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'failed'`,
		time.Now().UTC().UnixNano(), jobID.String(),
	)
	if err != nil {
		return false, wrapErr("retry job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("retry rows affected", err)
	}
	if n == 0 {
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
			finished_at = NULL, updated_at = ?
		WHERE id IN (
			SELECT id FROM relayq_jobs
			WHERE queue = ? AND state = 'failed'
			ORDER BY created_at ASC`
	args := []any{time.Now().UTC().UnixNano(), queue}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	query += `
		)`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("retry all failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("retry all rows affected", err)
	}
	return n, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM relayq_jobs WHERE id = ?`,
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
	query := `SELECT ` + jobColumns + ` FROM relayq_jobs WHERE state = ?`
	args := []any{string(state)}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}

	query += ` ORDER BY created_at ASC`

	// SQLite requires LIMIT when OFFSET is present.
	limit := opts.Limit
	if limit <= 0 && opts.Offset > 0 {
		limit = -1
	}
	if limit != 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list jobs", err)
	}
	return collectJobs(rows)
}

// DeleteJob removes a job by ID regardless of state.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM relayq_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return wrapErr("delete job", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("delete rows affected", err)
	}
	if n == 0 {
		return relayq.ErrJobNotFound
	}
	return nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM relayq_jobs WHERE 1=1`
	args := []any{}

	if opts.Queue != "" {
		query += ` AND queue = ?`
		args = append(args, opts.Queue)
	}
	if opts.State != "" {
		query += ` AND state = ?`
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapErr("count jobs", err)
	}
	return count, nil
}

// Queues returns the distinct queue names present in the store.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT queue FROM relayq_jobs ORDER BY queue ASC`)
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
	if len(states) == 0 {
		return 0, nil
	}

	query := `DELETE FROM relayq_jobs WHERE queue = ? AND finished_at IS NOT NULL AND state IN (`
	args := []any{queue}
	for i, st := range states {
		if !st.Terminal() {
			return 0, fmt.Errorf("relayq/sqlite: purge state %q: %w", st, relayq.ErrInvalidState)
		}
		if i > 0 {
			query += `, `
		}
		query += `?`
		args = append(args, string(st))
	}
	query += `)`

	if !finishedBefore.IsZero() {
		query += ` AND finished_at < ?`
		args = append(args, finishedBefore.UnixNano())
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, wrapErr("purge jobs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("purge rows affected", err)
	}
	return n, nil
}

// checkTransition distinguishes a missing job from one in the wrong
// state after a guarded update matched no rows.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, jobID id.JobID, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op+" rows affected", err)
	}
	if n > 0 {
		return nil
	}
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("relayq/sqlite: %s job in state %q: %w", op, j.State, relayq.ErrInvalidState)
}

// ── row scanning ─────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j          job.Job
		idStr      string
		stateStr   string
		workerStr  string
		delayNs    sql.NullInt64
		startedNs  sql.NullInt64
		finishedNs sql.NullInt64
		timeoutNs  int64
		createdNs  int64
		updatedNs  int64
	)
	err := row.Scan(
		&idStr, &j.Queue, &j.Payload, &stateStr,
		&j.Priority, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.Result, &workerStr,
		&delayNs, &startedNs, &finishedNs,
		&timeoutNs, &createdNs, &updatedNs,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	j.DelayUntil = nsPtr(delayNs)
	j.StartedAt = nsPtr(startedNs)
	j.FinishedAt = nsPtr(finishedNs)
	j.CreatedAt = time.Unix(0, createdNs).UTC()
	j.UpdatedAt = time.Unix(0, updatedNs).UTC()

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("relayq/sqlite: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("relayq/sqlite: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relayq/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// nsOrNil converts an optional timestamp to nullable Unix nanoseconds.
func nsOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

// nsPtr converts nullable Unix nanoseconds back to an optional timestamp.
func nsPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
