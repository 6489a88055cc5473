package job

import (
	"context"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. Implementations must
// be safe for concurrent use; ClaimJob is the sole synchronization point
// between competing workers and must be atomic across all callers.
type Store interface {
	// EnqueueJob persists a new job in waiting or delayed state. A
	// storage failure surfaces to the producer as an error wrapping
	// relayq.ErrPersistence; work is never silently dropped.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically selects the best eligible waiting job on the
	// queue (priority descending, then creation order), transitions it
	// to active, increments Attempts, and records StartedAt plus the
	// claiming worker. Exactly one concurrent caller wins a given job.
	// Returns relayq.ErrNoJob when nothing is claimable.
	ClaimJob(ctx context.Context, queue string, workerID id.WorkerID) (*Job, error)

	// CompleteJob transitions an active job to completed, storing the
	// handler result and FinishedAt.
	CompleteJob(ctx context.Context, jobID id.JobID, result []byte) error

	// FailJob transitions an active job to terminal failed, storing the
	// last error and FinishedAt.
	FailJob(ctx context.Context, jobID id.JobID, lastError string) error

	// RescheduleJob returns an active job to delayed with the given
	// visibility time, storing the last error. The job is promoted to
	// waiting once delayUntil passes.
	RescheduleJob(ctx context.Context, jobID id.JobID, lastError string, delayUntil time.Time) error

	// PromoteDueJobs transitions up to limit delayed jobs whose
	// DelayUntil has passed to waiting. Promotion is idempotent: the
	// state guard makes a second promotion of the same job a no-op.
	// Returns the number promoted.
	PromoteDueJobs(ctx context.Context, now time.Time, limit int) (int, error)

	// RequeueStaleJobs recovers active jobs claimed longer ago than
	// olderThan and reports them. The consumed attempt stays counted:
	// jobs with attempts remaining return to waiting, jobs whose last
	// attempt was the stale one transition to failed so attempts never
	// exceed MaxAttempts on a later claim.
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration) ([]*Job, error)

	// RetryJob transitions a failed job back to waiting with a fresh
	// attempt budget, clearing LastError and Result. Returns false
	// without modifying the job when it is not in failed state.
	RetryJob(ctx context.Context, jobID id.JobID) (bool, error)

	// RetryAllFailed applies RetryJob to up to limit failed jobs on the
	// queue, oldest first, and returns the number retried.
	RetryAllFailed(ctx context.Context, queue string, limit int) (int64, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs in the given state.
	ListJobs(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// DeleteJob removes a job regardless of state. Removing an active
	// job does not interrupt its handler.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// Queues returns the distinct queue names present in the store.
	Queues(ctx context.Context) ([]string, error)

	// PurgeJobs deletes jobs on the queue that are in one of the given
	// terminal states and finished before the cutoff. Returns the
	// number removed. Non-terminal states are rejected.
	PurgeJobs(ctx context.Context, queue string, states []State, finishedBefore time.Time) (int64, error)
}
