// Package hook defines lifecycle hook interfaces and the registry that
// dispatches job lifecycle events to them. Hooks observe the engine
// (metrics, auditing, notifications) without affecting control flow:
// hook errors are logged and swallowed.
package hook

import (
	"context"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq/job"
)

// Hook is the base interface every lifecycle hook implements.
// Implement any subset of the event interfaces below; the registry
// type-caches them at registration time.
type Hook interface {
	// Name identifies the hook in logs.
	Name() string
}

// JobEnqueued is notified after a job is durably persisted.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is notified when a worker claims a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is notified when a handler reports progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, pct int) error
}

// JobCompleted is notified when a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is notified when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error
}

// JobRetryScheduled is notified when a failed attempt is rescheduled.
type JobRetryScheduled interface {
	OnJobRetryScheduled(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobsPromoted is notified when the scheduler moves due delayed jobs to
// waiting.
type JobsPromoted interface {
	OnJobsPromoted(ctx context.Context, count int) error
}

// Shutdown is notified once during graceful engine shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
