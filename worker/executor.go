// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent claim loops, delayed-job promotion, and stale-job
// recovery.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq/backoff"
	"github.com/IT-For-Youth-Ghana/relayq/hook"
	"github.com/IT-For-Youth-Ghana/relayq/job"
	"github.com/IT-For-Youth-Ghana/relayq/middleware"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then resolves the outcome: completion, a
// scheduled retry, or terminal failure.
type Executor struct {
	registry *job.Registry
	hooks    *hook.Registry
	store    job.Store
	policy   *backoff.Policy
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	hooks *hook.Registry,
	store job.Store,
	policy *backoff.Policy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry: registry,
		hooks:    hooks,
		store:    store,
		policy:   policy,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// CanExecute reports whether a handler is registered for the queue.
// The pool skips claiming from queues without one so their jobs stay
// waiting and surface through the health check instead of burning
// attempts.
func (e *Executor) CanExecute(queue string) bool {
	_, ok := e.registry.Get(queue)
	return ok
}

// Execute runs a claimed job through the middleware chain and handler.
// On success: marks completed, emits JobCompleted.
// On failure with attempts remaining: reschedules with backoff, emits
// JobRetryScheduled. On failure with attempts exhausted or a permanent
// error: marks failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Queue)
	if !ok {
		return fmt.Errorf("no handler registered for queue %q", j.Queue)
	}

	// Progress reported by the handler flows out as lifecycle events.
	ctx = job.WithProgressReporter(ctx, func(pct int) {
		e.hooks.EmitJobProgress(ctx, j, pct)
	})

	start := time.Now()

	// The terminal handler that calls the registered queue handler.
	var result []byte
	terminal := func(ctx context.Context) error {
		var handlerErr error
		result, handlerErr = handler(ctx, j.Payload)
		return handlerErr
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}

	return e.handleSuccess(ctx, j, result, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result []byte, elapsed time.Duration) error {
	if err := e.store.CompleteJob(ctx, j.ID, result); err != nil {
		e.logger.Error("failed to mark job completed",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("error", err.Error()),
		)
		return err
	}

	j.State = job.StateCompleted
	j.Result = result
	e.hooks.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure consults the retry policy and either reschedules the
// job with backoff or fails it terminally. Permanent errors skip the
// policy and fail immediately.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error) error {
	j.LastError = handlerErr.Error()

	if !job.IsPermanent(handlerErr) {
		decision := e.policy.Decide(j.Attempts, j.MaxAttempts)
		if decision.Retry {
			return e.scheduleRetry(ctx, j, handlerErr, decision.Delay)
		}
	}

	return e.failTerminally(ctx, j, handlerErr)
}

// scheduleRetry returns the job to delayed with a backoff delay.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, delay time.Duration) error {
	nextRunAt := time.Now().UTC().Add(delay)

	if err := e.store.RescheduleJob(ctx, j.ID, handlerErr.Error(), nextRunAt); err != nil {
		e.logger.Error("failed to reschedule job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	j.State = job.StateDelayed
	j.DelayUntil = &nextRunAt
	e.hooks.EmitJobRetryScheduled(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.ID, j.Attempts, j.MaxAttempts, handlerErr)
}

// failTerminally marks the job as failed and emits the lifecycle event.
func (e *Executor) failTerminally(ctx context.Context, j *job.Job, handlerErr error) error {
	if err := e.store.FailJob(ctx, j.ID, handlerErr.Error()); err != nil {
		e.logger.Error("failed to mark job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	j.State = job.StateFailed
	e.hooks.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed after exhausting attempts",
		slog.String("job_id", j.ID.String()),
		slog.String("queue", j.Queue),
		slog.Int("attempts", j.Attempts),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
