// Package admin provides the administrative control surface for the
// engine: queue statistics, job inspection, retry and removal, pause
// and resume, terminal-job cleanup, and health evaluation.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
	"github.com/IT-For-Youth-Ghana/relayq/observability"
	"github.com/IT-For-Youth-Ghana/relayq/queue"
)

// Service provides high-level administrative operations over a store,
// queue manager, and handler registry.
type Service struct {
	store      job.Store
	queues     *queue.Manager
	registry   *job.Registry
	thresholds observability.Thresholds
	logger     *slog.Logger
}

// NewService creates an admin service.
func NewService(
	store job.Store,
	queues *queue.Manager,
	registry *job.Registry,
	thresholds observability.Thresholds,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		queues:     queues,
		registry:   registry,
		thresholds: thresholds,
		logger:     logger,
	}
}

// queueNames returns the union of queues present in the store and
// queues with a registered handler.
func (s *Service) queueNames(ctx context.Context) ([]string, error) {
	stored, err := s.store.Queues(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}

	seen := make(map[string]struct{}, len(stored))
	names := make([]string, 0, len(stored))
	for _, q := range stored {
		seen[q] = struct{}{}
		names = append(names, q)
	}
	for _, q := range s.registry.Queues() {
		if _, ok := seen[q]; !ok {
			names = append(names, q)
		}
	}
	return names, nil
}

// queueStats counts jobs by state for one queue.
func (s *Service) queueStats(ctx context.Context, queueName string) (observability.QueueStats, error) {
	qs := observability.QueueStats{Queue: queueName, Paused: s.queues.Paused(queueName)}

	counts := []struct {
		state job.State
		dst   *int64
	}{
		{job.StateWaiting, &qs.Waiting},
		{job.StateDelayed, &qs.Delayed},
		{job.StateActive, &qs.Active},
		{job.StateCompleted, &qs.Completed},
		{job.StateFailed, &qs.Failed},
	}
	for _, c := range counts {
		n, err := s.store.CountJobs(ctx, job.CountOpts{Queue: queueName, State: c.state})
		if err != nil {
			return qs, fmt.Errorf("count %s jobs on %s: %w", c.state, queueName, err)
		}
		*c.dst = n
	}
	return qs, nil
}

// GetStats returns per-queue job counts. With an empty queue name it
// covers every known queue; otherwise just the named one.
func (s *Service) GetStats(ctx context.Context, queueName string) (observability.Stats, error) {
	var names []string
	if queueName != "" {
		names = []string{queueName}
	} else {
		var err error
		names, err = s.queueNames(ctx)
		if err != nil {
			return nil, err
		}
	}

	stats := make(observability.Stats, len(names))
	for _, name := range names {
		qs, err := s.queueStats(ctx, name)
		if err != nil {
			return nil, err
		}
		stats[name] = qs
	}
	return stats, nil
}

// ListJobs returns jobs in the given state, paginated.
func (s *Service) ListJobs(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return s.store.ListJobs(ctx, state, opts)
}

// GetJob retrieves a single job by ID.
func (s *Service) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// RetryJob moves a failed job back to waiting with a fresh attempt
// budget. Returns false when the job exists but is not failed.
func (s *Service) RetryJob(ctx context.Context, jobID id.JobID) (bool, error) {
	ok, err := s.store.RetryJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info("job retried", slog.String("job_id", jobID.String()))
	}
	return ok, nil
}

// RetryAllFailed retries up to limit failed jobs on the queue, oldest
// first. A non-positive limit retries all of them.
func (s *Service) RetryAllFailed(ctx context.Context, queueName string, limit int) (int64, error) {
	n, err := s.store.RetryAllFailed(ctx, queueName, limit)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("failed jobs retried",
			slog.String("queue", queueName),
			slog.Int64("count", n),
		)
	}
	return n, nil
}

// RemoveJob deletes a job regardless of state. Removing an active job
// does not interrupt its running handler; the handler's eventual state
// write simply finds nothing to update.
func (s *Service) RemoveJob(ctx context.Context, jobID id.JobID) error {
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job removed", slog.String("job_id", jobID.String()))
	return nil
}

// PauseQueue stops new claims from the queue. Jobs already active
// finish normally; pausing is idempotent.
func (s *Service) PauseQueue(_ context.Context, queueName string) {
	s.queues.Pause(queueName)
	s.logger.Info("queue paused", slog.String("queue", queueName))
}

// ResumeQueue re-enables claims from the queue.
func (s *Service) ResumeQueue(_ context.Context, queueName string) {
	s.queues.Resume(queueName)
	s.logger.Info("queue resumed", slog.String("queue", queueName))
}

// CleanQueue removes terminal jobs on the queue that finished before
// olderThan ago. With no states given it cleans completed jobs only;
// pass failed explicitly to clean those too.
func (s *Service) CleanQueue(ctx context.Context, queueName string, olderThan time.Duration, states ...job.State) (int64, error) {
	if len(states) == 0 {
		states = []job.State{job.StateCompleted}
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	removed, err := s.store.PurgeJobs(ctx, queueName, states, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("queue cleaned",
			slog.String("queue", queueName),
			slog.Int64("removed", removed),
		)
	}
	return removed, nil
}

// HealthCheck evaluates every queue's stats against the configured
// thresholds. It reports issues rather than returning errors for
// threshold violations; only a store failure produces an error.
func (s *Service) HealthCheck(ctx context.Context) (observability.Health, error) {
	stats, err := s.GetStats(ctx, "")
	if err != nil {
		return observability.Health{}, err
	}

	handled := make(map[string]bool)
	for _, q := range s.registry.Queues() {
		handled[q] = true
	}

	return observability.Evaluate(s.thresholds, stats, handled), nil
}

// Ping reports whether the underlying store is reachable, when the
// store exposes a Ping method.
func (s *Service) Ping(ctx context.Context) error {
	p, ok := s.store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", relayq.ErrPersistence, err)
	}
	return nil
}
