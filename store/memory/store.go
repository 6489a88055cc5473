package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
	"github.com/IT-For-Youth-Ghana/relayq/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Producer path
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return relayq.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Worker path
// ──────────────────────────────────────────────────

// ClaimJob atomically claims the best waiting job on the queue. The
// store mutex makes the select-and-transition a single critical
// section, so exactly one concurrent caller wins a given job.
func (m *Store) ClaimJob(_ context.Context, queue string, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job.Job, 0, 8)
	for _, j := range m.jobs {
		if j.State != job.StateWaiting || j.Queue != queue {
			continue
		}
		candidates = append(candidates, j)
	}
	if len(candidates) == 0 {
		return nil, relayq.ErrNoJob
	}

	// Priority DESC, then creation order.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	j := candidates[0]
	now := time.Now().UTC()
	j.State = job.StateActive
	j.Attempts++
	j.WorkerID = workerID
	j.StartedAt = &now
	j.UpdatedAt = now

	cp := *j
	return &cp, nil
}

// CompleteJob transitions an active job to completed.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return relayq.ErrJobNotFound
	}
	if j.State != job.StateActive {
		return fmt.Errorf("complete job %s in state %s: %w", jobID, j.State, relayq.ErrInvalidState)
	}

	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.LastError = ""
	j.FinishedAt = &now
	j.UpdatedAt = now
	return nil
}

// FailJob transitions an active job to terminal failed.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return relayq.ErrJobNotFound
	}
	if j.State != job.StateActive {
		return fmt.Errorf("fail job %s in state %s: %w", jobID, j.State, relayq.ErrInvalidState)
	}

	now := time.Now().UTC()
	j.State = job.StateFailed
	j.LastError = lastError
	j.FinishedAt = &now
	j.UpdatedAt = now
	return nil
}

// RescheduleJob returns an active job to delayed for a later retry.
func (m *Store) RescheduleJob(_ context.Context, jobID id.JobID, lastError string, delayUntil time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return relayq.ErrJobNotFound
	}
	if j.State != job.StateActive {
		return fmt.Errorf("reschedule job %s in state %s: %w", jobID, j.State, relayq.ErrInvalidState)
	}

	j.State = job.StateDelayed
	j.LastError = lastError
	j.DelayUntil = &delayUntil
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// PromoteDueJobs moves up to limit due delayed jobs to waiting.
func (m *Store) PromoteDueJobs(_ context.Context, now time.Time, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]*job.Job, 0, 8)
	for _, j := range m.jobs {
		if j.State != job.StateDelayed {
			continue
		}
		if j.DelayUntil != nil && j.DelayUntil.After(now) {
			continue
		}
		due = append(due, j)
	}

	// Oldest visibility time promotes first.
	sort.Slice(due, func(i, k int) bool {
		di, dk := due[i].DelayUntil, due[k].DelayUntil
		switch {
		case di == nil:
			return true
		case dk == nil:
			return false
		default:
			return di.Before(*dk)
		}
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for _, j := range due {
		j.State = job.StateWaiting
		j.DelayUntil = nil
		j.UpdatedAt = now
	}
	return len(due), nil
}

// RequeueStaleJobs returns active jobs claimed longer ago than olderThan
// to waiting. The consumed attempt stays counted, so a job whose crashed
// attempt was its last is failed instead of requeued; requeuing it would
// let the next claim exceed the attempt budget.
func (m *Store) RequeueStaleJobs(_ context.Context, olderThan time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.StartedAt == nil || j.StartedAt.After(cutoff) {
			continue
		}

		if j.Attempts >= j.MaxAttempts {
			finished := now
			j.State = job.StateFailed
			j.LastError = "stale execution abandoned"
			j.FinishedAt = &finished
		} else {
			j.State = job.StateWaiting
			j.StartedAt = nil
		}
		j.WorkerID = id.WorkerID{}
		j.UpdatedAt = now

		cp := *j
		stale = append(stale, &cp)
	}
	return stale, nil
}

// ──────────────────────────────────────────────────
// Admin path
// ──────────────────────────────────────────────────

// RetryJob transitions a failed job back to waiting with a fresh
// attempt budget. Returns false without modifying the job when it is
// not in failed state.
func (m *Store) RetryJob(_ context.Context, jobID id.JobID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return false, relayq.ErrJobNotFound
	}
	if j.State != job.StateFailed {
		return false, nil
	}

	m.resetForRetry(j)
	return true, nil
}

// RetryAllFailed retries up to limit failed jobs on the queue, oldest
// first.
func (m *Store) RetryAllFailed(_ context.Context, queue string, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	failed := make([]*job.Job, 0, 8)
	for _, j := range m.jobs {
		if j.State != job.StateFailed || j.Queue != queue {
			continue
		}
		failed = append(failed, j)
	}

	sort.Slice(failed, func(i, k int) bool {
		return failed[i].CreatedAt.Before(failed[k].CreatedAt)
	})
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}

	for _, j := range failed {
		m.resetForRetry(j)
	}
	return int64(len(failed)), nil
}

// resetForRetry is called with the mutex held.
func (m *Store) resetForRetry(j *job.Job) {
	j.State = job.StateWaiting
	j.Attempts = 0
	j.LastError = ""
	j.Result = nil
	j.WorkerID = id.WorkerID{}
	j.StartedAt = nil
	j.FinishedAt = nil
	j.DelayUntil = nil
	j.UpdatedAt = time.Now().UTC()
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, relayq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns jobs matching the given state.
func (m *Store) ListJobs(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// DeleteJob removes a job by ID regardless of state.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return relayq.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// Queues returns the distinct queue names present in the store, sorted.
func (m *Store) Queues(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, j := range m.jobs {
		seen[j.Queue] = struct{}{}
	}
	queues := make([]string, 0, len(seen))
	for q := range seen {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues, nil
}

// PurgeJobs deletes terminal jobs on the queue finished before the
// cutoff. A zero cutoff matches any finished time.
func (m *Store) PurgeJobs(_ context.Context, queue string, states []job.State, finishedBefore time.Time) (int64, error) {
	for _, s := range states {
		if !s.Terminal() {
			return 0, fmt.Errorf("purge state %s: %w", s, relayq.ErrInvalidState)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stateSet := make(map[job.State]struct{}, len(states))
	for _, s := range states {
		stateSet[s] = struct{}{}
	}

	var removed int64
	for key, j := range m.jobs {
		if queue != "" && j.Queue != queue {
			continue
		}
		if _, ok := stateSet[j.State]; !ok {
			continue
		}
		if !finishedBefore.IsZero() {
			if j.FinishedAt == nil || !j.FinishedAt.Before(finishedBefore) {
				continue
			}
		}
		delete(m.jobs, key)
		removed++
	}
	return removed, nil
}
