package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/backoff"
	"github.com/IT-For-Youth-Ghana/relayq/hook"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
	"github.com/IT-For-Youth-Ghana/relayq/middleware"
	"github.com/IT-For-Youth-Ghana/relayq/queue"
	"github.com/IT-For-Youth-Ghana/relayq/store/memory"
	"github.com/IT-For-Youth-Ghana/relayq/worker"
)

func setupTestPool(t *testing.T, workers int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	policy := backoff.NewPolicy(backoff.NewConstant(10*time.Millisecond), 3)

	executor := worker.NewExecutor(
		reg, hooks, s, policy, logger,
		middleware.Recover(logger),
	)

	opts = append([]worker.PoolOption{
		worker.WithPoolWorkers(workers),
		worker.WithPollInterval(pollInterval),
		worker.WithPromoteInterval(10 * time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
	}, opts...)

	pool := worker.NewPool(s, executor, hooks, logger, opts...)
	return pool, s, reg
}

func enqueueWaiting(t *testing.T, s *memory.Store, queueName string, payload any) *job.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	j := &job.Job{
		Entity:      relayq.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queueName,
		Payload:     raw,
		State:       job.StateWaiting,
		MaxAttempts: 3,
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	return j
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be a no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be a no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_RestartProcessesJobs(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		processed.Add(1)
		return nil, nil
	}))

	enqueueWaiting(t, s, "default", struct{}{})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool { return processed.Load() == 1 })
	stopPool(t, pool)

	// A second start must spawn live workers, not goroutines that see
	// the closed stop channel and exit immediately.
	enqueueWaiting(t, s, "default", struct{}{})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 5*time.Second, func() bool { return processed.Load() == 2 })
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, p struct{ Name string }) (any, error) {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return map[string]string{"greeting": "hello Alice"}, nil
	}))

	j := enqueueWaiting(t, s, "default", struct{ Name string }{Name: "Alice"})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 5*time.Second, processed.Load)
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if len(got.Result) == 0 {
		t.Error("result not recorded")
	}
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return nil, nil
	}))

	j := enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	})

	if n := calls.Load(); n != 3 {
		t.Errorf("handler calls = %d, want 3", n)
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
}

func TestPool_FailsAfterAttemptBudget(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		calls.Add(1)
		return nil, errors.New("always fails")
	}))

	j := enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})

	if n := calls.Load(); n != 3 {
		t.Errorf("handler calls = %d, want MaxAttempts=3", n)
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.LastError != "always fails" {
		t.Errorf("last error = %q", got.LastError)
	}
}

func TestPool_PermanentErrorSkipsRetries(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		calls.Add(1)
		return nil, job.Permanent(errors.New("bad payload"))
	}))

	j := enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})

	if n := calls.Load(); n != 1 {
		t.Errorf("handler calls = %d, want 1", n)
	}
}

func TestPool_RecoversFromPanic(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		panic("handler exploded")
	}))

	j := enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	// The panic is converted to an error and consumes the attempt budget.
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	})
}

func TestPool_UnhandledQueueLeftWaiting(t *testing.T) {
	pool, s, _ := setupTestPool(t, 1, 10*time.Millisecond)

	j := enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	stopPool(t, pool)

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("state = %s, want waiting (no handler registered)", got.State)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	manager := queue.NewManager(2)
	pool, s, reg := setupTestPool(t, 4, 10*time.Millisecond,
		worker.WithQueueGate(manager),
	)

	var active, peak atomic.Int32
	release := make(chan struct{})

	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil, nil
	}))

	for range 8 {
		enqueueWaiting(t, s, "default", struct{}{})
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return active.Load() == 2 })
	// Give extra claim loops a chance to overshoot.
	time.Sleep(50 * time.Millisecond)
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}

	close(release)
	waitFor(t, 5*time.Second, func() bool {
		n, err := s.CountJobs(context.Background(), job.CountOpts{State: job.StateCompleted})
		return err == nil && n == 8
	})
	stopPool(t, pool)
}

func TestPool_PausedQueueNotClaimed(t *testing.T) {
	manager := queue.NewManager(4)
	manager.Pause("default")

	pool, s, reg := setupTestPool(t, 2, 10*time.Millisecond,
		worker.WithQueueGate(manager),
	)

	var calls atomic.Int32
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		calls.Add(1)
		return nil, nil
	}))

	j := enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	time.Sleep(100 * time.Millisecond)
	if n := calls.Load(); n != 0 {
		t.Fatalf("paused queue executed %d jobs", n)
	}

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StateWaiting {
		t.Fatalf("state = %s, want waiting", got.State)
	}

	// Resume and the backlog drains.
	manager.Resume("default")
	waitFor(t, 5*time.Second, func() bool { return calls.Load() == 1 })
}

func TestPool_PromotesDelayedJobs(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	var processed atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		processed.Store(true)
		return nil, nil
	}))

	du := time.Now().UTC().Add(50 * time.Millisecond)
	j := &job.Job{
		Entity:      relayq.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       "default",
		State:       job.StateDelayed,
		DelayUntil:  &du,
		MaxAttempts: 3,
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	// Not runnable before the visibility time.
	time.Sleep(20 * time.Millisecond)
	if processed.Load() {
		t.Fatal("delayed job executed before DelayUntil")
	}

	waitFor(t, 5*time.Second, processed.Load)
}

func TestPool_ShutdownWaitsForActiveJob(t *testing.T) {
	pool, s, reg := setupTestPool(t, 1, 10*time.Millisecond)

	started := make(chan struct{})
	var finished atomic.Bool
	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	}))

	j := enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}

	if !finished.Load() {
		t.Fatal("in-flight job not allowed to finish during graceful stop")
	}
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.State != job.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
}

func TestPool_HookEventsEmitted(t *testing.T) {
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	hooks := hook.NewRegistry(logger)

	var started, completed atomic.Int32
	hooks.Register(&countingHook{started: &started, completed: &completed})

	policy := backoff.NewPolicy(backoff.NewConstant(10*time.Millisecond), 3)
	executor := worker.NewExecutor(reg, hooks, s, policy, logger, middleware.Recover(logger))
	pool := worker.NewPool(s, executor, hooks, logger,
		worker.WithPoolWorkers(1),
		worker.WithPollInterval(10*time.Millisecond),
		worker.WithPoolQueues([]string{"default"}),
	)

	job.RegisterDefinition(reg, job.NewDefinition("default", func(_ context.Context, _ struct{}) (any, error) {
		return nil, nil
	}))
	enqueueWaiting(t, s, "default", struct{}{})

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	defer stopPool(t, pool)

	waitFor(t, 5*time.Second, func() bool {
		return started.Load() == 1 && completed.Load() == 1
	})
}

type countingHook struct {
	started   *atomic.Int32
	completed *atomic.Int32
}

func (h *countingHook) Name() string { return "counting" }

func (h *countingHook) OnJobStarted(_ context.Context, _ *job.Job) error {
	h.started.Add(1)
	return nil
}

func (h *countingHook) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	h.completed.Add(1)
	return nil
}
