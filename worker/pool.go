package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/hook"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
)

// QueueGate controls per-queue concurrency, pausing, and rate limiting.
// The pool calls Acquire before claiming a job from a queue, Charge once
// the claim returns a job, and Release after execution completes.
// Acquire returns false when the queue is paused, at its concurrency
// cap, or rate limited; it must not spend rate budget itself, since
// most polls against an idle queue find nothing.
type QueueGate interface {
	Acquire(queue string) bool
	Charge(queue string)
	Release(queue string)
}

// Pool manages a set of concurrent worker goroutines that claim jobs
// and execute them through the Executor, plus background loops that
// promote due delayed jobs and requeue stale active ones.
type Pool struct {
	store    job.Store
	executor *Executor
	hooks    *hook.Registry
	gate     QueueGate
	logger   *slog.Logger

	workers      int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID

	// Promoter / reaper configuration.
	promoteInterval time.Duration
	promoteBatch    int
	staleThreshold  time.Duration

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolWorkers sets the number of concurrent claim goroutines.
func WithPoolWorkers(n int) PoolOption {
	return func(p *Pool) { p.workers = n }
}

// WithPoolQueues sets the queues the pool will claim from.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle worker sleeps between claims.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithPromoteInterval sets how often due delayed jobs are promoted to
// waiting. A zero value disables the promoter.
func WithPromoteInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.promoteInterval = d }
}

// WithPromoteBatch caps how many delayed jobs a single promoter tick
// moves to waiting.
func WithPromoteBatch(n int) PoolOption {
	return func(p *Pool) { p.promoteBatch = n }
}

// WithStaleThreshold sets the age past which an active job is presumed
// abandoned. Jobs with attempts remaining are requeued; jobs that spent
// their last attempt are failed. A zero value disables the reaper.
func WithStaleThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleThreshold = d }
}

// WithQueueGate sets the gate for pause, concurrency, and rate control.
func WithQueueGate(g QueueGate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:           store,
		executor:        executor,
		hooks:           hooks,
		logger:          logger,
		workers:         10,
		queues:          []string{"default"},
		pollInterval:    time.Second,
		promoteInterval: time.Second,
		promoteBatch:    100,
		workerID:        id.NewWorkerID(),
		stopCh:          make(chan struct{}),
		activeJobs:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the claim, promoter, and reaper goroutines. It returns
// immediately. A pool that has been stopped may be started again.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	// Stop closes stopCh, so a restarted pool needs a fresh channel.
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("workers", p.workers),
		slog.Any("queues", p.queues),
	)

	for range p.workers {
		p.wg.Add(1)
		go p.claimLoop()
	}

	if p.promoteInterval > 0 {
		p.wg.Add(1)
		go p.promoteLoop()
	}

	if p.staleThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to
// finish. If the context has a deadline, active jobs are cancelled when
// time runs out; their records stay active until the stale reaper
// requeues them.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine. It cycles over the
// configured queues, claiming and executing at most one job per queue
// per pass, and sleeps for the poll interval when a full pass finds
// nothing runnable.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		executed := false
		for _, queue := range p.queues {
			select {
			case <-p.stopCh:
				return
			default:
			}

			if p.claimOne(queue) {
				executed = true
			}
		}

		if !executed {
			p.sleep()
		}
	}
}

// claimOne attempts to claim and execute a single job from the queue.
// It reports whether a job was executed.
func (p *Pool) claimOne(queue string) bool {
	// Queues without a handler are skipped entirely so their jobs stay
	// waiting and show up in the health check.
	if !p.executor.CanExecute(queue) {
		return false
	}

	if p.gate != nil && !p.gate.Acquire(queue) {
		return false
	}
	release := func() {
		if p.gate != nil {
			p.gate.Release(queue)
		}
	}

	j, err := p.store.ClaimJob(context.Background(), queue, p.workerID)
	if err != nil {
		release()
		if !errors.Is(err, relayq.ErrNoJob) {
			p.logger.Error("claim error",
				slog.String("queue", queue),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if p.gate != nil {
		p.gate.Charge(queue)
	}

	p.hooks.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)

	if execErr := p.executor.Execute(ctx, j); execErr != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackJob(j.ID.String())
	cancel()
	release()
	return true
}

// promoteLoop periodically moves due delayed jobs to waiting.
func (p *Pool) promoteLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.promoteDue()
		}
	}
}

func (p *Pool) promoteDue() {
	count, err := p.store.PromoteDueJobs(context.Background(), time.Now().UTC(), p.promoteBatch)
	if err != nil {
		p.logger.Error("promote error", slog.String("error", err.Error()))
		return
	}
	if count == 0 {
		return
	}

	p.hooks.EmitJobsPromoted(context.Background(), count)
	p.logger.Debug("promoted delayed jobs", slog.Int("count", count))
}

// reaperLoop periodically requeues active jobs that have outlived the
// staleness threshold, recovering work abandoned by a crashed worker.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.requeueStale()
		}
	}
}

func (p *Pool) requeueStale() {
	stale, err := p.store.RequeueStaleJobs(context.Background(), p.staleThreshold)
	if err != nil {
		p.logger.Error("stale requeue error", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		if j.State == job.StateFailed {
			p.logger.Warn("abandoned stale job, attempt budget spent",
				slog.String("job_id", j.ID.String()),
				slog.String("queue", j.Queue),
				slog.Int("attempts", j.Attempts),
			)
			continue
		}
		p.logger.Info("requeued stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempts", j.Attempts),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
