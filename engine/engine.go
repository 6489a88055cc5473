// Package engine wires all relayq subsystems together. It creates the
// hook registry, handler registry, middleware chain, retry policy,
// queue manager, and worker pool, and provides the Register/Enqueue
// operations producers call.
//
// This package exists to break the import cycle: the root relayq
// package defines Entity (imported by job and the stores) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/admin"
	"github.com/IT-For-Youth-Ghana/relayq/backoff"
	"github.com/IT-For-Youth-Ghana/relayq/hook"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
	mw "github.com/IT-For-Youth-Ghana/relayq/middleware"
	"github.com/IT-For-Youth-Ghana/relayq/observability"
	"github.com/IT-For-Youth-Ghana/relayq/queue"
	"github.com/IT-For-Youth-Ghana/relayq/worker"
)

// Engine wraps a Broker with typed subsystem access.
// Use Build() to create one from a Broker.
type Engine struct {
	b        *relayq.Broker
	hooks    *hook.Registry
	registry *job.Registry
	jobStore job.Store
	policy   *backoff.Policy
	pool     *worker.Pool
	mws      []mw.Middleware
	logger   *slog.Logger

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// Health thresholds for the admin surface.
	thresholds observability.Thresholds

	// Retry strategy (nil means backoff.DefaultStrategy).
	strategy backoff.Strategy

	// OpenTelemetry provider (optional; nil means use global).
	meterProvider metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.hooks.Register(h)
	}
}

// WithMiddleware adds middleware to the engine's chain, after the
// built-in stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() (exponential with jitter) is used.
func WithBackoff(s backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.strategy = s
	}
}

// WithQueueConfig registers queue-level concurrency, pause, and rate
// limiting configurations. Queues not listed run at the broker's
// default concurrency with no rate limit.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithThresholds sets the health thresholds used by the admin surface.
func WithThresholds(th observability.Thresholds) Option {
	return func(eng *Engine) {
		eng.thresholds = th
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the metrics hook use this
// provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Broker.
// The Broker's store must implement job.Store.
func Build(b *relayq.Broker, opts ...Option) (*Engine, error) {
	logger := b.Logger()
	store := b.Store()

	if store == nil {
		return nil, relayq.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("relayq: store does not implement job.Store")
	}

	eng := &Engine{
		b:          b,
		hooks:      hook.NewRegistry(logger),
		registry:   job.NewRegistry(),
		jobStore:   js,
		logger:     logger,
		thresholds: observability.DefaultThresholds(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := b.Config()
	eng.policy = backoff.NewPolicy(eng.strategy, config.DefaultMaxAttempts)

	// Build metrics middleware and hook (custom provider or global).
	var metricsMw mw.Middleware
	var metricsHook *observability.MetricsHook
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/IT-For-Youth-Ghana/relayq")
		metricsMw = mw.MetricsWithMeter(meter)
		metricsHook = observability.NewMetricsHookWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
		metricsHook = observability.NewMetricsHook()
	}
	eng.hooks.Register(metricsHook)

	// Build default middleware stack: recover → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.queueManager = queue.NewManager(config.DefaultConcurrency, eng.queueConfigs...)

	executor := worker.NewExecutor(eng.registry, eng.hooks, eng.jobStore, eng.policy, logger, allMws...)

	// One claim goroutine per queue slot, honoring per-queue
	// concurrency overrides so a queue configured above the default can
	// still be saturated. The queue manager caps in-flight work per
	// queue regardless.
	overrides := make(map[string]int, len(eng.queueConfigs))
	for _, qc := range eng.queueConfigs {
		overrides[qc.Name] = qc.Concurrency
	}
	workers := 0
	for _, q := range config.Queues {
		c := overrides[q]
		if c <= 0 {
			c = config.DefaultConcurrency
		}
		workers += c
	}
	if workers <= 0 {
		workers = 1
	}

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.hooks,
		logger,
		worker.WithPoolWorkers(workers),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithPromoteInterval(config.PromoteInterval),
		worker.WithStaleThreshold(config.StaleActiveThreshold),
		worker.WithQueueGate(eng.queueManager),
	)

	// Wire back into the Broker.
	b.SetPool(eng.pool)
	b.SetHooks(eng.hooks)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job on the queue. The payload is
// JSON-marshalled; enqueue options override the queue's registered
// defaults.
func Enqueue[T any](ctx context.Context, eng *Engine, queueName string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for queue %q: %w", queueName, err)
	}

	return eng.EnqueueRaw(ctx, queueName, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, queueName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	// Start from the queue's registered defaults, then apply explicit
	// options on top.
	jobOpts := eng.registry.Defaults(queueName)
	for _, opt := range opts {
		opt(&jobOpts)
	}

	maxAttempts := jobOpts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = eng.policy.DefaultMaxAttempts()
	}

	j := &job.Job{
		Entity:      relayq.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queueName,
		Payload:     payload,
		State:       job.StateWaiting,
		Priority:    jobOpts.Priority,
		MaxAttempts: maxAttempts,
		Timeout:     jobOpts.Timeout,
	}

	if jobOpts.Delay > 0 {
		delayUntil := time.Now().UTC().Add(jobOpts.Delay)
		j.State = job.StateDelayed
		j.DelayUntil = &delayUntil
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("enqueue job on %q: %w", queueName, err)
	}

	eng.hooks.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start begins job processing by starting the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.b.Start(ctx)
}

// Stop gracefully shuts down the engine. When the context carries no
// deadline, the broker's configured shutdown timeout applies.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.b.Config().ShutdownTimeout)
		defer cancel()
	}
	return eng.b.Stop(ctx)
}

// Admin returns an admin service bound to this engine's store, queue
// manager, registry, and thresholds.
func (eng *Engine) Admin() *admin.Service {
	return admin.NewService(eng.jobStore, eng.queueManager, eng.registry, eng.thresholds, eng.logger)
}

// Hooks returns the hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Broker returns the underlying Broker.
func (eng *Engine) Broker() *relayq.Broker { return eng.b }

// QueueManager returns the queue manager.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
