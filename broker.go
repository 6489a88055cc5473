package relayq

import (
	"context"
	"log/slog"
)

// Option configures a Broker.
type Option func(*Broker) error

// Storer is the minimal store interface held by the Broker. It covers
// lifecycle operations only. The full job.Store interface is used in the
// subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for shutdown lifecycle hooks.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Broker is the central coordinator for background job processing.
//
// Create one with New() and functional options. The Broker holds
// references to subsystem components via internal interfaces to avoid
// import cycles; use engine.Build to wire everything together.
type Broker struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Broker with the given options.
func New(opts ...Option) (*Broker, error) {
	b := &Broker{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Logger returns the broker's logger.
func (b *Broker) Logger() *slog.Logger { return b.logger }

// Store returns the broker's store.
func (b *Broker) Store() Storer { return b.store }

// Config returns a copy of the broker's configuration.
func (b *Broker) Config() Config { return b.config }

// SetPool sets the worker pool (called by the engine package).
func (b *Broker) SetPool(p poolRunner) { b.pool = p }

// SetHooks sets the hook emitter (called by the engine package).
func (b *Broker) SetHooks(h hookEmitter) { b.hooks = h }

// Start begins job processing.
func (b *Broker) Start(ctx context.Context) error {
	if b.pool == nil {
		return ErrNoStore
	}
	if err := b.pool.Start(ctx); err != nil {
		return err
	}
	b.started = true
	return nil
}

// Stop gracefully shuts down the broker: the pool stops claiming
// immediately and in-flight jobs get the configured grace period.
func (b *Broker) Stop(ctx context.Context) error {
	if b.pool != nil && b.started {
		if err := b.pool.Stop(ctx); err != nil {
			b.logger.Error("pool stop error", "error", err)
		}
	}
	if b.hooks != nil {
		b.hooks.EmitShutdown(ctx)
	}
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

// WithQueues sets the queues the broker will poll.
func WithQueues(queues ...string) Option {
	return func(b *Broker) error {
		b.config.Queues = queues
		return nil
	}
}

// WithDefaultConcurrency sets the per-queue concurrency for queues
// without an explicit configuration.
func WithDefaultConcurrency(n int) Option {
	return func(b *Broker) error {
		b.config.DefaultConcurrency = n
		return nil
	}
}

// WithLogger sets the structured logger for the broker.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) error {
		b.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the broker.
// The store must implement Storer at minimum; typically it will also
// implement job.Store.
func WithStore(s Storer) Option {
	return func(b *Broker) error {
		b.store = s
		return nil
	}
}

// WithConfig replaces the broker's whole configuration.
func WithConfig(cfg Config) Option {
	return func(b *Broker) error {
		b.config = cfg
		return nil
	}
}
