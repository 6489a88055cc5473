package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines per-queue behaviour: concurrency, pause state, and an
// optional claim rate limit.
type Config struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string

	// Concurrency limits how many jobs from this queue may be active
	// simultaneously in the local worker pool. Zero means use the
	// manager's default.
	Concurrency int

	// Paused blocks waiting→active claims for this queue from startup.
	// Already-active jobs are unaffected.
	Paused bool

	// RateLimit is the maximum sustained claims per second from this
	// queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// Runtime is a consistent snapshot of a queue's live control state.
type Runtime struct {
	Name        string
	Concurrency int
	Paused      bool
	Active      int
	RateLimit   float64
}

// queueState tracks runtime state for a single queue.
type queueState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-queue concurrency, pause state, and rate
// limiting. The worker pool calls Acquire before claiming from a queue
// and Release after execution completes; the admin surface flips pause
// state at any time. All reads observe a consistent snapshot under one
// mutex. It is safe for concurrent use.
type Manager struct {
	mu                 sync.Mutex
	queues             map[string]*queueState
	defaultConcurrency int
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed run unpaused at defaultConcurrency with no rate
// limit.
func NewManager(defaultConcurrency int, configs ...Config) *Manager {
	if defaultConcurrency <= 0 {
		defaultConcurrency = 1
	}
	m := &Manager{
		queues:             make(map[string]*queueState, len(configs)),
		defaultConcurrency: defaultConcurrency,
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newQueueState(cfg)
	}
	return m
}

func newQueueState(cfg Config) *queueState {
	qs := &queueState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// state returns the tracked state for a queue, creating a default entry
// on first sight. Caller must hold m.mu.
func (m *Manager) state(queue string) *queueState {
	qs := m.queues[queue]
	if qs == nil {
		qs = newQueueState(Config{Name: queue})
		m.queues[queue] = qs
	}
	return qs
}

func (m *Manager) concurrency(qs *queueState) int {
	if qs.config.Concurrency > 0 {
		return qs.config.Concurrency
	}
	return m.defaultConcurrency
}

// Acquire checks pause state, the rate limit, and the concurrency cap
// for the queue. If a claim is allowed it occupies a slot and returns
// true. The caller MUST call Release when the job completes.
//
// Acquire only peeks at the rate limiter; no token is consumed until
// Charge is called for a claim that actually produced a job. Polling an
// empty queue therefore never spends rate budget.
func (m *Manager) Acquire(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.state(queue)
	if qs.config.Paused {
		return false
	}
	if qs.active >= m.concurrency(qs) {
		return false
	}
	if qs.limiter != nil && qs.limiter.Tokens() < 1 {
		return false
	}

	qs.active++
	return true
}

// Charge debits one rate-limiter token for a successful claim. Callers
// invoke it after the store hands out a job; claims that found nothing
// skip it so the budget stays intact. Concurrent claimers may briefly
// overdraw the bucket, which the limiter repays from future refill.
func (m *Manager) Charge(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.limiter != nil {
		qs.limiter.Reserve()
	}
}

// Release frees the slot occupied by Acquire.
func (m *Manager) Release(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}
}

// Pause blocks future claims from the queue. Active jobs run to
// completion. Pausing a paused queue is a no-op.
func (m *Manager) Pause(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(queue).config.Paused = true
}

// Resume re-allows claims from the queue. Resuming an unpaused queue is
// a no-op.
func (m *Manager) Resume(queue string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(queue).config.Paused = false
}

// Paused reports whether the queue is currently paused.
func (m *Manager) Paused(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(queue).config.Paused
}

// SetConfig dynamically updates (or creates) a queue configuration.
// The current active count is preserved.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.queues[cfg.Name]
	qs := newQueueState(cfg)
	if existing != nil {
		qs.active = existing.active
	}
	m.queues[cfg.Name] = qs
}

// Snapshot returns a consistent view of the queue's control state.
func (m *Manager) Snapshot(queue string) Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()

	qs := m.state(queue)
	return Runtime{
		Name:        queue,
		Concurrency: m.concurrency(qs),
		Paused:      qs.config.Paused,
		Active:      qs.active,
		RateLimit:   qs.config.RateLimit,
	}
}

// ActiveCount returns the current number of occupied slots for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
