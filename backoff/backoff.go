// Package backoff decides, on failure, whether a job retries and when.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Decision is the outcome of a retry policy evaluation.
type Decision struct {
	// Retry is true when the job should be rescheduled.
	Retry bool
	// Delay is the visibility delay before the next attempt. Zero when
	// Retry is false.
	Delay time.Duration
}

// Policy maps a job's attempt count to a retry decision. The zero value
// is not usable; construct with NewPolicy.
type Policy struct {
	strategy           Strategy
	defaultMaxAttempts int
}

// NewPolicy creates a Policy. A nil strategy falls back to
// DefaultStrategy; defaultMaxAttempts <= 0 falls back to 3.
func NewPolicy(strategy Strategy, defaultMaxAttempts int) *Policy {
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	return &Policy{strategy: strategy, defaultMaxAttempts: defaultMaxAttempts}
}

// DefaultMaxAttempts returns the attempt budget applied to jobs enqueued
// without one.
func (p *Policy) DefaultMaxAttempts() int { return p.defaultMaxAttempts }

// Decide evaluates a failure after the given number of attempts. Pure:
// same inputs produce the same Retry outcome (Delay may jitter).
// attempts is the number of executions so far, including the one that
// just failed; maxAttempts <= 0 means use the policy default.
func (p *Policy) Decide(attempts, maxAttempts int) Decision {
	if maxAttempts <= 0 {
		maxAttempts = p.defaultMaxAttempts
	}
	if attempts >= maxAttempts {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: p.strategy.Delay(attempts)}
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear increases the delay linearly with the attempt number.
// Delay = min(Base * attempt, Max).
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// NewLinear creates a linear backoff strategy.
func NewLinear(base, maxDelay time.Duration) *Linear {
	return &Linear{Base: base, Max: maxDelay}
}

// Delay returns Base * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	d := l.Base * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Max).
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter
// ──────────────────────────────────────────────────

// ExponentialWithJitter subtracts bounded random jitter from an
// exponential base so simultaneous retries don't reclaim in lockstep.
// Delay = random value in [d*(1-JitterFactor), d] where
// d = min(Base * 2^(attempt-1), Max).
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
	// JitterFactor in (0, 1]; the fraction of the delay that may be
	// randomly shaved off. Values outside the range are clamped.
	JitterFactor float64
}

// NewExponentialWithJitter creates an exponential backoff with bounded
// jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration, jitterFactor float64) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay, JitterFactor: jitterFactor}
}

// Delay returns a random duration in [d*(1-JitterFactor), d].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	d := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}

	f := e.JitterFactor
	if f <= 0 || f > 1 {
		f = 0.5
	}

	return time.Duration(d * (1 - f*rand.Float64())) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// ExponentialWithJitter with 1s base, 5m cap, and 0.5 jitter factor.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 5*time.Minute, 0.5)
}
