package backoff_test

import (
	"testing"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear_GrowsLinearly(t *testing.T) {
	l := backoff.NewLinear(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{10, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // 1 * 2^0
		{2, 2 * time.Second},  // 1 * 2^1
		{3, 4 * time.Second},  // 1 * 2^2
		{5, 16 * time.Second}, // 1 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Hour, 0.5)

	for attempt := 1; attempt <= 5; attempt++ {
		base := time.Second << (attempt - 1)
		low := base / 2

		for range 100 {
			got := e.Delay(attempt)
			if got < low || got > base {
				t.Errorf("Delay(%d) = %v, want within [%v, %v]", attempt, got, low, base)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute, 0.5)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(3)] = true
	}

	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestPolicy_RetriesUntilBudgetExhausted(t *testing.T) {
	p := backoff.NewPolicy(backoff.NewConstant(time.Second), 3)

	tests := []struct {
		attempts    int
		maxAttempts int
		wantRetry   bool
	}{
		{1, 3, true},
		{2, 3, true},
		{3, 3, false}, // budget spent
		{4, 3, false},
		{1, 1, false},
		{2, 0, true},  // 0 → default max of 3
		{3, 0, false},
	}
	for _, tt := range tests {
		d := p.Decide(tt.attempts, tt.maxAttempts)
		if d.Retry != tt.wantRetry {
			t.Errorf("Decide(%d, %d).Retry = %v, want %v", tt.attempts, tt.maxAttempts, d.Retry, tt.wantRetry)
		}
		if !d.Retry && d.Delay != 0 {
			t.Errorf("Decide(%d, %d) terminal decision carries delay %v", tt.attempts, tt.maxAttempts, d.Delay)
		}
		if d.Retry && d.Delay != time.Second {
			t.Errorf("Decide(%d, %d).Delay = %v, want 1s", tt.attempts, tt.maxAttempts, d.Delay)
		}
	}
}

func TestNewPolicy_Defaults(t *testing.T) {
	p := backoff.NewPolicy(nil, 0)
	if p.DefaultMaxAttempts() != 3 {
		t.Errorf("DefaultMaxAttempts() = %d, want 3", p.DefaultMaxAttempts())
	}
	if d := p.Decide(1, 0); !d.Retry {
		t.Error("first failure with defaults should retry")
	}
}
