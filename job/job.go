package job

import (
	"fmt"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is eligible to be claimed by a worker.
	StateWaiting State = "waiting"
	// StateDelayed means the job becomes claimable once DelayUntil passes.
	StateDelayed State = "delayed"
	// StateActive means a worker has claimed the job and is executing it.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempt budget (or failed
	// permanently) and will not be retried automatically.
	StateFailed State = "failed"
)

// States lists every valid job state.
var States = []State{StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed}

// Terminal reports whether s is a terminal state. Terminal jobs are
// immutable except through an explicit administrative retry.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseState validates a state string from an external surface.
func ParseState(s string) (State, error) {
	for _, st := range States {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("job: unknown state %q", s)
}

// Job represents one unit of deferred work. A job belongs to exactly one
// queue for its lifetime; the queue name also selects the handler.
type Job struct {
	relayq.Entity

	ID          id.JobID      `json:"id"`
	Queue       string        `json:"queue"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	Result      []byte        `json:"result,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	DelayUntil  *time.Time    `json:"delay_until,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Due reports whether the job is claimable at the given instant: waiting,
// or delayed with an elapsed DelayUntil.
func (j *Job) Due(now time.Time) bool {
	switch j.State {
	case StateWaiting:
		return true
	case StateDelayed:
		return j.DelayUntil == nil || !j.DelayUntil.After(now)
	default:
		return false
	}
}
