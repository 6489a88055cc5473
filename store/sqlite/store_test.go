package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
	"github.com/IT-For-Youth-Ghana/relayq/store/sqlite"
)

func setupStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newJob(queueName string) *job.Job {
	return &job.Job{
		Entity:      relayq.NewEntity(),
		ID:          id.NewJobID(),
		Queue:       queueName,
		Payload:     []byte(`{"n":1}`),
		State:       job.StateWaiting,
		MaxAttempts: 3,
	}
}

func mustEnqueue(t *testing.T, s *sqlite.Store, j *job.Job) {
	t.Helper()
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := setupStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestEnqueueDuplicate(t *testing.T) {
	s := setupStore(t)
	j := newJob("mail")
	mustEnqueue(t, s, j)
	if err := s.EnqueueJob(context.Background(), j); !errors.Is(err, relayq.ErrJobAlreadyExists) {
		t.Fatalf("err = %v, want ErrJobAlreadyExists", err)
	}
}

func TestClaimJob(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	low := newJob("mail")
	high := newJob("mail")
	high.Priority = 5
	mustEnqueue(t, s, low)
	mustEnqueue(t, s, high)

	worker := id.NewWorkerID()
	claimed, err := s.ClaimJob(ctx, "mail", worker)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ID != high.ID {
		t.Errorf("claimed %s, want higher-priority %s", claimed.ID, high.ID)
	}
	if claimed.State != job.StateActive || claimed.Attempts != 1 {
		t.Errorf("state = %s attempts = %d, want active/1", claimed.State, claimed.Attempts)
	}
	if claimed.WorkerID != worker || claimed.StartedAt == nil {
		t.Error("worker ID or StartedAt not recorded")
	}

	// Second claim gets the remaining job, third gets ErrNoJob.
	if _, err := s.ClaimJob(ctx, "mail", worker); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if _, err := s.ClaimJob(ctx, "mail", worker); !errors.Is(err, relayq.ErrNoJob) {
		t.Fatalf("err = %v, want ErrNoJob", err)
	}
}

func TestCompleteJob(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob("mail")
	mustEnqueue(t, s, j)
	claimed, err := s.ClaimJob(ctx, "mail", id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := s.CompleteJob(ctx, claimed.ID, []byte(`"done"`)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := s.GetJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateCompleted || string(got.Result) != `"done"` || got.FinishedAt == nil {
		t.Errorf("job after complete = %+v", got)
	}

	// Completing again violates the state guard.
	if err := s.CompleteJob(ctx, claimed.ID, nil); !errors.Is(err, relayq.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestRescheduleAndPromote(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob("mail")
	mustEnqueue(t, s, j)
	claimed, err := s.ClaimJob(ctx, "mail", id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	delayUntil := time.Now().UTC().Add(time.Hour)
	if err := s.RescheduleJob(ctx, claimed.ID, "boom", delayUntil); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	got, _ := s.GetJob(ctx, claimed.ID)
	if got.State != job.StateDelayed || got.LastError != "boom" {
		t.Fatalf("job after reschedule = %+v", got)
	}

	// Not due yet.
	n, err := s.PromoteDueJobs(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 0 {
		t.Fatalf("promoted %d, want 0", n)
	}

	// Due after the delay elapses.
	n, err = s.PromoteDueJobs(ctx, delayUntil.Add(time.Second), 10)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 1 {
		t.Fatalf("promoted %d, want 1", n)
	}
	got, _ = s.GetJob(ctx, claimed.ID)
	if got.State != job.StateWaiting || got.DelayUntil != nil {
		t.Errorf("job after promote = %+v", got)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want consumed attempt kept", got.Attempts)
	}
}

func TestRetryAllFailed(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for range 5 {
		j := newJob("mail")
		mustEnqueue(t, s, j)
		claimed, err := s.ClaimJob(ctx, "mail", id.NewWorkerID())
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := s.FailJob(ctx, claimed.ID, "boom"); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}

	n, err := s.RetryAllFailed(ctx, "mail", 3)
	if err != nil {
		t.Fatalf("retry all: %v", err)
	}
	if n != 3 {
		t.Fatalf("retried %d, want 3", n)
	}

	waiting, _ := s.CountJobs(ctx, job.CountOpts{Queue: "mail", State: job.StateWaiting})
	failed, _ := s.CountJobs(ctx, job.CountOpts{Queue: "mail", State: job.StateFailed})
	if waiting != 3 || failed != 2 {
		t.Errorf("waiting = %d failed = %d, want 3/2", waiting, failed)
	}
}

func TestListJobsPagination(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for range 5 {
		mustEnqueue(t, s, newJob("mail"))
	}

	page, err := s.ListJobs(ctx, job.StateWaiting, job.ListOpts{Queue: "mail", Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("listed %d, want 1", len(page))
	}
}

func TestPurgeJobs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	finish := func(state job.State) id.JobID {
		j := newJob("mail")
		mustEnqueue(t, s, j)
		claimed, err := s.ClaimJob(ctx, "mail", id.NewWorkerID())
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if state == job.StateCompleted {
			err = s.CompleteJob(ctx, claimed.ID, nil)
		} else {
			err = s.FailJob(ctx, claimed.ID, "boom")
		}
		if err != nil {
			t.Fatalf("finish: %v", err)
		}
		return claimed.ID
	}

	completed := finish(job.StateCompleted)
	failed := finish(job.StateFailed)

	// Only completed jobs in the purge window are removed.
	n, err := s.PurgeJobs(ctx, "mail", []job.State{job.StateCompleted}, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, err := s.GetJob(ctx, completed); !errors.Is(err, relayq.ErrJobNotFound) {
		t.Errorf("completed job still present: %v", err)
	}
	if _, err := s.GetJob(ctx, failed); err != nil {
		t.Errorf("failed job should survive: %v", err)
	}

	// Non-terminal states are rejected.
	if _, err := s.PurgeJobs(ctx, "mail", []job.State{job.StateWaiting}, time.Time{}); !errors.Is(err, relayq.ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestRequeueStaleJobs(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob("mail")
	mustEnqueue(t, s, j)
	claimed, err := s.ClaimJob(ctx, "mail", id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Fresh active jobs stay put.
	stale, err := s.RequeueStaleJobs(ctx, time.Hour)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("requeued %d fresh jobs", len(stale))
	}

	// With a zero threshold everything active counts as stale.
	time.Sleep(5 * time.Millisecond)
	stale, err = s.RequeueStaleJobs(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != claimed.ID {
		t.Fatalf("stale = %v", stale)
	}

	got, _ := s.GetJob(ctx, claimed.ID)
	if got.State != job.StateWaiting || got.Attempts != 1 {
		t.Errorf("job after requeue = state %s attempts %d", got.State, got.Attempts)
	}
}

func TestRequeueStaleJobs_LastAttemptGoesTerminal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	j := newJob("mail")
	j.MaxAttempts = 1
	mustEnqueue(t, s, j)
	claimed, err := s.ClaimJob(ctx, "mail", id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The claim consumed the only attempt, so the reaper must fail the
	// job rather than hand it back for a claim it cannot afford.
	time.Sleep(5 * time.Millisecond)
	stale, err := s.RequeueStaleJobs(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(stale) != 1 || stale[0].State != job.StateFailed {
		t.Fatalf("stale = %v, want one failed job", stale)
	}

	got, _ := s.GetJob(ctx, claimed.ID)
	if got.State != job.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
	if got.Attempts != got.MaxAttempts {
		t.Errorf("attempts = %d, want %d", got.Attempts, got.MaxAttempts)
	}
	if got.LastError != "stale execution abandoned" || got.FinishedAt == nil {
		t.Errorf("last error = %q finished = %v", got.LastError, got.FinishedAt)
	}

	if _, err := s.ClaimJob(ctx, "mail", id.NewWorkerID()); !errors.Is(err, relayq.ErrNoJob) {
		t.Fatalf("claim after abandonment err = %v, want ErrNoJob", err)
	}
}
