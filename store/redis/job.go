package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/IT-For-Youth-Ghana/relayq"
	"github.com/IT-For-Youth-Ghana/relayq/id"
	"github.com/IT-For-Youth-Ghana/relayq/job"
)

// EnqueueJob stores the job as a Hash and indexes it in the waiting or
// delayed Sorted Set depending on its initial state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return wrapErr("enqueue check exists", err)
	}
	if exists > 0 {
		return relayq.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, queuesKey, j.Queue)

	switch j.State {
	case job.StateDelayed:
		pipe.ZAdd(ctx, delayedKey, goredis.Z{Score: delayScore(j.DelayUntil), Member: jID})
	default:
		pipe.ZAdd(ctx, waitingKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: jID})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("enqueue job", err)
	}
	return nil
}

// claimScript pops the best waiting member, marks its hash active, and
// indexes it in the active set in one server-side step. Splitting the
// pop from the hash update would let a crash in between strand the job
// outside every Sorted Set, where neither claimers nor the reaper can
// see it.
var claimScript = goredis.NewScript(`
	local popped = redis.call('ZPOPMIN', KEYS[1])
	if #popped == 0 then
		return false
	end
	local id = popped[1]
	redis.call('HINCRBY', ARGV[1] .. id, 'attempts', 1)
	redis.call('HSET', ARGV[1] .. id,
		'state', 'active',
		'worker_id', ARGV[2],
		'started_at', ARGV[3],
		'updated_at', ARGV[3])
	redis.call('ZADD', KEYS[2], ARGV[4], id)
	return id
`)

// ClaimJob pops the best waiting job off the queue's Sorted Set and
// marks it active atomically, so exactly one concurrent claimer
// receives a given member.
func (s *Store) ClaimJob(ctx context.Context, queue string, workerID id.WorkerID) (*job.Job, error) {
	now := time.Now().UTC()
	res, err := claimScript.Run(ctx, s.client,
		[]string{waitingKey(queue), activeKey},
		keyPrefix+"job:",
		workerID.String(),
		now.Format(time.RFC3339Nano),
		now.UnixMilli(),
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, relayq.ErrNoJob
		}
		return nil, wrapErr("claim script", err)
	}

	jID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("relayq/redis: claim: unexpected script result %T", res)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// CompleteJob transitions an active job to completed.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, result []byte) error {
	jID := jobID.String()
	if err := s.requireState(ctx, jID, job.StateActive, "complete"); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID),
		"state", string(job.StateCompleted),
		"result", string(result),
		"finished_at", now,
		"updated_at", now,
	)
	pipe.ZRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("complete job", err)
	}
	return nil
}

// FailJob transitions an active job to terminal failed.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, lastError string) error {
	jID := jobID.String()
	if err := s.requireState(ctx, jID, job.StateActive, "fail"); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID),
		"state", string(job.StateFailed),
		"last_error", lastError,
		"finished_at", now,
		"updated_at", now,
	)
	pipe.ZRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("fail job", err)
	}
	return nil
}

// RescheduleJob returns an active job to delayed for a later retry.
func (s *Store) RescheduleJob(ctx context.Context, jobID id.JobID, lastError string, delayUntil time.Time) error {
	jID := jobID.String()
	if err := s.requireState(ctx, jID, job.StateActive, "reschedule"); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID),
		"state", string(job.StateDelayed),
		"last_error", lastError,
		"delay_until", delayUntil.UTC().Format(time.RFC3339Nano),
		"worker_id", "",
		"started_at", "",
		"updated_at", now,
	)
	pipe.ZRem(ctx, activeKey, jID)
	pipe.ZAdd(ctx, delayedKey, goredis.Z{Score: float64(delayUntil.UnixMilli()), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("reschedule job", err)
	}
	return nil
}

// PromoteDueJobs moves up to limit due delayed jobs back onto their
// queues' waiting sets.
func (s *Store) PromoteDueJobs(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, delayedKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return 0, wrapErr("promote zrangebyscore", err)
	}

	promoted := 0
	for _, jID := range ids {
		// ZRem reports whether this caller won the member; a promoter on
		// another node may have taken it already.
		removed, remErr := s.client.ZRem(ctx, delayedKey, jID).Result()
		if remErr != nil {
			return promoted, wrapErr("promote zrem", remErr)
		}
		if removed == 0 {
			continue
		}

		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, jobKey(jID),
			"state", string(job.StateWaiting),
			"delay_until", "",
			"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, waitingKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: jID})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return promoted, wrapErr("promote update", pErr)
		}
		promoted++
	}
	return promoted, nil
}

// RequeueStaleJobs returns jobs claimed longer ago than olderThan to
// their waiting sets. The consumed attempt stays counted, so a job
// whose crashed attempt was its last is failed instead of requeued;
// requeuing it would let the next claim exceed the attempt budget.
func (s *Store) RequeueStaleJobs(ctx context.Context, olderThan time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	ids, err := s.client.ZRangeByScore(ctx, activeKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, wrapErr("requeue zrangebyscore", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		removed, remErr := s.client.ZRem(ctx, activeKey, jID).Result()
		if remErr != nil {
			return stale, wrapErr("requeue zrem", remErr)
		}
		if removed == 0 {
			continue
		}

		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}

		now := time.Now().UTC()
		if j.Attempts >= j.MaxAttempts {
			if _, hErr := s.client.HSet(ctx, jobKey(jID),
				"state", string(job.StateFailed),
				"last_error", "stale execution abandoned",
				"worker_id", "",
				"finished_at", now.Format(time.RFC3339Nano),
				"updated_at", now.Format(time.RFC3339Nano),
			).Result(); hErr != nil {
				return stale, wrapErr("abandon update", hErr)
			}

			finished := now
			j.State = job.StateFailed
			j.LastError = "stale execution abandoned"
			j.WorkerID = id.Nil
			j.FinishedAt = &finished
			stale = append(stale, j)
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.HSet(ctx, jobKey(jID),
			"state", string(job.StateWaiting),
			"worker_id", "",
			"started_at", "",
			"updated_at", now.Format(time.RFC3339Nano),
		)
		pipe.ZAdd(ctx, waitingKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: jID})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return stale, wrapErr("requeue update", pErr)
		}

		j.State = job.StateWaiting
		j.WorkerID = id.Nil
		j.StartedAt = nil
		stale = append(stale, j)
	}
	return stale, nil
}

// RetryJob moves a failed job back to waiting with a fresh attempt
// budget. Returns false when the job exists but is not failed.
func (s *Store) RetryJob(ctx context.Context, jobID id.JobID) (bool, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if j.State != job.StateFailed {
		return false, nil
	}
	if err := s.resetForRetry(ctx, j); err != nil {
		return false, err
	}
	return true, nil
}

// RetryAllFailed retries up to limit failed jobs on the queue, oldest
// first. A non-positive limit retries all of them.
func (s *Store) RetryAllFailed(ctx context.Context, queue string, limit int) (int64, error) {
	failed, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return j.Queue == queue && j.State == job.StateFailed
	})
	if err != nil {
		return 0, err
	}

	sort.Slice(failed, func(i, k int) bool {
		return failed[i].CreatedAt.Before(failed[k].CreatedAt)
	})
	if limit > 0 && limit < len(failed) {
		failed = failed[:limit]
	}

	var retried int64
	for _, j := range failed {
		if err := s.resetForRetry(ctx, j); err != nil {
			return retried, err
		}
		retried++
	}
	return retried, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// ListJobs returns jobs in the given state, oldest first.
func (s *Store) ListJobs(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if j.State != state {
			return false
		}
		return opts.Queue == "" || j.Queue == opts.Queue
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})

	if opts.Offset >= len(jobs) {
		return nil, nil
	}
	if opts.Offset > 0 {
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// DeleteJob removes a job by ID regardless of state.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, waitingKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey, jID)
	pipe.ZRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("delete job", err)
	}
	return nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if opts.Queue != "" && j.Queue != opts.Queue {
			return false
		}
		return opts.State == "" || j.State == opts.State
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// Queues returns the queue names seen by this store.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	queues, err := s.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, wrapErr("list queues", err)
	}
	sort.Strings(queues)
	return queues, nil
}

// PurgeJobs deletes terminal jobs on the queue finished before the
// cutoff. A zero cutoff matches any finished time.
func (s *Store) PurgeJobs(ctx context.Context, queue string, states []job.State, finishedBefore time.Time) (int64, error) {
	wanted := make(map[job.State]bool, len(states))
	for _, st := range states {
		if !st.Terminal() {
			return 0, fmt.Errorf("relayq/redis: purge state %q: %w", st, relayq.ErrInvalidState)
		}
		wanted[st] = true
	}

	victims, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if j.Queue != queue || !wanted[j.State] || j.FinishedAt == nil {
			return false
		}
		return finishedBefore.IsZero() || j.FinishedAt.Before(finishedBefore)
	})
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, j := range victims {
		if err := s.DeleteJob(ctx, j.ID); err != nil {
			if errors.Is(err, relayq.ErrJobNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// ── helpers ──

// requireState verifies the job exists and is in the expected state
// before a transition.
func (s *Store) requireState(ctx context.Context, jID string, want job.State, op string) error {
	state, err := s.client.HGet(ctx, jobKey(jID), "state").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return relayq.ErrJobNotFound
		}
		return wrapErr(op+" get state", err)
	}
	if job.State(state) != want {
		return fmt.Errorf("relayq/redis: %s job in state %q: %w", op, state, relayq.ErrInvalidState)
	}
	return nil
}

// resetForRetry returns a failed job to waiting with a clean slate.
func (s *Store) resetForRetry(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID),
		"state", string(job.StateWaiting),
		"attempts", "0",
		"last_error", "",
		"result", "",
		"worker_id", "",
		"delay_until", "",
		"started_at", "",
		"finished_at", "",
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, waitingKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.CreatedAt), Member: jID})
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapErr("retry reset", err)
	}
	return nil
}

// scanJobs enumerates every job and returns those matching keep.
// Redis has no secondary indexes over hash fields, so admin-surface
// queries pay a full scan.
func (s *Store) scanJobs(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, wrapErr("scan smembers", err)
	}

	var jobs []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip records deleted mid-scan
		}
		if keep(j) {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// jobScore computes a waiting-set score from priority and enqueue time.
// Lower score pops first, so priority is negated and a fractional time
// component keeps FIFO order within a priority band.
func jobScore(priority int, createdAt time.Time) float64 {
	return float64(-priority) + float64(createdAt.UnixMilli())/1e15
}

// delayScore scores a delayed job by its visibility time.
func delayScore(delayUntil *time.Time) float64 {
	if delayUntil == nil {
		return 0
	}
	return float64(delayUntil.UnixMilli())
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":           j.ID.String(),
		"queue":        j.Queue,
		"payload":      string(j.Payload),
		"state":        string(j.State),
		"priority":     strconv.Itoa(j.Priority),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"result":       string(j.Result),
		"worker_id":    j.WorkerID.String(),
		"timeout_ns":   strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.DelayUntil != nil {
		m["delay_until"] = j.DelayUntil.Format(time.RFC3339Nano)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	if len(vals) == 0 {
		return nil, relayq.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("relayq/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])              //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])              //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])       //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout_ns"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: relayq.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Queue:       m["queue"],
		Payload:     []byte(m["payload"]),
		State:       job.State(m["state"]),
		Priority:    priority,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		LastError:   m["last_error"],
		Timeout:     time.Duration(timeout),
	}
	if r := m["result"]; r != "" {
		j.Result = []byte(r)
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["delay_until"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.DelayUntil = &t
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}

	return j, nil
}
