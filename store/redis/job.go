package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
)

// dequeueScript claims up to ARGV[1] jobs from the waiting set.
//
// KEYS[1] waiting zset, KEYS[2] active set; ARGV: limit, now, job key prefix.
var dequeueScript = goredis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[1]) - 1)
for _, jid in ipairs(ids) do
  redis.call('ZREM', KEYS[1], jid)
  redis.call('SADD', KEYS[2], jid)
  redis.call('HSET', ARGV[3] .. jid, 'state', 'active', 'heartbeat_at', ARGV[2], 'updated_at', ARGV[2])
end
return ids
`)

// promoteScript moves due delayed jobs to the waiting set.
//
// KEYS[1] delayed zset, KEYS[2] waiting zset; ARGV: now ms, job key prefix, now.
var promoteScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'WITHSCORES')
local n = 0
for i = 1, #due, 2 do
  local jid = due[i]
  local runAt = tonumber(due[i + 1])
  local prio = tonumber(redis.call('HGET', ARGV[2] .. jid, 'priority') or '0')
  redis.call('ZREM', KEYS[1], jid)
  redis.call('ZADD', KEYS[2], -prio + runAt / 1e15, jid)
  redis.call('HSET', ARGV[2] .. jid, 'state', 'waiting', 'updated_at', ARGV[3])
  n = n + 1
end
return n
`)

// EnqueueJob stores the job as a Hash and indexes it by state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("taskcore/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return taskcore.ErrJobAlreadyExists
	}

	fields, err := jobToMap(j)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, s.jobIDsKey(), jID)
	s.index(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskcore/redis: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit waiting jobs from the given
// queues, in queue order.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var jobs []*job.Job

	for _, q := range queues {
		if len(jobs) >= limit {
			break
		}
		ids, err := dequeueScript.Run(ctx, s.client,
			[]string{s.waitingKey(q), s.activeKey()},
			limit-len(jobs), now, s.jobKeyPrefix(),
		).StringSlice()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("taskcore/redis: dequeue: %w", err)
		}
		for _, jID := range ids {
			j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
			if getErr != nil {
				return nil, getErr
			}
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and moves it between
// state indexes.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	key := s.jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("taskcore/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return taskcore.ErrJobNotFound
	}

	fields, err := jobToMap(j)
	if err != nil {
		return err
	}
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	// Nil pointers are absent from fields; drop stale values.
	pipe.HDel(ctx, key, "started_at", "finished_at", "heartbeat_at", "result")
	pipe.HSet(ctx, key, fields)
	s.unindex(ctx, pipe, j.Queue, j.ID.String())
	s.index(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskcore/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := s.jobKey(jID)

	q, err := s.client.HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return taskcore.ErrJobNotFound
		}
		return fmt.Errorf("taskcore/redis: delete job get queue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.jobIDsKey(), jID)
	s.unindex(ctx, pipe, q, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("taskcore/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scan(ctx, func(j *job.Job) bool {
		return j.State == state && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.Before(jobs[b].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob refreshes the lease of an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	jID := jobID.String()
	active, err := s.client.SIsMember(ctx, s.activeKey(), jID).Result()
	if err != nil {
		return fmt.Errorf("taskcore/redis: heartbeat check: %w", err)
	}
	if !active {
		return taskcore.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, s.jobKey(jID),
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("taskcore/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	ids, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("taskcore/redis: reap smembers: %w", err)
	}

	var stale []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
		if getErr != nil {
			continue
		}
		if j.State == job.StateActive && j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// CountJobs returns the number of jobs matching the given options. A
// queue-and-state count reads the index directly.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Queue != "" && opts.State != "" && opts.State != job.StateActive {
		n, err := s.client.ZCard(ctx, s.stateKey(opts.Queue, opts.State)).Result()
		if err != nil {
			return 0, fmt.Errorf("taskcore/redis: count zcard: %w", err)
		}
		return n, nil
	}

	jobs, err := s.scan(ctx, func(j *job.Job) bool {
		return (opts.State == "" || j.State == opts.State) && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// PromoteDelayed moves due delayed jobs back to waiting.
func (s *Store) PromoteDelayed(ctx context.Context, queues []string, now time.Time) (int, error) {
	var total int
	for _, q := range queues {
		n, err := promoteScript.Run(ctx, s.client,
			[]string{s.delayedKey(q), s.waitingKey(q)},
			now.UnixMilli(), s.jobKeyPrefix(), now.UTC().Format(time.RFC3339Nano),
		).Int()
		if err != nil {
			return total, fmt.Errorf("taskcore/redis: promote delayed: %w", err)
		}
		total += n
	}
	return total, nil
}

// PruneJobs deletes the oldest finished jobs of queue beyond keep.
func (s *Store) PruneJobs(ctx context.Context, queue string, keep job.Retention) (int, error) {
	var total int
	for _, limit := range []struct {
		state job.State
		keep  int
	}{
		{job.StateCompleted, keep.KeepCompleted},
		{job.StateFailed, keep.KeepFailed},
	} {
		if limit.keep <= 0 {
			continue
		}
		fk := s.finishedKey(queue, string(limit.state))
		ids, err := s.client.ZRevRange(ctx, fk, int64(limit.keep), -1).Result()
		if err != nil {
			return total, fmt.Errorf("taskcore/redis: prune zrange: %w", err)
		}
		if len(ids) == 0 {
			continue
		}
		pipe := s.client.TxPipeline()
		for _, jID := range ids {
			pipe.Del(ctx, s.jobKey(jID))
			pipe.SRem(ctx, s.jobIDsKey(), jID)
			pipe.ZRem(ctx, fk, jID)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return total, fmt.Errorf("taskcore/redis: prune jobs: %w", err)
		}
		total += len(ids)
	}
	return total, nil
}

// ── helpers ──

// jobScore computes a sorted-set score from priority and run_at.
// Lower score = dequeued first: priority is negated, and the fractional
// time component keeps FIFO order within a priority.
func jobScore(priority int, runAt time.Time) float64 {
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

func (s *Store) stateKey(queue string, state job.State) string {
	switch state {
	case job.StateWaiting:
		return s.waitingKey(queue)
	case job.StateDelayed:
		return s.delayedKey(queue)
	default:
		return s.finishedKey(queue, string(state))
	}
}

func (s *Store) index(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	jID := j.ID.String()
	switch j.State {
	case job.StateWaiting:
		pipe.ZAdd(ctx, s.waitingKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
	case job.StateDelayed:
		pipe.ZAdd(ctx, s.delayedKey(j.Queue), goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: jID})
	case job.StateActive:
		pipe.SAdd(ctx, s.activeKey(), jID)
	case job.StateCompleted, job.StateFailed:
		finished := j.UpdatedAt
		if j.FinishedAt != nil {
			finished = *j.FinishedAt
		}
		pipe.ZAdd(ctx, s.finishedKey(j.Queue, string(j.State)), goredis.Z{Score: float64(finished.UnixMilli()), Member: jID})
	}
}

func (s *Store) unindex(ctx context.Context, pipe goredis.Pipeliner, queue, jID string) {
	pipe.ZRem(ctx, s.waitingKey(queue), jID)
	pipe.ZRem(ctx, s.delayedKey(queue), jID)
	pipe.ZRem(ctx, s.finishedKey(queue, string(job.StateCompleted)), jID)
	pipe.ZRem(ctx, s.finishedKey(queue, string(job.StateFailed)), jID)
	pipe.SRem(ctx, s.activeKey(), jID)
}

func (s *Store) scan(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.jobIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("taskcore/redis: smembers: %w", err)
	}
	var out []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
		if getErr != nil {
			continue // deleted concurrently
		}
		if keep(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

func formatTime(t *time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func jobToMap(j *job.Job) (map[string]any, error) {
	backoffJSON, err := json.Marshal(j.Backoff)
	if err != nil {
		return nil, fmt.Errorf("taskcore/redis: encode backoff: %w", err)
	}
	m := map[string]any{
		"id":            j.ID.String(),
		"name":          j.Name,
		"queue":         j.Queue,
		"payload":       string(j.Payload),
		"encoding":      j.Encoding,
		"state":         string(j.State),
		"priority":      strconv.Itoa(j.Priority),
		"attempts_made": strconv.Itoa(j.AttemptsMade),
		"max_attempts":  strconv.Itoa(j.MaxAttempts),
		"backoff":       string(backoffJSON),
		"last_error":    j.LastError,
		"worker_id":     j.WorkerID.String(),
		"run_at":        formatTime(&j.RunAt),
		"timeout":       strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":    formatTime(&j.CreatedAt),
		"updated_at":    formatTime(&j.UpdatedAt),
	}
	if j.Result != nil {
		m["result"] = string(j.Result)
	}
	if j.StartedAt != nil {
		m["started_at"] = formatTime(j.StartedAt)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = formatTime(j.FinishedAt)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = formatTime(j.HeartbeatAt)
	}
	return m, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("taskcore/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, taskcore.ErrJobNotFound
	}
	return mapToJob(vals)
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("taskcore/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])           //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts_made"])      //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])    //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		ID:           jID,
		Name:         m["name"],
		Queue:        m["queue"],
		Payload:      []byte(m["payload"]),
		Encoding:     m["encoding"],
		State:        job.State(m["state"]),
		Priority:     priority,
		AttemptsMade: attempts,
		MaxAttempts:  maxAttempts,
		LastError:    m["last_error"],
		Timeout:      time.Duration(timeout),
		StartedAt:    parseTime(m["started_at"]),
		FinishedAt:   parseTime(m["finished_at"]),
		HeartbeatAt:  parseTime(m["heartbeat_at"]),
	}
	if v, ok := m["result"]; ok {
		j.Result = []byte(v)
	}
	if t := parseTime(m["run_at"]); t != nil {
		j.RunAt = *t
	}
	if t := parseTime(m["created_at"]); t != nil {
		j.CreatedAt = *t
	}
	if t := parseTime(m["updated_at"]); t != nil {
		j.UpdatedAt = *t
	}
	if v := m["backoff"]; v != "" {
		if err := json.Unmarshal([]byte(v), &j.Backoff); err != nil {
			return nil, fmt.Errorf("taskcore/redis: decode backoff for %s: %w", m["id"], err)
		}
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return j, nil
}
