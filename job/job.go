package job

import (
	"fmt"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/backoff"
	"github.com/hirelane/taskcore/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready to be claimed by its queue's pool.
	StateWaiting State = "waiting"
	// StateActive means a pool has claimed the job.
	StateActive State = "active"
	// StateCompleted means the handler succeeded.
	StateCompleted State = "completed"
	// StateFailed means the job will not run again without operator action.
	StateFailed State = "failed"
	// StateDelayed means the job waits for RunAt: a backoff, a rate-limit
	// hold, or an enqueue delay.
	StateDelayed State = "delayed"
)

// States lists every state in lifecycle order.
var States = []State{StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed}

// Terminal reports whether no further transition happens on its own.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var transitions = map[State][]State{
	StateWaiting: {StateActive, StateDelayed},
	StateActive:  {StateCompleted, StateFailed, StateDelayed, StateWaiting},
	StateDelayed: {StateWaiting},
	// Operator retry.
	StateFailed: {StateWaiting},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents a unit of work persisted by the broker.
type Job struct {
	taskcore.Entity

	ID           id.JobID       `json:"id"`
	Name         string         `json:"name"`
	Queue        string         `json:"queue"`
	Payload      []byte         `json:"payload"`
	Encoding     string         `json:"encoding"`
	State        State          `json:"state"`
	Priority     int            `json:"priority"`
	AttemptsMade int            `json:"attempts_made"`
	MaxAttempts  int            `json:"max_attempts"`
	Backoff      backoff.Policy `json:"backoff"`
	Result       []byte         `json:"result,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	WorkerID     id.WorkerID    `json:"worker_id,omitempty"`
	RunAt        time.Time      `json:"run_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	HeartbeatAt  *time.Time     `json:"heartbeat_at,omitempty"`
	Timeout      time.Duration  `json:"timeout,omitempty"`
}

// New builds a waiting job for queue with an encoded payload. Options
// are applied on top of the queue defaults already in opts.
func New(queue, name string, payload []byte, opts Options) *Job {
	now := time.Now().UTC()
	j := &Job{
		Entity:      taskcore.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       queue,
		Payload:     payload,
		Encoding:    opts.Encoding,
		State:       StateWaiting,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		RunAt:       now,
		Timeout:     opts.Timeout,
	}
	if opts.MaxAttempts < 1 {
		j.MaxAttempts = 1
	}
	if opts.Delay > 0 {
		j.State = StateDelayed
		j.RunAt = now.Add(opts.Delay)
	}
	return j
}

// Transition moves j to state to, or returns ErrInvalidState.
func (j *Job) Transition(to State) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: %s → %s (job %s)", taskcore.ErrInvalidState, j.State, to, j.ID)
	}
	j.State = to
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// AttemptsLeft reports whether another attempt fits in the budget.
func (j *Job) AttemptsLeft() bool {
	return j.AttemptsMade < j.MaxAttempts
}
