package worker_test

import (
	"testing"
	"time"

	"github.com/hirelane/taskcore/backoff"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/worker"
)

func TestDecide(t *testing.T) {
	strategy := backoff.Exponential{Base: 10 * time.Second}

	tests := []struct {
		name      string
		kind      job.OutcomeKind
		attempts  int
		max       int
		wantState job.State
		wantDelay time.Duration
	}{
		{"success", job.OutcomeSuccess, 1, 3, job.StateCompleted, 0},
		{"success on last attempt", job.OutcomeSuccess, 3, 3, job.StateCompleted, 0},
		{"fatal on first attempt", job.OutcomeFail, 1, 3, job.StateFailed, 0},
		{"retry after attempt 1", job.OutcomeRetry, 1, 3, job.StateDelayed, 10 * time.Second},
		{"retry after attempt 2", job.OutcomeRetry, 2, 3, job.StateDelayed, 20 * time.Second},
		{"retry with budget spent", job.OutcomeRetry, 3, 3, job.StateFailed, 0},
		{"single attempt budget", job.OutcomeRetry, 1, 1, job.StateFailed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := worker.Decide(tt.kind, tt.attempts, tt.max, strategy)
			if d.State != tt.wantState || d.Delay != tt.wantDelay {
				t.Errorf("Decide = %+v, want {%s %v}", d, tt.wantState, tt.wantDelay)
			}
		})
	}
}

// The attempt counter never passes the budget: every attempt either ends
// the job or is followed by one that is allowed to start.
func TestDecide_AttemptBound(t *testing.T) {
	for maxAttempts := 1; maxAttempts <= 6; maxAttempts++ {
		attempts := 0
		for {
			attempts++
			if attempts > maxAttempts {
				t.Fatalf("max=%d: attempt %d started", maxAttempts, attempts)
			}
			d := worker.Decide(job.OutcomeRetry, attempts, maxAttempts, backoff.Fixed{})
			if d.State == job.StateFailed {
				break
			}
		}
		if attempts != maxAttempts {
			t.Errorf("max=%d: ended after %d attempts", maxAttempts, attempts)
		}
	}
}
