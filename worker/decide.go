package worker

import (
	"time"

	"github.com/hirelane/taskcore/backoff"
	"github.com/hirelane/taskcore/job"
)

// Decision is the next state of a job after one attempt.
type Decision struct {
	State job.State
	// Delay is set when State is delayed.
	Delay time.Duration
}

// Decide maps an attempt's outcome to the job's next state. It is pure:
//
//   - Success → completed
//   - Fail → failed
//   - Retry with attempts left → delayed by strategy.Delay(attemptsMade)
//   - Retry with the budget spent → failed
func Decide(kind job.OutcomeKind, attemptsMade, maxAttempts int, strategy backoff.Strategy) Decision {
	switch kind {
	case job.OutcomeSuccess:
		return Decision{State: job.StateCompleted}
	case job.OutcomeRetry:
		if attemptsMade < maxAttempts {
			return Decision{State: job.StateDelayed, Delay: strategy.Delay(attemptsMade)}
		}
		return Decision{State: job.StateFailed}
	default:
		return Decision{State: job.StateFailed}
	}
}
