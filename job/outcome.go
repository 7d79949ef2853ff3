package job

import "github.com/hirelane/taskcore"

// OutcomeKind tags a handler result.
type OutcomeKind int

const (
	// OutcomeSuccess completes the job.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetry schedules another attempt if the budget allows.
	OutcomeRetry
	// OutcomeFail fails the job immediately.
	OutcomeFail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one handler attempt. Result holds the
// encoded return value on success; Err is set for Retry and Fail.
type Outcome struct {
	Kind   OutcomeKind
	Result []byte
	Err    error
}

// Success completes the job with an already encoded result (may be nil).
func Success(result []byte) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

// Retry requests another attempt after backoff.
func Retry(err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Err: err}
}

// Fail ends the job without further attempts.
func Fail(err error) Outcome {
	return Outcome{Kind: OutcomeFail, Err: err}
}

// FromError classifies err: nil is success, a taskcore.FatalError is
// Fail, and everything else is Retry.
func FromError(err error) Outcome {
	if err == nil {
		return Success(nil)
	}
	if taskcore.Classify(err) == taskcore.KindFatal {
		return Fail(err)
	}
	return Retry(err)
}
