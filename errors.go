package taskcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("taskcore: no store configured")
	ErrStoreClosed     = errors.New("taskcore: store closed")
	ErrMigrationFailed = errors.New("taskcore: migration failed")

	// Not found errors.
	ErrJobNotFound    = errors.New("taskcore: job not found")
	ErrRunNotFound    = errors.New("taskcore: analysis run not found")
	ErrRecordNotFound = errors.New("taskcore: record not found")

	// Conflict errors.
	ErrJobAlreadyExists    = errors.New("taskcore: job already exists")
	ErrRecordAlreadyExists = errors.New("taskcore: record already exists")
	ErrVersionConflict     = errors.New("taskcore: version conflict")

	// State errors.
	ErrInvalidState       = errors.New("taskcore: invalid state transition")
	ErrMaxAttemptsReached = errors.New("taskcore: max attempts reached")
	ErrJobStalled         = errors.New("taskcore: job stalled")

	// Wiring errors.
	ErrNoHandler      = errors.New("taskcore: no handler registered for queue")
	ErrUnknownQueue   = errors.New("taskcore: unknown queue")
	ErrQueueExists    = errors.New("taskcore: queue already registered")
	ErrInvalidPolicy  = errors.New("taskcore: invalid queue policy")
	ErrBudgetExceeded = errors.New("taskcore: external call budget exceeded")

	// Sync errors.
	ErrSyncBufferFull   = errors.New("taskcore: sync dispatch buffer full")
	ErrSupervisorClosed = errors.New("taskcore: sync supervisor closed")
)

// Kind classifies a handler failure for the retry decision.
type Kind int

const (
	// KindTransient failures are retried with backoff until attempts run out.
	KindTransient Kind = iota
	// KindFatal failures move the job straight to failed.
	KindFatal
)

func (k Kind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "transient"
}

// TransientError marks a failure worth retrying: timeouts, rate limiting
// and 5xx responses from external APIs.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure that no retry can fix: malformed payloads and
// missing references.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Fatal wraps err as a FatalError. A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf formats a FatalError.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsTransient reports whether err carries a TransientError in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Classify maps an arbitrary handler error to a Kind. Only explicit fatal
// errors skip retries; unclassified errors are retried, bounded by the
// queue's attempt budget.
func Classify(err error) Kind {
	if err == nil || !IsFatal(err) {
		return KindTransient
	}
	return KindFatal
}

// FromStatus classifies an external API response. 408, 429 and 5xx are
// transient; any other 4xx is fatal. Status codes outside 4xx/5xx return
// err unchanged.
func FromStatus(code int, err error) error {
	if err == nil {
		err = fmt.Errorf("unexpected status %d %s", code, http.StatusText(code))
	}
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return Transient(err)
	case code >= 400:
		return Fatal(err)
	default:
		return err
	}
}

// SyncError records a failed write against the secondary index. It is
// logged and counted but never returned to the primary-store caller.
type SyncError struct {
	Entity string
	ID     string
	Op     string
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s/%s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// PartialBatchError lists the sub-items of a multi-item job that failed
// while others succeeded.
type PartialBatchError struct {
	Failed map[string]error
}

func (e *PartialBatchError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Failed[k].Error())
	}
	return fmt.Sprintf("%d sub-items failed: %s", len(e.Failed), strings.Join(parts, "; "))
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
