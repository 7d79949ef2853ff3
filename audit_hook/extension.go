package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/job"
)

var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.JobEnqueued        = (*Extension)(nil)
	_ ext.JobStarted         = (*Extension)(nil)
	_ ext.JobCompleted       = (*Extension)(nil)
	_ ext.JobFailed          = (*Extension)(nil)
	_ ext.JobRetrying        = (*Extension)(nil)
	_ ext.JobDelayed         = (*Extension)(nil)
	_ ext.JobStalled         = (*Extension)(nil)
	_ ext.SyncDispatchFailed = (*Extension)(nil)
	_ ext.ReconcileCompleted = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension turns lifecycle hooks into audit events.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.jobEvent(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil)
}

func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.jobEvent(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil,
		"worker_id", j.WorkerID.String(),
		"attempt", j.AttemptsMade,
	)
}

func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.jobEvent(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.jobEvent(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j, jobErr,
		"attempts_made", j.AttemptsMade,
		"max_attempts", j.MaxAttempts,
	)
}

func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.jobEvent(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, nil,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

func (e *Extension) OnJobDelayed(ctx context.Context, j *job.Job, until time.Time) error {
	return e.jobEvent(ctx, ActionJobDelayed, SeverityWarning, OutcomeSuccess, j, nil,
		"until", until.Format(time.RFC3339),
	)
}

func (e *Extension) OnJobStalled(ctx context.Context, j *job.Job) error {
	return e.jobEvent(ctx, ActionJobStalled, SeverityWarning, OutcomeFailure, j, nil,
		"worker_id", j.WorkerID.String(),
	)
}

// ── Sync hooks ──────────────────────────────────────

// OnSyncDispatchFailed records a change that never reached the index-sync
// queue. The next reconcile pass is the only repair.
func (e *Extension) OnSyncDispatchFailed(ctx context.Context, ev ext.SyncEvent, err error) error {
	return e.record(ctx, ActionSyncDropped, SeverityCritical, OutcomeFailure,
		ResourceRecord, ev.ID, CategorySync, err,
		"entity", ev.Entity,
		"op", ev.Op,
	)
}

func (e *Extension) OnReconcileCompleted(ctx context.Context, entity string, synced, errs, total int) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	if errs > 0 {
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionReconcileFinished, severity, outcome,
		ResourceEntity, entity, CategorySync, nil,
		"synced", synced,
		"errors", errs,
		"total", total,
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) jobEvent(ctx context.Context, action, severity, outcome string, j *job.Job, err error, kvPairs ...any) error {
	kvPairs = append([]any{"job_name", j.Name, "queue", j.Queue}, kvPairs...)
	return e.record(ctx, action, severity, outcome, ResourceJob, j.ID.String(), CategoryJob, err, kvPairs...)
}

// record builds and sends an audit event if the action is enabled.
// Recorder failures are logged and never propagate to the hook caller.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
