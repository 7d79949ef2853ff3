package audithook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/hirelane/taskcore/audit_hook"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/job"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:           id.NewJobID(),
		Name:         "send-email",
		Queue:        "email",
		AttemptsMade: 1,
		MaxAttempts:  3,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_JobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, evt.Action)
	}
	if evt.Resource != ah.ResourceJob || evt.Category != ah.CategoryJob {
		t.Errorf("Resource/Category: got %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.Severity != ah.SeverityInfo || evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Metadata["job_name"] != "send-email" || evt.Metadata["queue"] != "email" {
		t.Errorf("Metadata: got %v", evt.Metadata)
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	j := newTestJob()

	if err := e.OnJobFailed(context.Background(), j, errors.New("smtp rejected")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Severity/Outcome: got %q/%q", evt.Severity, evt.Outcome)
	}
	if evt.Reason != "smtp rejected" {
		t.Errorf("Reason: want %q, got %q", "smtp rejected", evt.Reason)
	}
	if evt.Metadata["max_attempts"] != 3 {
		t.Errorf("Metadata[max_attempts]: got %v", evt.Metadata["max_attempts"])
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	next := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	if err := e.OnJobRetrying(context.Background(), newTestJob(), 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: got %v", evt.Metadata["attempt"])
	}
	if evt.Metadata["next_run_at"] != "2026-10-19T12:00:00Z" {
		t.Errorf("Metadata[next_run_at]: got %v", evt.Metadata["next_run_at"])
	}
}

func TestExtension_SyncDropped(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ev := ext.SyncEvent{Entity: "candidate", ID: "cand_1", Op: "update"}

	if err := e.OnSyncDispatchFailed(context.Background(), ev, errors.New("buffer full")); err != nil {
		t.Fatalf("OnSyncDispatchFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionSyncDropped || evt.Category != ah.CategorySync {
		t.Errorf("Action/Category: got %q/%q", evt.Action, evt.Category)
	}
	if evt.ResourceID != "cand_1" || evt.Metadata["entity"] != "candidate" {
		t.Errorf("unexpected event: %+v", evt)
	}
}

func TestExtension_ReconcileSeverity(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()

	_ = e.OnReconcileCompleted(ctx, "candidate", 10, 0, 10)
	if got := rec.last().Severity; got != ah.SeverityInfo {
		t.Errorf("clean pass: want %q, got %q", ah.SeverityInfo, got)
	}

	_ = e.OnReconcileCompleted(ctx, "candidate", 8, 2, 10)
	evt := rec.last()
	if evt.Severity != ah.SeverityWarning || evt.Outcome != ah.OutcomeFailure {
		t.Errorf("pass with errors: got %q/%q", evt.Severity, evt.Outcome)
	}
}

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobFailed))
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobCompleted(ctx, j, time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("expected 0 events, got %d", rec.count())
	}

	_ = e.OnJobFailed(ctx, j, errors.New("boom"))
	if rec.count() != 1 {
		t.Errorf("expected 1 event, got %d", rec.count())
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})
	e := ah.New(failing, ah.WithLogger(slog.New(slog.DiscardHandler)))

	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(ah.New(rec))

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDelayed(ctx, j, time.Now().Add(time.Second))
	reg.EmitJobStalled(ctx, j)
	reg.EmitSyncDispatchFailed(ctx, ext.SyncEvent{Entity: "job_posting", ID: "post_1", Op: "delete"}, errors.New("full"))
	reg.EmitReconcileCompleted(ctx, "job_posting", 1, 0, 1)

	all := ah.AllActions()
	if rec.count() != len(all) {
		t.Fatalf("expected %d events, got %d", len(all), rec.count())
	}
	for _, action := range all {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := ah.New(ah.NewLogRecorder(logger))

	if err := e.OnJobFailed(context.Background(), newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["level"] != "ERROR" || line["msg"] != ah.ActionJobFailed {
		t.Errorf("unexpected log line: %v", line)
	}
	if line["reason"] != "boom" || line["component"] != "audit" {
		t.Errorf("unexpected attributes: %v", line)
	}
}
