package intercept_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/intercept"
	"github.com/hirelane/taskcore/primary/memory"
	"github.com/hirelane/taskcore/record"
)

// recorder is a Sink that remembers every dispatch.
type recorder struct {
	mu  sync.Mutex
	ops []intercept.Operation
	err error
}

func (r *recorder) Dispatch(_ context.Context, op intercept.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	return r.err
}

func (r *recorder) snapshot() []intercept.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]intercept.Operation(nil), r.ops...)
}

func (r *recorder) waitFor(t *testing.T, n int) []intercept.Operation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ops := r.snapshot(); len(ops) >= n {
			return ops
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d dispatches, have %d", n, len(r.snapshot()))
	return nil
}

type harness struct {
	store *memory.Store
	sink  *recorder
	sup   *intercept.Supervisor
	ic    *intercept.Interceptor
}

func setup(t *testing.T, opts ...intercept.SupervisorOption) *harness {
	t.Helper()
	h := &harness{store: memory.New(), sink: &recorder{}}
	opts = append([]intercept.SupervisorOption{intercept.WithSupervisorLogger(slog.Default())}, opts...)
	h.sup = intercept.NewSupervisor(h.sink, opts...)
	h.ic = intercept.New(h.store, h.sup)
	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.sup.Stop(ctx)
	})
	return h
}

func newCandidate() *record.Candidate {
	return &record.Candidate{Entity: taskcore.NewEntity(), ID: id.NewCandidateID(), Name: "Ada"}
}

// ──────────────────────────────────────────────────
// Commit ordering
// ──────────────────────────────────────────────────

func TestDeleteInTx_DispatchesOnceAfterCommit(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	c := newCandidate()
	if err := h.store.Insert(ctx, c); err != nil {
		t.Fatal(err)
	}

	err := h.ic.RunInTx(ctx, func(ctx context.Context) error {
		if err := h.ic.Delete(ctx, record.TypeCandidate, c.ID); err != nil {
			return err
		}
		if n := len(h.sink.snapshot()); n != 0 {
			t.Errorf("dispatched %d ops before commit", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	ops := h.sink.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)
	if got := len(h.sink.snapshot()); got != 1 {
		t.Fatalf("dispatches = %d, want exactly 1", got)
	}
	want := intercept.Operation{Entity: record.TypeCandidate, Kind: record.OpDelete, ID: c.ID}
	if ops[0] != want {
		t.Errorf("op = %+v, want %+v", ops[0], want)
	}
	if _, err := h.store.Get(ctx, record.TypeCandidate, c.ID); !errors.Is(err, taskcore.ErrRecordNotFound) {
		t.Errorf("record still present after commit: %v", err)
	}
}

func TestAbortedTx_DispatchesNothing(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	boom := errors.New("validation failed")
	err := h.ic.RunInTx(ctx, func(ctx context.Context) error {
		if err := h.ic.Insert(ctx, newCandidate()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx = %v, want the fn error unchanged", err)
	}

	time.Sleep(30 * time.Millisecond)
	if n := len(h.sink.snapshot()); n != 0 {
		t.Errorf("aborted tx dispatched %d ops", n)
	}
	if n, _ := h.store.Count(ctx, record.TypeCandidate); n != 0 {
		t.Errorf("aborted insert persisted: count %d", n)
	}
}

func TestTxCoalescesPerRecord(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	a, b := newCandidate(), newCandidate()

	err := h.ic.RunInTx(ctx, func(ctx context.Context) error {
		if err := h.ic.Insert(ctx, a); err != nil {
			return err
		}
		if err := h.ic.Insert(ctx, b); err != nil {
			return err
		}
		a.Headline = "staff engineer"
		return h.ic.RunInTx(ctx, func(ctx context.Context) error {
			return h.ic.Update(ctx, a)
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	ops := h.sink.waitFor(t, 2)
	time.Sleep(20 * time.Millisecond)
	if got := len(h.sink.snapshot()); got != 2 {
		t.Fatalf("dispatches = %d, want 2", got)
	}
	kinds := map[string]record.Op{}
	for _, op := range ops {
		kinds[op.ID.String()] = op.Kind
	}
	if kinds[a.ID.String()] != record.OpUpdate || kinds[b.ID.String()] != record.OpInsert {
		t.Errorf("kinds = %v", kinds)
	}
}

// ──────────────────────────────────────────────────
// Writer isolation
// ──────────────────────────────────────────────────

func TestFailedWrite_ReturnsErrorAndDispatchesNothing(t *testing.T) {
	h := setup(t)
	err := h.ic.Update(context.Background(), newCandidate())
	if !errors.Is(err, taskcore.ErrRecordNotFound) {
		t.Fatalf("Update = %v, want ErrRecordNotFound", err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(h.sink.snapshot()); n != 0 {
		t.Errorf("failed write dispatched %d ops", n)
	}
}

func TestSinkError_NeverReachesWriter(t *testing.T) {
	h := setup(t)
	h.sink.err = errors.New("broker unavailable")

	if err := h.ic.Insert(context.Background(), newCandidate()); err != nil {
		t.Fatalf("Insert = %v, want nil", err)
	}
	h.sink.waitFor(t, 1)

	deadline := time.Now().Add(time.Second)
	for h.sup.Stats().Failed != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, want 1 failed", h.sup.Stats())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestWriterDoesNotWaitForSink(t *testing.T) {
	release := make(chan struct{})
	store := memory.New()
	sup := intercept.NewSupervisor(intercept.SinkFunc(func(ctx context.Context, _ intercept.Operation) error {
		<-release
		return nil
	}), intercept.WithWorkers(1))
	ic := intercept.New(store, sup)
	if err := sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer func() {
		close(release)
		_ = sup.Stop(context.Background())
	}()

	done := make(chan error, 1)
	go func() { done <- ic.Insert(context.Background(), newCandidate()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("write blocked on the sync dispatch")
	}
}

func TestDisabled_SkipsDispatch(t *testing.T) {
	h := setup(t)
	h.ic.SetEnabled(false)
	if err := h.ic.Insert(context.Background(), newCandidate()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if n := len(h.sink.snapshot()); n != 0 {
		t.Errorf("disabled interceptor dispatched %d ops", n)
	}

	h.ic.SetEnabled(true)
	if err := h.ic.Insert(context.Background(), newCandidate()); err != nil {
		t.Fatal(err)
	}
	h.sink.waitFor(t, 1)
}

// ──────────────────────────────────────────────────
// Backpressure
// ──────────────────────────────────────────────────

type dropCounter struct{ n atomic.Int32 }

func (d *dropCounter) Name() string { return "drop-counter" }

func (d *dropCounter) OnSyncDispatchFailed(context.Context, ext.SyncEvent, error) error {
	d.n.Add(1)
	return nil
}

func TestFullBuffer_DropsAndReports(t *testing.T) {
	drops := &dropCounter{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(drops)

	sink := &recorder{}
	// Not started: the single buffered slot is the only room.
	sup := intercept.NewSupervisor(sink, intercept.WithBuffer(1), intercept.WithExtensions(reg))
	ic := intercept.New(memory.New(), sup)

	for range 3 {
		if err := ic.Insert(context.Background(), newCandidate()); err != nil {
			t.Fatalf("Insert = %v; drops must not fail the write", err)
		}
	}

	st := sup.Stats()
	if st.Submitted != 3 || st.Dropped != 2 || st.Pending != 1 {
		t.Errorf("stats = %+v, want 3 submitted, 2 dropped, 1 pending", st)
	}
	if got := drops.n.Load(); got != 2 {
		t.Errorf("SyncDispatchFailed emitted %d times, want 2", got)
	}

	if err := sup.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sink.waitFor(t, 1)
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sup.Submit(context.Background(), intercept.Operation{}) {
		t.Error("Submit after Stop accepted a dispatch")
	}
}

func TestBlockTimeout_WaitsForRoom(t *testing.T) {
	sink := &recorder{}
	sup := intercept.NewSupervisor(sink, intercept.WithBuffer(1), intercept.WithBlockTimeout(time.Second))
	ic := intercept.New(memory.New(), sup)

	if err := ic.Insert(context.Background(), newCandidate()); err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = sup.Start(context.Background())
	}()
	if err := ic.Insert(context.Background(), newCandidate()); err != nil {
		t.Fatal(err)
	}

	sink.waitFor(t, 2)
	if st := sup.Stats(); st.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", st.Dropped)
	}
	_ = sup.Stop(context.Background())
}
