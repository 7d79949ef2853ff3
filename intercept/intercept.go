package intercept

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/record"
)

// Operation describes one committed change.
type Operation struct {
	Entity record.Type `json:"entity"`
	Kind   record.Op   `json:"op"`
	ID     id.ID       `json:"id"`
}

// Interceptor is a record.Store decorator.
type Interceptor struct {
	next    record.Store
	sup     *Supervisor
	enabled atomic.Bool
	logger  *slog.Logger
}

var _ record.Store = (*Interceptor)(nil)

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithEnabled sets the initial SyncEnabled state. The default is enabled.
func WithEnabled(on bool) Option {
	return func(i *Interceptor) { i.enabled.Store(on) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) { i.logger = l }
}

// New decorates next. Dispatches are submitted to sup.
func New(next record.Store, sup *Supervisor, opts ...Option) *Interceptor {
	i := &Interceptor{next: next, sup: sup, logger: slog.Default()}
	i.enabled.Store(true)
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetEnabled toggles dispatching. Writes are never affected.
func (i *Interceptor) SetEnabled(on bool) { i.enabled.Store(on) }

// Enabled reports whether dispatching is on.
func (i *Interceptor) Enabled() bool { return i.enabled.Load() }

// Intercept runs next and, when it succeeds, dispatches op: immediately
// outside a transaction, on commit inside one. next's error is returned
// as is.
func (i *Interceptor) Intercept(ctx context.Context, op Operation, next func(ctx context.Context) error) error {
	if err := next(ctx); err != nil {
		return err
	}
	if !i.enabled.Load() {
		return nil
	}
	if st := stageFrom(ctx); st != nil {
		st.add(op)
		return nil
	}
	i.sup.Submit(ctx, op)
	return nil
}

// ──────────────────────────────────────────────────
// record.Store
// ──────────────────────────────────────────────────

// Insert implements record.Store.
func (i *Interceptor) Insert(ctx context.Context, r record.Record) error {
	return i.Intercept(ctx, opOf(r, record.OpInsert), func(ctx context.Context) error {
		return i.next.Insert(ctx, r)
	})
}

// Update implements record.Store.
func (i *Interceptor) Update(ctx context.Context, r record.Record) error {
	return i.Intercept(ctx, opOf(r, record.OpUpdate), func(ctx context.Context) error {
		return i.next.Update(ctx, r)
	})
}

// Upsert implements record.Store.
func (i *Interceptor) Upsert(ctx context.Context, r record.Record) error {
	return i.Intercept(ctx, opOf(r, record.OpUpsert), func(ctx context.Context) error {
		return i.next.Upsert(ctx, r)
	})
}

// Delete implements record.Store.
func (i *Interceptor) Delete(ctx context.Context, t record.Type, rid id.ID) error {
	op := Operation{Entity: t, Kind: record.OpDelete, ID: rid}
	return i.Intercept(ctx, op, func(ctx context.Context) error {
		return i.next.Delete(ctx, t, rid)
	})
}

// Get implements record.Store.
func (i *Interceptor) Get(ctx context.Context, t record.Type, rid id.ID) (record.Record, error) {
	return i.next.Get(ctx, t, rid)
}

// List implements record.Store.
func (i *Interceptor) List(ctx context.Context, t record.Type, opts record.ListOpts) ([]record.Record, error) {
	return i.next.List(ctx, t, opts)
}

// Count implements record.Store.
func (i *Interceptor) Count(ctx context.Context, t record.Type) (int64, error) {
	return i.next.Count(ctx, t)
}

// RunInTx implements record.Store. Operations staged by fn are submitted
// only if the transaction commits. A nested call joins the outer stage.
func (i *Interceptor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if stageFrom(ctx) != nil {
		return i.next.RunInTx(ctx, fn)
	}
	st := &stage{}
	if err := i.next.RunInTx(context.WithValue(ctx, stageKey{}, st), fn); err != nil {
		if n := st.size(); n > 0 {
			i.logger.Debug("transaction aborted, discarding staged sync dispatches",
				slog.Int("count", n),
			)
		}
		return err
	}
	for _, op := range st.drain() {
		i.sup.Submit(ctx, op)
	}
	return nil
}

func opOf(r record.Record, kind record.Op) Operation {
	return Operation{Entity: r.RecordType(), Kind: kind, ID: r.RecordID()}
}

// ──────────────────────────────────────────────────
// Transaction stage
// ──────────────────────────────────────────────────

type stageKey struct{}

// stage collects a transaction's operations. A later operation on the same
// record replaces the earlier one in place; the sync job reads current
// state, so only the last op matters.
type stage struct {
	mu  sync.Mutex
	ops []Operation
	pos map[string]int
}

func stageFrom(ctx context.Context) *stage {
	st, _ := ctx.Value(stageKey{}).(*stage)
	return st
}

func (s *stage) add(op Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(op.Entity) + "/" + op.ID.String()
	if s.pos == nil {
		s.pos = make(map[string]int)
	}
	if at, ok := s.pos[key]; ok {
		s.ops[at] = op
		return
	}
	s.pos[key] = len(s.ops)
	s.ops = append(s.ops, op)
}

func (s *stage) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

func (s *stage) drain() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops := s.ops
	s.ops, s.pos = nil, nil
	return ops
}
