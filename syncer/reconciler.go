package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/ext"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/index"
	"github.com/hirelane/taskcore/intercept"
	"github.com/hirelane/taskcore/record"
)

// Mode selects which records a reconciliation pass dispatches.
type Mode string

const (
	// ModeFull dispatches every non-deleted record.
	ModeFull Mode = "full"
	// ModeDifferential dispatches records created after the watermark.
	ModeDifferential Mode = "differential"
)

// ParseMode validates s.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeDifferential:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("syncer: unknown mode %q", s)
	}
}

// Stat compares the two stores for one type.
type Stat struct {
	PrimaryCount int64 `json:"primary_count"`
	IndexCount   int64 `json:"index_count"`
}

// NeedsSync reports whether the counts diverge. Equal counts do not prove
// equal content.
func NeedsSync(s Stat) bool { return s.PrimaryCount != s.IndexCount }

// Summary is the operational view of one type's index.
type Summary struct {
	Total        int64      `json:"total"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// Report is the outcome of one reconciliation pass. Synced counts
// dispatched sync jobs, not finished index writes.
type Report struct {
	Entity record.Type `json:"entity"`
	Mode   Mode        `json:"mode"`
	Synced int         `json:"synced"`
	// Removed counts delete jobs dispatched for index entries whose
	// primary record is gone.
	Removed int `json:"removed"`
	Errors  int `json:"errors"`
	Total   int `json:"total"`
}

// Reconciler drives bulk catch-up between the primary store and the index.
type Reconciler struct {
	records    record.Store
	idx        index.Index
	marks      Watermarks
	sink       intercept.Sink
	extensions *ext.Registry
	pageSize   int
	logger     *slog.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPageSize sets how many records are read per page. Default 500.
func WithPageSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithExtensions reports finished passes to reg.
func WithExtensions(reg *ext.Registry) ReconcilerOption {
	return func(r *Reconciler) { r.extensions = reg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler that dispatches through sink.
func NewReconciler(records record.Store, idx index.Index, marks Watermarks, sink intercept.Sink, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		records:  records,
		idx:      idx,
		marks:    marks,
		sink:     sink,
		pageSize: 500,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Stats counts every watched type in both stores. It only reads.
func (r *Reconciler) Stats(ctx context.Context) (map[record.Type]Stat, error) {
	out := make(map[record.Type]Stat, len(record.Types))
	for _, t := range record.Types {
		pc, err := r.records.Count(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("syncer: count %s in primary store: %w", t, err)
		}
		ic, err := r.idx.Count(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("syncer: count %s in index: %w", t, err)
		}
		out[t] = Stat{PrimaryCount: pc, IndexCount: ic}
	}
	return out, nil
}

// SyncStats reports the index size and watermark per type. It only reads.
func (r *Reconciler) SyncStats(ctx context.Context) (map[record.Type]Summary, error) {
	out := make(map[record.Type]Summary, len(record.Types))
	for _, t := range record.Types {
		n, err := r.idx.Count(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("syncer: count %s in index: %w", t, err)
		}
		s := Summary{Total: n}
		mark, err := r.marks.Get(ctx, t)
		if err != nil {
			return nil, err
		}
		if !mark.IsZero() {
			s.LastSyncedAt = &mark
		}
		out[t] = s
	}
	return out, nil
}

// Reconcile dispatches an upsert for every selected record of t, then a
// delete for every index entry whose record is gone. A failed
// dispatch counts as an error and the pass continues; only a primary
// read failure or cancellation ends it early.
func (r *Reconciler) Reconcile(ctx context.Context, t record.Type, mode Mode) (Report, error) {
	rep := Report{Entity: t, Mode: mode}
	opts := record.ListOpts{Limit: r.pageSize}
	if mode == ModeDifferential {
		mark, err := r.marks.Get(ctx, t)
		if err != nil {
			return rep, err
		}
		opts.CreatedAfter = mark
	}

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		page, err := r.records.List(ctx, t, opts)
		if err != nil {
			return rep, fmt.Errorf("syncer: list %s: %w", t, err)
		}
		for _, rec := range page {
			rep.Total++
			op := intercept.Operation{Entity: t, Kind: record.OpUpsert, ID: rec.RecordID()}
			if err := r.sink.Dispatch(ctx, op); err != nil {
				rep.Errors++
				r.logger.Warn("reconcile dispatch failed",
					slog.String("entity", string(t)),
					slog.String("id", rec.RecordID().String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			rep.Synced++
		}
		if len(page) < r.pageSize {
			break
		}
		opts.After = record.CursorOf(page[len(page)-1])
	}

	if err := r.prune(ctx, t, &rep); err != nil {
		return rep, err
	}

	r.logger.Info("reconcile pass finished",
		slog.String("entity", string(t)),
		slog.String("mode", string(mode)),
		slog.Int("synced", rep.Synced),
		slog.Int("removed", rep.Removed),
		slog.Int("errors", rep.Errors),
		slog.Int("total", rep.Total),
	)
	if r.extensions != nil {
		r.extensions.EmitReconcileCompleted(ctx, string(t), rep.Synced+rep.Removed, rep.Errors, rep.Total)
	}
	return rep, nil
}

// prune dispatches a delete for every index entry of t whose primary
// record is missing or soft-deleted. It only walks the index when the
// index holds more entries than the primary store has live records.
func (r *Reconciler) prune(ctx context.Context, t record.Type, rep *Report) error {
	pc, err := r.records.Count(ctx, t)
	if err != nil {
		return fmt.Errorf("syncer: count %s in primary store: %w", t, err)
	}
	ic, err := r.idx.Count(ctx, t)
	if err != nil {
		return fmt.Errorf("syncer: count %s in index: %w", t, err)
	}
	if ic <= pc {
		return nil
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.idx.IDs(ctx, t, after, r.pageSize)
		if err != nil {
			return fmt.Errorf("syncer: list %s index ids: %w", t, err)
		}
		for _, raw := range page {
			if r.orphan(ctx, t, raw, rep) {
				rep.Removed++
			}
		}
		if len(page) < r.pageSize {
			return nil
		}
		after = page[len(page)-1]
	}
}

// orphan dispatches a delete for raw when its record is gone and reports
// whether it did. Failures are counted on rep.
func (r *Reconciler) orphan(ctx context.Context, t record.Type, raw string, rep *Report) bool {
	rid, err := id.Parse(raw)
	if err != nil {
		rep.Errors++
		r.logger.Warn("index entry has an invalid id",
			slog.String("entity", string(t)),
			slog.String("id", raw),
		)
		return false
	}
	rec, err := r.records.Get(ctx, t, rid)
	switch {
	case errors.Is(err, taskcore.ErrRecordNotFound):
	case err != nil:
		rep.Errors++
		r.logger.Warn("reconcile lookup failed",
			slog.String("entity", string(t)),
			slog.String("id", raw),
			slog.String("error", err.Error()),
		)
		return false
	case !rec.Deleted():
		return false
	}

	op := intercept.Operation{Entity: t, Kind: record.OpDelete, ID: rid}
	if err := r.sink.Dispatch(ctx, op); err != nil {
		rep.Errors++
		r.logger.Warn("reconcile dispatch failed",
			slog.String("entity", string(t)),
			slog.String("id", raw),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// ReconcileAll reconciles every type whose counts diverge.
func (r *Reconciler) ReconcileAll(ctx context.Context, mode Mode) ([]Report, error) {
	stats, err := r.Stats(ctx)
	if err != nil {
		return nil, err
	}
	var reports []Report
	for _, t := range record.Types {
		if !NeedsSync(stats[t]) {
			continue
		}
		rep, err := r.Reconcile(ctx, t, mode)
		reports = append(reports, rep)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
