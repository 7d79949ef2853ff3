package syncer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/index"
	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/record"
)

// Action is what a sync job did to the index.
type Action string

const (
	ActionUpserted Action = "upserted"
	ActionDeleted  Action = "deleted"
)

// Result is the stored result of an index-sync job.
type Result struct {
	Entity record.Type `json:"entity"`
	ID     string      `json:"id"`
	Action Action      `json:"action"`
}

// Handler executes index-sync jobs.
type Handler struct {
	records  record.Store
	idx      index.Index
	embedder index.Embedder
	marks    Watermarks
	logger   *slog.Logger
}

// NewHandler creates a Handler. records is read only.
func NewHandler(records record.Store, idx index.Index, embedder index.Embedder, marks Watermarks, logger *slog.Logger) *Handler {
	return &Handler{records: records, idx: idx, embedder: embedder, marks: marks, logger: logger}
}

// HandlerFunc returns the queue handler.
func (h *Handler) HandlerFunc() job.HandlerFunc {
	return job.Handle(nil, h.Handle)
}

// Handle brings the index entry for p.ID in line with the primary store.
// A delete operation, a missing record or a soft-deleted record removes
// the entry; anything else is embedded and upserted.
func (h *Handler) Handle(ctx context.Context, p Payload) (Result, error) {
	if _, err := record.ParseType(string(p.Entity)); err != nil {
		return Result{}, taskcore.Fatal(err)
	}
	if p.ID.IsNil() {
		return Result{}, taskcore.Fatalf("sync %s: empty id", p.Entity)
	}

	if p.Op == record.OpDelete {
		return h.remove(ctx, p)
	}
	r, err := h.records.Get(ctx, p.Entity, p.ID)
	if errors.Is(err, taskcore.ErrRecordNotFound) {
		return h.remove(ctx, p)
	}
	if err != nil {
		return Result{}, err
	}
	if r.Deleted() {
		return h.remove(ctx, p)
	}

	entry, err := index.EntryOf(ctx, h.embedder, r)
	if err != nil {
		return Result{}, h.syncError(p, "embed", err)
	}
	if err := h.idx.Upsert(ctx, entry); err != nil {
		return Result{}, h.syncError(p, "upsert", err)
	}
	if err := h.marks.Advance(ctx, p.Entity, r.Created()); err != nil {
		h.logger.Warn("failed to advance sync watermark",
			slog.String("entity", string(p.Entity)),
			slog.String("error", err.Error()),
		)
	}
	return Result{Entity: p.Entity, ID: p.ID.String(), Action: ActionUpserted}, nil
}

func (h *Handler) remove(ctx context.Context, p Payload) (Result, error) {
	if err := h.idx.Delete(ctx, p.Entity, p.ID.String()); err != nil {
		return Result{}, h.syncError(p, "delete", err)
	}
	return Result{Entity: p.Entity, ID: p.ID.String(), Action: ActionDeleted}, nil
}

// syncError wraps err, keeping a fatal classification intact.
func (h *Handler) syncError(p Payload, op string, err error) error {
	se := &taskcore.SyncError{Entity: string(p.Entity), ID: p.ID.String(), Op: op, Err: err}
	h.logger.Warn("index write failed",
		slog.String("entity", se.Entity),
		slog.String("id", se.ID),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return se
}
