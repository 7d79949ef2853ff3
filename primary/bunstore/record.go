package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/record"
)

type recordModel interface {
	toRecord() (record.Record, error)
}

func modelOf(r record.Record) (any, error) {
	switch v := r.(type) {
	case *record.Candidate:
		return toCandidateModel(v), nil
	case *record.JobPosting:
		return toPostingModel(v), nil
	case *record.AnalysisResult:
		return toResultModel(v), nil
	default:
		return nil, fmt.Errorf("taskcore/bunstore: unsupported record %T", r)
	}
}

// emptyModel returns a zero model for t and whether t is soft-deletable.
func emptyModel(t record.Type) (recordModel, bool, error) {
	switch t {
	case record.TypeCandidate:
		return &candidateModel{}, true, nil
	case record.TypeJobPosting:
		return &postingModel{}, true, nil
	case record.TypeAnalysisResult:
		return &resultModel{}, false, nil
	default:
		return nil, false, fmt.Errorf("taskcore/bunstore: unsupported record type %q", t)
	}
}

// Insert implements record.Store.
func (s *Store) Insert(ctx context.Context, r record.Record) error {
	m, err := modelOf(r)
	if err != nil {
		return err
	}
	if _, err := s.idb(ctx).NewInsert().Model(m).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return taskcore.ErrRecordAlreadyExists
		}
		return fmt.Errorf("taskcore/bunstore: insert %s: %w", r.RecordType(), err)
	}
	return nil
}

// Update implements record.Store.
func (s *Store) Update(ctx context.Context, r record.Record) error {
	m, err := modelOf(r)
	if err != nil {
		return err
	}
	res, err := s.idb(ctx).NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskcore/bunstore: update %s: %w", r.RecordType(), err)
	}
	if affected(res) == 0 {
		return taskcore.ErrRecordNotFound
	}
	return nil
}

// Upsert implements record.Store. Every column is overwritten on conflict.
func (s *Store) Upsert(ctx context.Context, r record.Record) error {
	m, err := modelOf(r)
	if err != nil {
		return err
	}
	_, err = s.idb(ctx).NewInsert().Model(m).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskcore/bunstore: upsert %s: %w", r.RecordType(), err)
	}
	return nil
}

// Delete implements record.Store.
func (s *Store) Delete(ctx context.Context, t record.Type, rid id.ID) error {
	m, _, err := emptyModel(t)
	if err != nil {
		return err
	}
	res, err := s.idb(ctx).NewDelete().Model(m).Where("id = ?", rid.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskcore/bunstore: delete %s: %w", t, err)
	}
	if affected(res) == 0 {
		return taskcore.ErrRecordNotFound
	}
	return nil
}

// Get implements record.Store.
func (s *Store) Get(ctx context.Context, t record.Type, rid id.ID) (record.Record, error) {
	m, _, err := emptyModel(t)
	if err != nil {
		return nil, err
	}
	if err := s.idb(ctx).NewSelect().Model(m).Where("id = ?", rid.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, taskcore.ErrRecordNotFound
		}
		return nil, fmt.Errorf("taskcore/bunstore: get %s: %w", t, err)
	}
	return m.toRecord()
}

// List implements record.Store.
func (s *Store) List(ctx context.Context, t record.Type, opts record.ListOpts) ([]record.Record, error) {
	_, soft, err := emptyModel(t)
	if err != nil {
		return nil, err
	}
	filter := func(q *bun.SelectQuery) *bun.SelectQuery {
		if soft {
			q = q.Where("deleted_at IS NULL")
		}
		if !opts.CreatedAfter.IsZero() {
			q = q.Where("created_at > ?", opts.CreatedAfter)
		}
		if opts.After != nil {
			q = q.Where("(created_at, id) > (?, ?)", opts.After.CreatedAt, opts.After.ID)
		}
		q = q.OrderExpr("created_at ASC, id ASC")
		if opts.Limit > 0 {
			q = q.Limit(opts.Limit)
		}
		return q
	}

	idb := s.idb(ctx)
	switch t {
	case record.TypeCandidate:
		return listModels[candidateModel](ctx, idb, filter)
	case record.TypeJobPosting:
		return listModels[postingModel](ctx, idb, filter)
	default:
		return listModels[resultModel](ctx, idb, filter)
	}
}

func listModels[M any, PM interface {
	*M
	recordModel
}](ctx context.Context, idb bun.IDB, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]record.Record, error) {
	var ms []M
	if err := filter(idb.NewSelect().Model(&ms)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("taskcore/bunstore: list: %w", err)
	}
	out := make([]record.Record, 0, len(ms))
	for i := range ms {
		r, err := PM(&ms[i]).toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Count implements record.Store.
func (s *Store) Count(ctx context.Context, t record.Type) (int64, error) {
	m, soft, err := emptyModel(t)
	if err != nil {
		return 0, err
	}
	q := s.idb(ctx).NewSelect().Model(m)
	if soft {
		q = q.Where("deleted_at IS NULL")
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("taskcore/bunstore: count %s: %w", t, err)
	}
	return int64(n), nil
}
