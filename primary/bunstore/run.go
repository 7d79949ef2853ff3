package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/analysis"
	"github.com/hirelane/taskcore/id"
)

// CreateRun implements analysis.RunStore.
func (s *Store) CreateRun(ctx context.Context, r *analysis.Run) error {
	if _, err := s.idb(ctx).NewInsert().Model(toRunModel(r)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return taskcore.ErrRecordAlreadyExists
		}
		return fmt.Errorf("taskcore/bunstore: create run: %w", err)
	}
	return nil
}

// GetRun implements analysis.RunStore.
func (s *Store) GetRun(ctx context.Context, runID id.ID) (*analysis.Run, error) {
	m := new(runModel)
	if err := s.idb(ctx).NewSelect().Model(m).Where("id = ?", runID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, taskcore.ErrRunNotFound
		}
		return nil, fmt.Errorf("taskcore/bunstore: get run: %w", err)
	}
	return fromRunModel(m)
}

// UpdateRun implements analysis.RunStore. The write is conditional on the
// stored version; a miss is told apart as not-found or conflict.
func (s *Store) UpdateRun(ctx context.Context, r *analysis.Run) error {
	m := toRunModel(r)
	m.Version = r.Version + 1
	m.UpdatedAt = time.Now().UTC()

	idb := s.idb(ctx)
	res, err := idb.NewUpdate().Model(m).WherePK().Where("version = ?", r.Version).Exec(ctx)
	if err != nil {
		return fmt.Errorf("taskcore/bunstore: update run: %w", err)
	}
	if affected(res) == 0 {
		exists, err := idb.NewSelect().Model((*runModel)(nil)).Where("id = ?", m.ID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("taskcore/bunstore: update run: %w", err)
		}
		if !exists {
			return taskcore.ErrRunNotFound
		}
		return taskcore.ErrVersionConflict
	}
	r.Version = m.Version
	r.UpdatedAt = m.UpdatedAt
	return nil
}
