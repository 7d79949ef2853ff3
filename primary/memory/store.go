// Package memory is an in-process primary store. Writers are serialized;
// a transaction holds the writer lock for its whole duration and restores
// a snapshot when it fails. Readers outside a transaction may observe its
// uncommitted writes.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hirelane/taskcore"
	"github.com/hirelane/taskcore/analysis"
	"github.com/hirelane/taskcore/id"
	"github.com/hirelane/taskcore/primary"
	"github.com/hirelane/taskcore/record"
)

var _ primary.Store = (*Store)(nil)

type txKey struct{}

// Store keeps records and runs in maps.
type Store struct {
	txMu sync.Mutex // held by the active writer or transaction

	mu      sync.RWMutex
	records map[record.Type]map[string]record.Record
	runs    map[string]*analysis.Run
}

// New returns an empty Store.
func New() *Store {
	s := &Store{runs: make(map[string]*analysis.Run)}
	s.records = emptyRecords()
	return s
}

func emptyRecords() map[record.Type]map[string]record.Record {
	m := make(map[record.Type]map[string]record.Record, len(record.Types))
	for _, t := range record.Types {
		m[t] = make(map[string]record.Record)
	}
	return m
}

// Migrate is a no-op.
func (s *Store) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// write runs fn under the writer lock, unless ctx already holds it.
func (s *Store) write(ctx context.Context, fn func() error) error {
	if !inTx(ctx) {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// RunInTx implements record.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	records, runs := s.snapshot()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(records, runs)
			panic(p)
		}
		if err != nil {
			s.restore(records, runs)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) snapshot() (map[record.Type]map[string]record.Record, map[string]*analysis.Run) {
	records := emptyRecords()
	for t, byID := range s.records {
		for k, r := range byID {
			records[t][k] = r // stored records are never mutated in place
		}
	}
	runs := make(map[string]*analysis.Run, len(s.runs))
	for k, r := range s.runs {
		runs[k] = r
	}
	return records, runs
}

func (s *Store) restore(records map[record.Type]map[string]record.Record, runs map[string]*analysis.Run) {
	s.mu.Lock()
	s.records, s.runs = records, runs
	s.mu.Unlock()
}

// ──────────────────────────────────────────────────
// Records
// ──────────────────────────────────────────────────

// Insert implements record.Store.
func (s *Store) Insert(ctx context.Context, r record.Record) error {
	return s.write(ctx, func() error {
		byID := s.records[r.RecordType()]
		key := r.RecordID().String()
		if _, ok := byID[key]; ok {
			return taskcore.ErrRecordAlreadyExists
		}
		byID[key] = cloneRecord(r)
		return nil
	})
}

// Update implements record.Store.
func (s *Store) Update(ctx context.Context, r record.Record) error {
	return s.write(ctx, func() error {
		byID := s.records[r.RecordType()]
		key := r.RecordID().String()
		if _, ok := byID[key]; !ok {
			return taskcore.ErrRecordNotFound
		}
		byID[key] = cloneRecord(r)
		return nil
	})
}

// Upsert implements record.Store.
func (s *Store) Upsert(ctx context.Context, r record.Record) error {
	return s.write(ctx, func() error {
		s.records[r.RecordType()][r.RecordID().String()] = cloneRecord(r)
		return nil
	})
}

// Delete implements record.Store.
func (s *Store) Delete(ctx context.Context, t record.Type, rid id.ID) error {
	return s.write(ctx, func() error {
		byID := s.records[t]
		key := rid.String()
		if _, ok := byID[key]; !ok {
			return taskcore.ErrRecordNotFound
		}
		delete(byID, key)
		return nil
	})
}

// Get implements record.Store.
func (s *Store) Get(_ context.Context, t record.Type, rid id.ID) (record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[t][rid.String()]
	if !ok {
		return nil, taskcore.ErrRecordNotFound
	}
	return cloneRecord(r), nil
}

// List implements record.Store.
func (s *Store) List(_ context.Context, t record.Type, opts record.ListOpts) ([]record.Record, error) {
	s.mu.RLock()
	var out []record.Record
	for _, r := range s.records[t] {
		if r.Deleted() {
			continue
		}
		if !opts.CreatedAfter.IsZero() && !r.Created().After(opts.CreatedAfter) {
			continue
		}
		if opts.After != nil && !after(r, opts.After) {
			continue
		}
		out = append(out, cloneRecord(r))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return less(out[a], out[b]) })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Count implements record.Store.
func (s *Store) Count(_ context.Context, t record.Type) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.records[t] {
		if !r.Deleted() {
			n++
		}
	}
	return n, nil
}

func less(a, b record.Record) bool {
	if !a.Created().Equal(b.Created()) {
		return a.Created().Before(b.Created())
	}
	return a.RecordID().String() < b.RecordID().String()
}

func after(r record.Record, c *record.Cursor) bool {
	if !r.Created().Equal(c.CreatedAt) {
		return r.Created().After(c.CreatedAt)
	}
	return strings.Compare(r.RecordID().String(), c.ID) > 0
}

func cloneRecord(r record.Record) record.Record {
	switch v := r.(type) {
	case *record.Candidate:
		cp := *v
		cp.Skills = slices.Clone(v.Skills)
		cp.DeletedAt = cloneTime(v.DeletedAt)
		return &cp
	case *record.JobPosting:
		cp := *v
		cp.Requirements = slices.Clone(v.Requirements)
		cp.DeletedAt = cloneTime(v.DeletedAt)
		return &cp
	case *record.AnalysisResult:
		cp := *v
		return &cp
	default:
		return r
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// CreateRun implements analysis.RunStore.
func (s *Store) CreateRun(ctx context.Context, r *analysis.Run) error {
	return s.write(ctx, func() error {
		key := r.ID.String()
		if _, ok := s.runs[key]; ok {
			return taskcore.ErrRecordAlreadyExists
		}
		s.runs[key] = cloneRun(r)
		return nil
	})
}

// GetRun implements analysis.RunStore.
func (s *Store) GetRun(_ context.Context, runID id.ID) (*analysis.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID.String()]
	if !ok {
		return nil, taskcore.ErrRunNotFound
	}
	return cloneRun(r), nil
}

// UpdateRun implements analysis.RunStore.
func (s *Store) UpdateRun(ctx context.Context, r *analysis.Run) error {
	return s.write(ctx, func() error {
		key := r.ID.String()
		stored, ok := s.runs[key]
		if !ok {
			return taskcore.ErrRunNotFound
		}
		if stored.Version != r.Version {
			return taskcore.ErrVersionConflict
		}
		r.Version++
		r.UpdatedAt = time.Now().UTC()
		s.runs[key] = cloneRun(r)
		return nil
	})
}

func cloneRun(r *analysis.Run) *analysis.Run {
	cp := *r
	cp.CandidateIDs = slices.Clone(r.CandidateIDs)
	cp.FailedCandidateIDs = slices.Clone(r.FailedCandidateIDs)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	return &cp
}
