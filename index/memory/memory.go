// Package memory is an in-process vector index with exact cosine search.
package memory

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/hirelane/taskcore/index"
	"github.com/hirelane/taskcore/record"
)

// Index keeps entries in maps keyed by type and ID.
type Index struct {
	mu      sync.RWMutex
	entries map[record.Type]map[string]index.Entry
	dim     int
}

var _ index.Index = (*Index)(nil)

// New returns an empty Index. A positive dim rejects vectors of any other
// length.
func New(dim int) *Index {
	return &Index{entries: make(map[record.Type]map[string]index.Entry), dim: dim}
}

// Upsert implements index.Index.
func (x *Index) Upsert(_ context.Context, e index.Entry) error {
	if x.dim > 0 && len(e.Vector) != x.dim {
		return fmt.Errorf("index/memory: vector has %d dimensions, want %d", len(e.Vector), x.dim)
	}
	e.Vector = slices.Clone(e.Vector)
	e.Fields = maps.Clone(e.Fields)

	x.mu.Lock()
	defer x.mu.Unlock()
	byID, ok := x.entries[e.Type]
	if !ok {
		byID = make(map[string]index.Entry)
		x.entries[e.Type] = byID
	}
	byID[e.ID] = e
	return nil
}

// Delete implements index.Index.
func (x *Index) Delete(_ context.Context, t record.Type, id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.entries[t], id)
	return nil
}

// Count implements index.Index.
func (x *Index) Count(_ context.Context, t record.Type) (int64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return int64(len(x.entries[t])), nil
}

// IDs implements index.Index.
func (x *Index) IDs(_ context.Context, t record.Type, after string, limit int) ([]string, error) {
	x.mu.RLock()
	out := make([]string, 0, len(x.entries[t]))
	for id := range x.entries[t] {
		if id > after {
			out = append(out, id)
		}
	}
	x.mu.RUnlock()

	slices.Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Get returns the entry stored for id.
func (x *Index) Get(t record.Type, id string) (index.Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.entries[t][id]
	return e, ok
}

// Search implements index.Index.
func (x *Index) Search(_ context.Context, q index.Query) ([]index.Match, error) {
	x.mu.RLock()
	var out []index.Match
	for _, e := range x.entries[q.Type] {
		if !matches(e.Fields, q.Filter) {
			continue
		}
		out = append(out, index.Match{ID: e.ID, Score: cosine(q.Vector, e.Vector), Fields: maps.Clone(e.Fields)})
	}
	x.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].ID < out[b].ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matches(fields, filter map[string]string) bool {
	for k, v := range filter {
		if fields[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
