// Package index defines the secondary vector index the sync pipeline
// writes to, and the embedding collaborator that turns record text into
// vectors. Concrete vendors live outside this module; index/memory and
// index/hashembed serve development and tests.
package index

import (
	"context"
	"time"

	"github.com/hirelane/taskcore/record"
)

// Embedder turns text into a vector of fixed dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Entry is one indexed record, keyed by its primary-store ID.
type Entry struct {
	ID        string            `json:"id"`
	Type      record.Type       `json:"type"`
	Vector    []float32         `json:"vector"`
	Fields    map[string]string `json:"fields,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Query is a nearest-neighbour search within one type.
type Query struct {
	Type   record.Type
	Vector []float32
	Limit  int
	// Filter keeps entries whose fields match every pair.
	Filter map[string]string
}

// Match is a search hit.
type Match struct {
	ID     string            `json:"id"`
	Score  float64           `json:"score"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Index is the secondary store. Upsert replaces any entry with the same
// ID, so the index holds at most one entry per primary record. Delete of
// a missing entry succeeds. IDs pages through the entry IDs of one type
// in ascending order, starting after the given ID ("" for the first
// page).
type Index interface {
	Upsert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, t record.Type, id string) error
	Search(ctx context.Context, q Query) ([]Match, error)
	Count(ctx context.Context, t record.Type) (int64, error)
	IDs(ctx context.Context, t record.Type, after string, limit int) ([]string, error)
}

// EntryOf embeds r and builds its Entry.
func EntryOf(ctx context.Context, emb Embedder, r record.Record) (Entry, error) {
	vec, err := emb.Embed(ctx, r.IndexText())
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:        r.RecordID().String(),
		Type:      r.RecordType(),
		Vector:    vec,
		Fields:    r.IndexFields(),
		CreatedAt: r.Created(),
	}, nil
}
