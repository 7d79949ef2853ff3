// Package hashembed is a deterministic feature-hashing Embedder. Tokens
// are lower-cased words; each adds ±1 to a hashed bucket and the vector
// is L2-normalised. Similar texts land close together, which is enough
// for development and tests.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/hirelane/taskcore/index"
)

// DefaultDimension is used when New gets a non-positive dimension.
const DefaultDimension = 256

// Embedder implements index.Embedder.
type Embedder struct {
	dim int
}

var _ index.Embedder = (*Embedder)(nil)

// New returns an Embedder producing vectors of length dim.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim}
}

// Dimension implements index.Embedder.
func (e *Embedder) Dimension() int { return e.dim }

// Embed implements index.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(e.dim)] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}
