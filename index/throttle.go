package index

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hirelane/taskcore"
)

// Throttle paces calls to an Embedder with a token bucket, keeping the
// index-sync queue under the embedding vendor's request quota.
type Throttle struct {
	next    Embedder
	limiter *rate.Limiter
}

var _ Embedder = (*Throttle)(nil)

// NewThrottle allows perSecond calls with bursts of burst.
func NewThrottle(next Embedder, perSecond float64, burst int) *Throttle {
	return &Throttle{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))}
}

// Embed waits for a token, then calls the wrapped Embedder. Running out
// of time while waiting is transient.
func (t *Throttle) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, taskcore.Transient(fmt.Errorf("embed throttle: %w", err))
	}
	return t.next.Embed(ctx, text)
}

// Dimension implements Embedder.
func (t *Throttle) Dimension() int { return t.next.Dimension() }
