// Package middleware wraps job handler attempts with cross-cutting
// behaviour: panic recovery, per-attempt deadlines, logging, metrics and
// tracing. Middleware observes and may rewrite the attempt's Outcome.
package middleware

import (
	"context"

	"github.com/hirelane/taskcore/job"
)

// Handler runs the rest of the chain for one attempt.
type Handler func(ctx context.Context) job.Outcome

// Middleware wraps a Handler. It must call next unless it short-circuits
// with its own Outcome.
type Middleware func(ctx context.Context, j *job.Job, next Handler) job.Outcome

// Chain composes mws so that the first is outermost:
//
//	Chain(recover, logging, timeout) → recover → logging → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) job.Outcome {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw, inner := mws[i], h
			h = func(ctx context.Context) job.Outcome { return mw(ctx, j, inner) }
		}
		return h(ctx)
	}
}

// Default is the chain every pool runs unless configured otherwise.
func Default(deps Deps) []Middleware {
	mws := []Middleware{Recover(deps.Logger), Logging(deps.Logger), Timeout()}
	if deps.Metrics {
		mws = append(mws, Metrics())
	}
	if deps.Tracing {
		mws = append(mws, Tracing())
	}
	return mws
}
