// Package queue defines per-queue policies and the Manager that enforces
// their start-rate budgets.
//
// Each named queue has exactly one [Policy]: a concurrency ceiling, a
// start-rate limit over a rolling window, an attempt budget, a backoff
// curve and a retention rule. The five production queues are declared
// as constants and [DefaultPolicies] returns their baseline settings,
// which configuration may override per queue:
//
//	queue.Policy{
//	    Name:        queue.Analysis,
//	    Concurrency: 2,
//	    RateLimit:   ratelimit.Limit{Max: 10, Window: time.Minute},
//	    MaxAttempts: 3,
//	    Backoff:     backoff.Policy{Type: backoff.TypeExponential, BaseDelay: 10 * time.Second},
//	}
//
// The concurrency ceiling is enforced by the worker pool's slot channel;
// [Manager] gates starts and keeps active counts for observation.
package queue
