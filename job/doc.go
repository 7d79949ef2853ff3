// Package job defines the queued job entity, its state machine, handler
// outcomes, payload codecs and the broker store contract.
//
// # Lifecycle
//
//	waiting → active → completed
//	waiting → active → delayed → waiting → active → ...
//	waiting → active → failed
//	waiting → delayed (enqueued with a delay)
//	active  → waiting (stalled job requeued by the reaper)
//
// AttemptsMade counts handler invocations and never exceeds MaxAttempts.
// A job held back by its queue's start-rate budget moves active → delayed
// without consuming an attempt.
//
// # Handlers
//
// A [HandlerFunc] returns an [Outcome] tagged Success, Retry or Fail. The
// worker pool maps the tag to the next state; handlers never decide
// retries themselves. [Handle] adapts a typed function returning
// (R, error) and classifies the error:
//
//	h := job.Handle(job.JSON, func(ctx context.Context, p OfferPayload) (Receipt, error) {
//	    return mailer.SendOffer(ctx, p)
//	})
//
// One handler is registered per queue in a [Registry].
package job
