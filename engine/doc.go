// Package engine wires the task-execution subsystems together: it creates
// the extension registry, handler registry, middleware chain and queue
// manager, attaches one worker pool per registered queue to the Runtime,
// and provides the producer and operator APIs.
//
// This package exists to break an import cycle: the root taskcore package
// defines Entity and the error taxonomy (imported by job, worker, queue,
// etc.) and so cannot import those packages back.
//
// # Building an Engine
//
//	rt, err := taskcore.New(
//	    taskcore.WithStore(brokerStore),
//	    taskcore.WithLogger(logger),
//	    taskcore.WithConfig(cfg),
//	)
//
//	eng, err := engine.Build(rt,
//	    engine.WithPolicies(policies...),
//	    engine.WithLimiterFactory(redisLimiters),
//	    engine.WithExtension(analysis.NewFailureHook(queue.Analysis, runs, logger)),
//	)
//
// # Registering handlers
//
// Each queue has exactly one handler, and registering it creates the
// queue's worker pool:
//
//	eng.Register(queue.Analysis, analysisHandler.HandlerFunc())
//	eng.Register(queue.IndexSync, syncHandler.HandlerFunc())
//
// # Enqueueing
//
//	j, err := engine.Enqueue(ctx, eng, queue.Email, mail.MessageJob, msg)
//
// Payloads are JSON unless job.WithEncoding selects another codec.
// EnqueueRaw accepts an already-encoded payload.
//
// # Lifecycle
//
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
// Stop waits for in-flight attempts, emits the Shutdown hook, runs the
// runtime's closers and closes the broker.
package engine
