// Package taskcore is the asynchronous task-execution core of the hiring
// platform. It drains named work queues (candidate analysis, email, offer
// email, test generation, index sync) with bounded worker pools, and keeps
// the secondary vector index eventually consistent with the primary
// relational store.
//
// # Quick Start
//
//	rt, err := taskcore.New(
//	    taskcore.WithStore(pgBroker),
//	    taskcore.WithLogger(logger),
//	)
//	eng, err := engine.Build(rt)
//	eng.Register(queue.Policy{Name: queue.Email, Concurrency: 5}, mail.NewHandler(mailer))
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem defines the narrow store contract it needs (job.Store for
// the broker, record.Store and analysis.Store for the primary database,
// index.Index for the vector index). Backends implement those contracts;
// components receive them explicitly at construction time.
//
// Every handler returns a tagged [job.Outcome]; the worker pool derives the
// next job state from the tag alone.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package taskcore
