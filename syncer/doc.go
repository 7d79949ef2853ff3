// Package syncer keeps the secondary index in step with the primary
// store.
//
// Three parts cooperate:
//
//   - Dispatcher turns an intercept.Operation into an index-sync job.
//   - Handler executes index-sync jobs: it reads the record's current
//     state and upserts or deletes the index entry keyed by the record's
//     primary ID, so re-running it is idempotent.
//   - Reconciler compares record counts between the two stores and
//     re-dispatches records in bulk. Schedule runs it on a cron
//     expression.
//
// Divergence is detected by counts only. Inserts and deletes that offset
// each other leave the counts equal and go unnoticed until a full pass.
package syncer
