// Package primary names the contract of a primary relational store: the
// watched records plus analysis runs, sharing one transaction scope.
//
// Backends: primary/memory for tests and development, primary/bunstore
// for PostgreSQL through Bun.
package primary

import (
	"context"

	"github.com/hirelane/taskcore/analysis"
	"github.com/hirelane/taskcore/record"
)

// Store is a primary-store backend.
type Store interface {
	record.Store
	analysis.RunStore

	// Migrate creates or updates the schema.
	Migrate(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
