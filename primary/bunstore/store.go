package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/hirelane/taskcore/primary"
)

var _ primary.Store = (*Store)(nil)

type txKey struct{}

// Store is a Bun implementation of primary.Store. Unless it was created by
// Open, the caller owns the *bun.DB and Close leaves it open.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New wraps an existing Bun database.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn through pgdriver. The returned Store owns the
// connection pool.
func Open(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	s := New(bun.NewDB(sqldb, pgdialect.New()), opts...)
	s.owned = true
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// idb returns the transaction carried by ctx, or the database.
func (s *Store) idb(ctx context.Context) bun.IDB {
	if tx, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return tx
	}
	return s.db
}

// RunInTx implements record.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(bun.Tx); ok {
		return fn(ctx)
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Migrate creates the tables and keyset indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	tables := []struct {
		model any
		name  string
	}{
		{(*candidateModel)(nil), "candidates"},
		{(*postingModel)(nil), "job_postings"},
		{(*resultModel)(nil), "analysis_results"},
		{(*runModel)(nil), "analysis_runs"},
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, t := range tables {
			if _, err := tx.NewCreateTable().Model(t.model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("taskcore/bunstore: create %s: %w", t.name, err)
			}
			if t.name == "analysis_runs" {
				continue
			}
			_, err := tx.NewCreateIndex().Model(t.model).
				Index("idx_"+t.name+"_keyset").
				Column("created_at", "id").
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("taskcore/bunstore: index %s: %w", t.name, err)
			}
			s.logger.Debug("table ready", slog.String("table", t.name))
		}
		return nil
	})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database when the Store owns it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
