// Package bunstore is the PostgreSQL primary store, built on Bun with the
// pgdialect and pgdriver packages.
//
// A transaction opened by RunInTx travels in the context: every Store call
// made with that context runs on the same bun.Tx, and a nested RunInTx
// joins it.
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore
