// Package postgres is a PostgreSQL broker built on pgx/v5. Claims use
// SELECT ... FOR UPDATE SKIP LOCKED so any number of processes can drain
// the same queues; the schema is applied from embedded SQL files by
// Migrate.
package postgres
