// Package store defines the broker persistence interface and opens a
// backend by driver name. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hirelane/taskcore/job"
	"github.com/hirelane/taskcore/store/memory"
	"github.com/hirelane/taskcore/store/postgres"
	redisstore "github.com/hirelane/taskcore/store/redis"
)

// Store is the broker persistence interface.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Open connects the backend named by driver. dsn is a Postgres
// connection URL or a redis:// URL; it is ignored for memory. Close on a
// Redis store opened here also closes its client.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case DriverMemory, "":
		return memory.New(), nil
	case DriverPostgres:
		return postgres.New(ctx, dsn, postgres.WithLogger(logger))
	case DriverRedis:
		opts, err := goredis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("taskcore/store: parse redis url: %w", err)
		}
		client := goredis.NewClient(opts)
		return &ownedRedis{
			Store:  redisstore.New(client, redisstore.WithLogger(logger)),
			client: client,
		}, nil
	default:
		return nil, fmt.Errorf("taskcore/store: unknown driver %q", driver)
	}
}

// ownedRedis closes the client Open created.
type ownedRedis struct {
	*redisstore.Store
	client *goredis.Client
}

func (o *ownedRedis) Close() error { return o.client.Close() }
