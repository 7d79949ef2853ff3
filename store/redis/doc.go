// Package redis is a Redis broker. Each job is a Hash; per-queue Sorted
// Sets index waiting jobs by priority then RunAt, delayed jobs by RunAt,
// and finished jobs by finish time. Claiming and promotion run as Lua
// scripts so concurrent processes never claim the same job twice.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
