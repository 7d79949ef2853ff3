package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hirelane/taskcore/record"
)

// Watermarks track, per entity type, the newest CreatedAt that has been
// written to the index. Differential reconciliation starts after it.
type Watermarks interface {
	// Get returns the zero time when nothing was synced yet.
	Get(ctx context.Context, t record.Type) (time.Time, error)
	// Advance moves the mark forward to at; an older at is ignored.
	Advance(ctx context.Context, t record.Type, at time.Time) error
}

// ──────────────────────────────────────────────────
// Memory
// ──────────────────────────────────────────────────

// MemoryWatermarks keeps marks in process memory.
type MemoryWatermarks struct {
	mu    sync.Mutex
	marks map[record.Type]time.Time
}

var _ Watermarks = (*MemoryWatermarks)(nil)

// NewMemoryWatermarks returns empty marks.
func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{marks: make(map[record.Type]time.Time)}
}

// Get implements Watermarks.
func (m *MemoryWatermarks) Get(_ context.Context, t record.Type) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[t], nil
}

// Advance implements Watermarks.
func (m *MemoryWatermarks) Advance(_ context.Context, t record.Type, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if at.After(m.marks[t]) {
		m.marks[t] = at
	}
	return nil
}

// ──────────────────────────────────────────────────
// Redis
// ──────────────────────────────────────────────────

// advanceScript sets a hash field only when the new value is larger.
// Values are Unix microseconds, exact in Lua's doubles.
var advanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if (not cur) or tonumber(cur) < tonumber(ARGV[2]) then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
  return 1
end
return 0
`)

// RedisWatermarks keeps marks in one Redis hash, shared by every process.
type RedisWatermarks struct {
	client redis.Cmdable
	key    string
}

var _ Watermarks = (*RedisWatermarks)(nil)

// NewRedisWatermarks stores marks under prefix + "sync:watermarks".
func NewRedisWatermarks(client redis.Cmdable, prefix string) *RedisWatermarks {
	return &RedisWatermarks{client: client, key: prefix + "sync:watermarks"}
}

// Get implements Watermarks.
func (r *RedisWatermarks) Get(ctx context.Context, t record.Type) (time.Time, error) {
	v, err := r.client.HGet(ctx, r.key, string(t)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("syncer/redis: get watermark: %w", err)
	}
	us, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("syncer/redis: parse watermark %q: %w", v, err)
	}
	return time.UnixMicro(us).UTC(), nil
}

// Advance implements Watermarks.
func (r *RedisWatermarks) Advance(ctx context.Context, t record.Type, at time.Time) error {
	err := advanceScript.Run(ctx, r.client, []string{r.key}, string(t), at.UnixMicro()).Err()
	if err != nil {
		return fmt.Errorf("syncer/redis: advance watermark: %w", err)
	}
	return nil
}
