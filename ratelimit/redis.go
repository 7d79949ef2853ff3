package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hirelane/taskcore/id"
)

// allowScript trims the window, then admits the start if there is room.
// Scores are unix microseconds.
//
// KEYS[1] window zset; ARGV: now, window, max, member.
// Returns {1, now} when admitted, {0, oldest+window} otherwise.
var allowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local n = redis.call('ZCARD', key)
if n < max then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, math.ceil(window / 1000))
  return {1, now}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {0, tonumber(oldest[2]) + window}
`)

// refundScript removes one start recorded at ARGV[1].
var refundScript = redis.NewScript(`
local hit = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1], 'LIMIT', 0, 1)
if #hit > 0 then
  redis.call('ZREM', KEYS[1], hit[1])
end
return #hit
`)

// Redis is a sliding-window log shared by every process using the same
// Redis and prefix.
type Redis struct {
	client redis.UniversalClient
	prefix string
	limit  Limit
}

var _ Limiter = (*Redis)(nil)

// NewRedis creates a Redis-backed limiter. Keys are "<prefix>:<key>".
func NewRedis(client redis.UniversalClient, prefix string, limit Limit) *Redis {
	if prefix == "" {
		prefix = "taskcore:rate"
	}
	return &Redis{client: client, prefix: prefix, limit: limit}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string, now time.Time) (bool, time.Time, error) {
	if !r.limit.Enabled() {
		return true, now, nil
	}
	member := strconv.FormatInt(now.UnixMicro(), 10) + ":" + id.NewJobID().String()
	res, err := allowScript.Run(ctx, r.client,
		[]string{r.prefix + ":" + key},
		now.UnixMicro(), r.limit.Window.Microseconds(), r.limit.Max, member,
	).Int64Slice()
	if err != nil {
		return false, now, fmt.Errorf("taskcore/ratelimit: allow %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, now, fmt.Errorf("taskcore/ratelimit: allow %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, time.UnixMicro(res[1]), nil
}

// Refund implements Limiter.
func (r *Redis) Refund(ctx context.Context, key string, at time.Time) error {
	if !r.limit.Enabled() {
		return nil
	}
	err := refundScript.Run(ctx, r.client, []string{r.prefix + ":" + key}, at.UnixMicro()).Err()
	if err != nil {
		return fmt.Errorf("taskcore/ratelimit: refund %s: %w", key, err)
	}
	return nil
}
