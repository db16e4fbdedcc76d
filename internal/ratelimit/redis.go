package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript counts a request and opens the window on the first hit. It
// returns the count and the milliseconds left in the window so every instance
// reports the same reset time.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisLimiter shares request windows across instances through Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter whose keys live under prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow consumes one request from key's shared window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	if limit <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	if window <= 0 {
		window = time.Second
	}
	reply, errEval := windowScript.Run(ctx, l.client, []string{l.redisKey(key, window)}, window.Milliseconds()).Int64Slice()
	if errEval != nil {
		return Result{}, fmt.Errorf("rate limit redis: %w", errEval)
	}
	return windowResult(reply, limit, now)
}

// redisKey scopes key by prefix and window length so a changed window starts
// fresh counters.
func (l *RedisLimiter) redisKey(key string, window time.Duration) string {
	suffix := fmt.Sprintf("%s:w%d", key, window.Milliseconds())
	if l.prefix == "" {
		return suffix
	}
	return l.prefix + ":" + suffix
}

// windowResult converts a {count, ttl} script reply into a Result.
func windowResult(reply []int64, limit int, now time.Time) (Result, error) {
	if len(reply) != 2 {
		return Result{}, fmt.Errorf("rate limit redis: unexpected reply %v", reply)
	}
	count, ttl := reply[0], reply[1]
	reset := now.Add(time.Duration(ttl) * time.Millisecond).UTC()
	if count > int64(limit) {
		return Result{Allowed: false, Reset: reset}, nil
	}
	return Result{Allowed: true, Remaining: limit - int(count), Reset: reset}, nil
}
