package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/whisper/support-chat/internal/dependencies/clock"
)

// KeyPrefix namespaces limiter keys in Redis.
const KeyPrefix = "rl:"

// slidingWindowScript keeps one sorted-set member per accepted call, scored
// by its timestamp in milliseconds. Members at or before now-window are
// pruned first. Returns {allowed, retryAfterMs, remaining}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, ARGV[4])
	redis.call('PEXPIRE', key, window)
	return {1, 0, limit - count - 1}
end

local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local retry = tonumber(oldest[2]) + window - now
if retry < 1 then
	retry = 1
end
return {0, retry, 0}
`)

// RedisLimiter is the authoritative sliding-window limiter backed by Redis
// sorted sets. Each check is a single atomic script invocation.
type RedisLimiter struct {
	client *redis.Client
	clock  clock.Clock
	logger *slog.Logger
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a limiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client, clk clock.Clock, logger *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		clock:  clk,
		logger: logger.With(slog.String("component", "ratelimit")),
	}
}

// Check implements Limiter. On Redis errors it fails open: the call is
// allowed and the error is returned alongside for the caller to log or
// ignore, so a Redis outage does not block legitimate traffic.
func (l *RedisLimiter) Check(ctx context.Context, key string, rule Rule) (Decision, error) {
	if rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	fullKey := KeyPrefix + Key(rule, key)
	now := l.clock.Now().UnixMilli()

	res, err := slidingWindowScript.Run(ctx, l.client, []string{fullKey},
		now, rule.Window.Milliseconds(), rule.Limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		l.logger.Warn("redis check failed, failing open",
			slog.String("key", fullKey),
			slog.Any("error", err),
		)
		return Decision{Allowed: true}, fmt.Errorf("ratelimit: check %s: %w", fullKey, err)
	}
	if len(res) != 3 {
		return Decision{Allowed: true}, fmt.Errorf("ratelimit: check %s: unexpected reply %v", fullKey, res)
	}

	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
		Remaining:  int(res[2]),
	}, nil
}
