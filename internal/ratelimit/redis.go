package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript appends a member encoding its token count at the
// current score, evicts every member older than the window, and returns the
// sum of surviving members' token counts — all atomically, so concurrent
// callers against the same key never observe a half-evicted window.
//
// KEYS[1] = sorted set key
// ARGV[1] = now, in epoch milliseconds
// ARGV[2] = window length, in milliseconds
// ARGV[3] = tokens to record (0 for a pure fetch, which adds nothing)
// ARGV[4] = random suffix disambiguating same-millisecond members
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local tokens = tonumber(ARGV[3])
local suffix = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if tokens > 0 then
	redis.call('ZADD', key, now, tokens .. ':' .. suffix)
end
redis.call('PEXPIRE', key, window)

local entries = redis.call('ZRANGE', key, 0, -1)
local sum = 0
for _, member in ipairs(entries) do
	local amount = tonumber(string.match(member, '^(%d+):'))
	if amount then
		sum = sum + amount
	end
end
return sum
`)

// RedisLimiter is the production sliding-window backend: a Redis sorted
// set per (resource, subject), score = epoch-ms, member = "<tokens>:<random
// suffix>". Eviction, append, and sum all happen inside one EVAL so the
// three steps never interleave with another client's call against the
// same key.
type RedisLimiter struct {
	client redis.Cmdable
}

// NewRedisLimiter wraps an existing redis client. Callers own the client's
// lifecycle (dialing, closing).
func NewRedisLimiter(client redis.Cmdable) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Fetch(ctx context.Context, resource, subject string, window time.Duration) (uint64, error) {
	return l.slide(ctx, resource, subject, 0, window)
}

func (l *RedisLimiter) Record(ctx context.Context, resource, subject string, tokens uint64, window time.Duration) (uint64, error) {
	return l.slide(ctx, resource, subject, tokens, window)
}

func (l *RedisLimiter) slide(ctx context.Context, resource, subject string, tokens uint64, window time.Duration) (uint64, error) {
	suffix, err := randomSuffix()
	if err != nil {
		return 0, fmt.Errorf("generating rate limiter member suffix: %w", err)
	}

	key := windowKey(resource, subject)
	now := time.Now().UnixMilli()
	windowMs := window.Milliseconds()

	result, err := slidingWindowScript.Run(ctx, l.client, []string{key}, now, windowMs, tokens, suffix).Result()
	if err != nil {
		return 0, fmt.Errorf("evaluating sliding window script for %s: %w", key, err)
	}

	sum, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected sliding window script result type %T", result)
	}
	return uint64(sum), nil
}

func windowKey(resource, subject string) string {
	return "ratelimit:" + resource + ":" + subject
}

func randomSuffix() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
