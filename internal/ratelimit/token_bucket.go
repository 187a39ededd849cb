// Package ratelimit provides a Redis-backed token bucket used to throttle
// job creation per client.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucket is a distributed token bucket. State lives in a Redis hash per
// key so every API replica shares the same budget.
type TokenBucket struct {
	client       *redis.Client
	capacity     int
	refillPerSec float64
	ttl          time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity and refill rate.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSec float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:       client,
		capacity:     capacity,
		refillPerSec: refillPerSec,
		ttl:          ttl,
	}
}

// Allow consumes one token for key if available. It returns the allowed flag
// and the remaining token count.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{key}, b.capacity, b.refillPerSec, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("run bucket script: %w", err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("unexpected bucket script result %T", res)
	}
	allowed := arr[0].(int64) == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed, tokens, nil
}

// The script refills lazily based on elapsed wall time, then attempts to take
// a single token. Refill math runs on the caller's clock, not Redis time.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
tokens = math.min(capacity, tokens + delta / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
