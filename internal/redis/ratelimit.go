package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // requests allowed per window
	Window time.Duration // length of the fixed window
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// fixedWindowScript counts ARGV[1] units against KEYS[1]. The window starts
// on the first hit; rejected units are taken back out so they do not extend
// an operator's lockout. Returns {allowed, used, ttl_ms}.
var fixedWindowScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local used = redis.call('INCRBY', KEYS[1], n)
if used == n then
  redis.call('PEXPIRE', KEYS[1], window)
end

local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end

if used > limit then
  redis.call('DECRBY', KEYS[1], n)
  return {0, used - n, ttl}
end
return {1, used, ttl}
`)

// RateLimiter is a fixed-window counter per key. Admin broadcast endpoints
// are low volume, so the burst allowed at a window edge is acceptable.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow checks if one request is allowed under the rate limit.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN checks if n requests are allowed. Rejected requests are not counted
// against the window.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	vals, err := fixedWindowScript.Run(ctx, r.client.rdb, []string{r.client.key("ratelimit", key)},
		n, r.config.Window.Milliseconds(), r.config.Limit).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit script failed: %w", err)
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("unexpected rate limit reply %v", vals)
	}

	allowed, used, ttl := vals[0] == 1, int(vals[1]), time.Duration(vals[2])*time.Millisecond

	result := &RateLimitResult{
		Allowed:   allowed,
		Limit:     r.config.Limit,
		Remaining: max(0, r.config.Limit-used),
		ResetAt:   time.Now().Add(ttl),
	}

	if !allowed {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("used", used),
			zap.Int("limit", r.config.Limit),
		)
	}

	return result, nil
}
