package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes one token atomically.
// KEYS[1] bucket hash; ARGV capacity, refill rate (tokens/s), now (ms), ttl (s).
// Returns {allowed, tokens-as-string}; tokens are fractional so they travel as strings.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens = capacity
local last = now
local state = redis.call('HMGET', key, 'tokens', 'last')
if state[1] then
  tokens = tonumber(state[1])
  last = tonumber(state[2])
end

local elapsed = math.max(0, now - last) / 1000
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last', tostring(now))
redis.call('EXPIRE', key, ttl)
return {allowed, tostring(tokens)}
`)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces bucket keys (default "walletchat:ratelimit:").
	Prefix string
	// DialTimeout bounds connection setup and the startup ping (default 2s).
	DialTimeout time.Duration
}

// RedisStore implements a distributed rate limit store using Redis, so that
// several replicas share one bucket per client.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, errors.New("ratelimit: redis address required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "walletchat:ratelimit:"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit: redis ping %s: %w", opts.Addr, err)
	}
	return &RedisStore{client: client, prefix: opts.Prefix, now: time.Now}, nil
}

// Allow consumes a token for key if available.
func (s *RedisStore) Allow(ctx context.Context, key string, capacity, refillRate float64) (bool, float64, error) {
	ttl := bucketTTL(capacity, refillRate)
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key},
		capacity, refillRate, s.now().UnixMilli(), int(ttl.Seconds())).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: redis eval: %w", err)
	}
	return parseScriptResult(res)
}

// Ping reports whether Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// bucketTTL is how long an idle bucket needs to refill completely, plus a minute.
func bucketTTL(capacity, refillRate float64) time.Duration {
	if refillRate <= 0 {
		return time.Hour
	}
	return time.Duration(capacity/refillRate*float64(time.Second)) + time.Minute
}

func parseScriptResult(res []interface{}) (bool, float64, error) {
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	allowed, ok := res[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("ratelimit: unexpected allowed value %T", res[0])
	}
	tokensStr, ok := res[1].(string)
	if !ok {
		return false, 0, fmt.Errorf("ratelimit: unexpected tokens value %T", res[1])
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: parse tokens: %w", err)
	}
	return allowed == 1, tokens, nil
}
