package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "ratelimit:"

// incrementScript returns {count, pttl}. The expiry is set on the first hit
// of a window, and repaired if a key somehow lost its TTL.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore keeps counters in Redis so every instance shares one budget.
type RedisStore struct {
	client redis.Scripter
	now    func() time.Time
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// NewRedisClient creates a Redis client and pings it.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ratelimit/redis: ping: %w", err)
	}

	return client, nil
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{redisKeyPrefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("ratelimit/redis: %w", err)
	}
	if len(res) != 2 {
		return Window{}, fmt.Errorf("ratelimit/redis: unexpected reply length %d", len(res))
	}

	return Window{
		Count:   int(res[0]),
		ResetAt: s.now().Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

var _ Store = (*RedisStore)(nil)
