package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// RedisCache is the shared-cache backend used when CACHE_URL is
// configured, so multiple process instances see each other's writes.
// The teacher repo declares github.com/gomodule/redigo in go.mod without
// ever importing it; this is the first concrete consumer, giving that
// declared dependency the distributed-cache home spec.md 4.8 describes
// ("any key-value cache... if absent, an in-process LRU").
type RedisCache struct {
	pool *redis.Pool
}

// NewRedis dials addr (host:port) lazily via a connection pool.
func NewRedis(addr string) *RedisCache {
	pool := &redis.Pool{
		MaxIdle:     8,
		MaxActive:   64,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &RedisCache{pool: pool}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cache: redis connection unavailable, treating as miss")
		return nil, false
	}
	defer conn.Close()

	b, err := redis.Bytes(conn.Do("GET", key))
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("cache: redis connection: %w", err)
	}
	defer conn.Close()

	_, err = conn.Do("SET", key, value, "EX", int(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("cache: redis SET %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("cache: redis connection: %w", err)
	}
	defer conn.Close()

	_, err = conn.Do("DEL", key)
	if err != nil {
		return fmt.Errorf("cache: redis DEL %s: %w", key, err)
	}
	return nil
}

// DelPrefix uses KEYS rather than SCAN: cache key spaces here are bounded
// by module/user cardinality, not whole-database size, so the O(n) scan
// is acceptable and keeps the code simple.
func (c *RedisCache) DelPrefix(ctx context.Context, prefix string) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("cache: redis connection: %w", err)
	}
	defer conn.Close()

	keys, err := redis.Strings(conn.Do("KEYS", prefix+"*"))
	if err != nil {
		return fmt.Errorf("cache: redis KEYS %s*: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	if _, err := conn.Do("DEL", args...); err != nil {
		return fmt.Errorf("cache: redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.pool.Close()
}

var _ Cache = (*RedisCache)(nil)
