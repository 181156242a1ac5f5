package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments a counter and sets its expiry only when the key was
// just created, so a fixed window keeps the deadline of its first hit.
// Returns {count, pttl}.
var incrScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	local ttl = tonumber(ARGV[1])
	if count == 1 and ttl > 0 then
		redis.call('PEXPIRE', KEYS[1], ttl)
	end
	return {count, redis.call('PTTL', KEYS[1])}
`)

// decrScript decrements a counter and deletes it once it reaches zero.
var decrScript = redis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 0 then
		return 0
	end
	local count = redis.call('DECR', KEYS[1])
	if count <= 0 then
		redis.call('DEL', KEYS[1])
		return 0
	end
	return count
`)

// RedisStore implements Store on Redis.
// Use it when several gateway instances must share rate-limit windows,
// idempotency claims, concurrency slots and circuit state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	Password string
	DB       int

	// KeyPrefix namespaces every key written by the store.
	// Default: "conclave:"
	KeyPrefix string

	// DialTimeout bounds connection establishment.
	// Default: 5 seconds
	DialTimeout time.Duration

	// ReadTimeout and WriteTimeout bound individual commands.
	// Default: 3 seconds
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the maximum number of pooled connections.
	// Default: 10
	PoolSize int

	// Client, when set, is used instead of dialing Addr.
	Client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "conclave:"
	}

	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis address cannot be empty")
		}
		if cfg.DialTimeout <= 0 {
			cfg.DialTimeout = 5 * time.Second
		}
		if cfg.ReadTimeout <= 0 {
			cfg.ReadTimeout = 3 * time.Second
		}
		if cfg.WriteTimeout <= 0 {
			cfg.WriteTimeout = 3 * time.Second
		}
		if cfg.PoolSize <= 0 {
			cfg.PoolSize = 10
		}
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *RedisStore) key(k string) string {
	return r.prefix + k
}

// Incr implements Store.
func (r *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	res, err := incrScript.Run(ctx, r.client, []string{r.key(key)}, ttlMillis(ttl)).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("redis incr %q: unexpected reply %v", key, res)
	}
	return res[0], pttlToDuration(res[1]), nil
}

// Decr implements Store.
func (r *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	n, err := decrScript.Run(ctx, r.client, []string{r.key(key)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis decr %q: %w", key, err)
	}
	return n, nil
}

// SetNX implements Store.
func (r *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return v, true, nil
}

// Expire implements Store.
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var err error
	if ttl <= 0 {
		err = r.client.Persist(ctx, r.key(key)).Err()
	} else {
		err = r.client.PExpire(ctx, r.key(key), ttl).Err()
	}
	if err != nil {
		return fmt.Errorf("redis expire %q: %w", key, err)
	}
	return nil
}

// TTL implements Store.
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.PTTL(ctx, r.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl %q: %w", key, err)
	}
	// go-redis reports -2 (missing) and -1 (no expiry) as raw durations.
	switch d {
	case -2:
		return 0, nil
	case -1:
		return NoExpiry, nil
	}
	return d, nil
}

// Del implements Store.
func (r *RedisStore) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Ping implements Store.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func pttlToDuration(ms int64) time.Duration {
	switch {
	case ms == -1:
		return NoExpiry
	case ms < 0:
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
