package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
}

type RedisClient struct {
	Client *redis.Client
	locker *redislock.Client
}

func NewRedisClient(cfg *Config) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisClient{
		Client: rdb,
		locker: redislock.New(rdb),
	}, nil
}

// Locker exposes the distributed lock client built on the same connection.
func (c *RedisClient) Locker() *redislock.Client {
	return c.locker
}

func (c *RedisClient) GetJSON(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.Client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisClient) SetJSON(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.Client.Set(ctx, key, data, ttl).Err()
}

func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.Client.Del(ctx, keys...).Err()
}

// Generation reads a counter kept under key; a missing key reads as 0.
func (c *RedisClient) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.Client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

// Bump increments the counter under key so entries cached against the old
// generation are no longer read.
func (c *RedisClient) Bump(ctx context.Context, key string) (int64, error) {
	return c.Client.Incr(ctx, key).Result()
}

func (c *RedisClient) Close() error {
	return c.Client.Close()
}
