package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/3B132016/tws/internal/model"
)

// RedisConfig holds the connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
	TTL      time.Duration
}

// RedisOption configures the RedisCache.
type RedisOption func(*RedisConfig)

func WithAddr(addr string) RedisOption { return func(c *RedisConfig) { c.Addr = addr } }
func WithPassword(pw string) RedisOption { return func(c *RedisConfig) { c.Password = pw } }
func WithDB(db int) RedisOption { return func(c *RedisConfig) { c.DB = db } }
func WithTTL(ttl time.Duration) RedisOption { return func(c *RedisConfig) { c.TTL = ttl } }
func WithPrefix(prefix string) RedisOption { return func(c *RedisConfig) { c.Prefix = prefix } }

// RedisCache implements ResultCache using Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// cachedResult stores infinite scores as null, which JSON cannot encode.
type cachedResult struct {
	model.OptimizationResult
	BestScore *float64 `json:"best_score"`
}

// NewRedisCache connects and pings the server.
func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	cfg := &RedisConfig{
		Addr:     "localhost:6379",
		PoolSize: 10,
		Prefix:   "tws",
		TTL:      24 * time.Hour,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisCache{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (c *RedisCache) wrapKey(key string) string {
	return c.prefix + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, key string) (*model.OptimizationResult, error) {
	data, err := c.client.Get(ctx, c.wrapKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return decodeResult(data)
}

func (c *RedisCache) Set(ctx context.Context, key string, result *model.OptimizationResult) error {
	data, err := encodeResult(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.wrapKey(key), data, c.ttl).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func encodeResult(r *model.OptimizationResult) ([]byte, error) {
	cr := cachedResult{OptimizationResult: *r}
	if !math.IsInf(r.BestScore, 0) && !math.IsNaN(r.BestScore) {
		s := r.BestScore
		cr.BestScore = &s
	}
	return json.Marshal(cr)
}

func decodeResult(data []byte) (*model.OptimizationResult, error) {
	var cr cachedResult
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	res := cr.OptimizationResult
	if cr.BestScore != nil {
		res.BestScore = *cr.BestScore
	} else {
		res.BestScore = model.WorstScore(res.ScoreIsLowerBetter)
	}
	return &res, nil
}
