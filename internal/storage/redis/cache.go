// Package redis caches fixed-width pool records so readers can fetch the latest
// pool price and liquidity without loading the full state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"liquidityEngine/internal/pool"
)

const keyPrefix = "liquidity-engine:pool:"

// Client is the subset of redis commands the cache uses. *redis.Client and
// *redis.ClusterClient satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Dial connects to a standalone redis and checks it answers.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return c, nil
}

// Cache stores pool records keyed by pool id.
type Cache struct {
	client Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCache(client Client, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) PutPool(ctx context.Context, p pool.Pool) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key(p.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache pool %s: %w", p.ID.Hex(), err)
	}
	return nil
}

// GetPool returns the cached record, or false when none is cached.
func (c *Cache) GetPool(ctx context.Context, id common.Hash) (pool.Pool, bool, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return pool.Pool{}, false, nil
	}
	if err != nil {
		return pool.Pool{}, false, fmt.Errorf("read cached pool %s: %w", id.Hex(), err)
	}
	var p pool.Pool
	if err := p.UnmarshalBinary(data); err != nil {
		// A record from an older layout is dropped rather than served.
		c.logger.Warn("drop undecodable cached pool", zap.String("pool", id.Hex()), zap.Error(err))
		if derr := c.client.Del(ctx, key(id)).Err(); derr != nil {
			c.logger.Warn("delete cached pool", zap.String("pool", id.Hex()), zap.Error(derr))
		}
		return pool.Pool{}, false, nil
	}
	return p, true, nil
}

func (c *Cache) Invalidate(ctx context.Context, id common.Hash) error {
	return c.client.Del(ctx, key(id)).Err()
}

func key(id common.Hash) string {
	return keyPrefix + id.Hex()
}
