// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rentmesh/rentmesh/internal/log"
)

// keyPrefix namespaces our entries on a shared Redis.
const keyPrefix = "rentmesh:"

// Redis is the shared backend for multi-instance deployments. Values are
// stored as JSON, so structured values come back as generic maps.
type Redis struct {
	client *redis.Client

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// RedisConfig holds the connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects and pings the server before returning.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	log.WithComponent("cache").Info().
		Str("addr", cfg.Addr).Int("db", cfg.DB).
		Msg("redis cache connected")
	return &Redis{client: client}, nil
}

func (c *Redis) Get(key string) (any, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false
	}
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("redis get failed")
		c.misses.Add(1)
		return nil, false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value, true
}

func (c *Redis) Set(key string, value any, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("cache value not serializable")
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}
	c.sets.Add(1)
}

func (c *Redis) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// Clear drops only our namespace, never the whole DB.
func (c *Redis) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			log.WithComponent("cache").Warn().Err(err).Msg("redis clear failed")
			return
		}
	}
	if err := iter.Err(); err != nil {
		log.WithComponent("cache").Warn().Err(err).Msg("redis scan failed")
	}
}

func (c *Redis) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Sets:   c.sets.Load(),
	}
}

// Ping reports backend reachability for readiness checks.
func (c *Redis) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Redis) Close() error { return c.client.Close() }
