// Package redis caches tenants in a shared Redis so several service
// instances see the same entries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"filevault/pkg/domain"
)

const keyPrefix = "filevault:tenant:"

// Config holds connection settings.
type Config struct {
	Addr     string
	DB       int
	Password string
	TTL      time.Duration
}

// Cache stores tenants as JSON under filevault:tenant:<code>.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a client for cfg. It does not dial until first use.
func New(cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &Cache{rdb: rdb, ttl: cfg.TTL, logger: logger.With("component", "tenant_cache")}
}

// Ping checks connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (c *Cache) Close() error { return c.rdb.Close() }

func (c *Cache) Get(ctx context.Context, code string) (domain.Tenant, bool, error) {
	b, err := c.rdb.Get(ctx, key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Tenant{}, false, nil
	}
	if err != nil {
		return domain.Tenant{}, false, fmt.Errorf("redis get %s: %w", code, err)
	}
	var t domain.Tenant
	if err := json.Unmarshal(b, &t); err != nil {
		// a stale or foreign payload is treated as a miss and dropped
		c.logger.WarnContext(ctx, "discarding undecodable tenant entry", slog.String("code", code), slog.Any("error", err))
		_ = c.rdb.Del(ctx, key(code)).Err()
		return domain.Tenant{}, false, nil
	}
	return t, true, nil
}

func (c *Cache) Set(ctx context.Context, t domain.Tenant) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tenant: %w", err)
	}
	if err := c.rdb.Set(ctx, key(t.Code), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", t.Code, err)
	}
	return nil
}

func (c *Cache) Invalidate(ctx context.Context, code string) error {
	if err := c.rdb.Del(ctx, key(code)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", code, err)
	}
	return nil
}

func key(code string) string { return keyPrefix + code }
