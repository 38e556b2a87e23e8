// Package lru caches tenants in process with an expiring LRU.
package lru

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"filevault/pkg/domain"
)

// DefaultSize bounds the cache when a non-positive size is given.
const DefaultSize = 1024

// Cache is a tenant cache keyed by tenant code.
type Cache struct {
	lru *expirable.LRU[string, domain.Tenant]
}

// New returns a cache holding up to size tenants for ttl each (0 disables expiry).
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	return &Cache{lru: expirable.NewLRU[string, domain.Tenant](size, nil, ttl)}
}

func (c *Cache) Get(_ context.Context, code string) (domain.Tenant, bool, error) {
	t, ok := c.lru.Get(code)
	if !ok {
		return domain.Tenant{}, false, nil
	}
	return t.Clone(), true, nil
}

func (c *Cache) Set(_ context.Context, t domain.Tenant) error {
	c.lru.Add(t.Code, t.Clone())
	return nil
}

func (c *Cache) Invalidate(_ context.Context, code string) error {
	c.lru.Remove(code)
	return nil
}

// Len reports the number of cached tenants.
func (c *Cache) Len() int { return c.lru.Len() }
