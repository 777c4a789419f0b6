// Package cache memoizes backend query results for the console.
package cache

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// QueryCache is a keyed, TTL-bounded cache of fetched data. A zero TTL keeps entries until invalidated.
type QueryCache struct {
	items *ttlcache.Cache[string, interface{}]
}

func New(ttl time.Duration) *QueryCache {
	opts := []ttlcache.Option[string, interface{}]{ttlcache.WithDisableTouchOnHit[string, interface{}]()}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, interface{}](ttl))
	}
	return &QueryCache{items: ttlcache.New[string, interface{}](opts...)}
}

func (c *QueryCache) Get(key string) (interface{}, bool) {
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false
	}
	return item.Value(), true
}

func (c *QueryCache) Set(key string, value interface{}) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

// Invalidate drops key and every key nested under it ("profile" also drops "profile/...").
func (c *QueryCache) Invalidate(key string) {
	for _, k := range c.items.Keys() {
		if k == key || strings.HasPrefix(k, key+"/") {
			c.items.Delete(k)
		}
	}
}

// Clear drops everything.
func (c *QueryCache) Clear() {
	c.items.DeleteAll()
}

// Len counts live entries.
func (c *QueryCache) Len() int {
	c.items.DeleteExpired()
	return c.items.Len()
}
