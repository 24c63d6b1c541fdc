package service

import (
	"sync"
	"time"
)

// ModelsCache holds the provider's model list for ttl.
type ModelsCache struct {
	mu       sync.RWMutex
	models   []string
	cachedAt time.Time
	ttl      time.Duration
	now      func() time.Time
}

func NewModelsCache(ttl time.Duration) *ModelsCache {
	return &ModelsCache{ttl: ttl, now: time.Now}
}

func (c *ModelsCache) Get() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.models == nil || c.now().Sub(c.cachedAt) > c.ttl {
		return nil
	}
	return c.models
}

func (c *ModelsCache) Set(models []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.models = models
	c.cachedAt = c.now()
}
