package alert

import (
	"sync"
	"time"
)

// CooldownStore tracks when an alert last fired per (category,
// operation) key. Injected so tests can seed state; the in-memory map
// is the production implementation, state is session-scoped.
type CooldownStore interface {
	LastFired(key string) (time.Time, bool)
	MarkFired(key string, at time.Time)
}

type MemoryCooldowns struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{m: make(map[string]time.Time)}
}

func (c *MemoryCooldowns) LastFired(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.m[key]
	return at, ok
}

func (c *MemoryCooldowns) MarkFired(key string, at time.Time) {
	c.mu.Lock()
	c.m[key] = at
	c.mu.Unlock()
}
