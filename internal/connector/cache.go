package connector

import (
	"fmt"
	"sync"
)

// Cache is the lazy, name-keyed connector cache sitting between the router
// and egress: entries are created lazily and never evicted, with at most
// one constructor call per name (§3, §4.14).
type Cache struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	factories  map[string]func() (Connector, error)
}

// NewCache builds a cache from the set of configured connector factories,
// keyed by connector name.
func NewCache(factories map[string]func() (Connector, error)) *Cache {
	return &Cache{
		connectors: make(map[string]Connector),
		factories:  factories,
	}
}

// Get returns the connector for name, building and caching it on first
// use.
func (c *Cache) Get(name string) (Connector, error) {
	c.mu.RLock()
	if conn, ok := c.connectors[name]; ok {
		c.mu.RUnlock()
		return conn, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.connectors[name]; ok {
		return conn, nil
	}

	factory, ok := c.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownName, name)
	}

	conn, err := factory()
	if err != nil {
		return nil, fmt.Errorf("connector cache: building %q: %w", name, err)
	}
	c.connectors[name] = conn
	return conn, nil
}
