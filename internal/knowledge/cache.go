// Package knowledge caches schema snapshots per connection for the lifetime
// of the process.
package knowledge

import (
	"context"
	"sync"

	"dbvybe-backend/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Cache maps connection ids to immutable schema snapshots. It never
// synthesizes a snapshot on a miss; callers decide whether to extract.
type Cache struct {
	mu      sync.RWMutex
	schemas map[string]*domain.Schema
	group   singleflight.Group
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{schemas: make(map[string]*domain.Schema)}
}

// Put stores the snapshot for a connection, replacing any previous one.
func (c *Cache) Put(connectionID string, schema *domain.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[connectionID] = schema
}

// Get returns the current snapshot, if any.
func (c *Cache) Get(connectionID string) (*domain.Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[connectionID]
	return s, ok
}

// Drop removes the snapshot for a connection.
func (c *Cache) Drop(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schemas, connectionID)
}

// Len reports the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schemas)
}

// Refresh runs extract and stores its result. Concurrent refreshes for the
// same connection are coalesced: only one extraction runs and every caller
// observes its outcome.
func (c *Cache) Refresh(ctx context.Context, connectionID string, extract func(context.Context) (*domain.Schema, error)) (*domain.Schema, error) {
	v, err, _ := c.group.Do(connectionID, func() (any, error) {
		schema, err := extract(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(connectionID, schema)
		return schema, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Schema), nil
}
