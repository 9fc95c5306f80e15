// Package directory keeps the in-process view of every circle and coordinates
// it with the persistent store.
package directory

import (
	"sort"
	"sync"

	"github.com/stellarlinkco/circlebot/internal/circle"
)

// Cache maps circle id to circle record. Any number of readers or a single
// writer hold the lock at a time; records are cloned on the way in and out.
type Cache struct {
	mu      sync.RWMutex
	circles map[string]circle.Circle
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{circles: make(map[string]circle.Circle)}
}

// Get returns a copy of the record for id.
func (c *Cache) Get(id string) (circle.Circle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.circles[id]
	if !ok {
		return circle.Circle{}, false
	}
	return rec.Clone(), true
}

// Upsert inserts or replaces the record keyed by rec.ID.
func (c *Cache) Upsert(rec circle.Circle) {
	rec = rec.Clone()
	c.mu.Lock()
	c.circles[rec.ID] = rec
	c.mu.Unlock()
}

// Remove deletes id. Absent ids are a no-op.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	delete(c.circles, id)
	c.mu.Unlock()
}

// MergeSnapshot overwrites every record in records by id and returns how many
// were merged. Entries missing from records are kept.
func (c *Cache) MergeSnapshot(records []circle.Circle) int {
	cloned := make([]circle.Circle, len(records))
	for i, rec := range records {
		cloned[i] = rec.Clone()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range cloned {
		c.circles[rec.ID] = rec
	}
	return len(cloned)
}

// List returns a point-in-time copy of all records sorted by name, then id.
func (c *Cache) List() []circle.Circle {
	c.mu.RLock()
	out := make([]circle.Circle, 0, len(c.circles))
	for _, rec := range c.circles {
		out = append(out, rec.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of cached circles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.circles)
}
