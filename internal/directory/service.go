package directory

import (
	"context"
	"log"

	"github.com/stellarlinkco/circlebot/internal/circle"
	"go.trai.ch/zerr"
)

// Store is the persistence port. Implementations report transport and query
// failures as circle.ErrUpstream and never return partial results.
type Store interface {
	ListAll(ctx context.Context) ([]circle.Circle, error)
	Insert(ctx context.Context, c circle.Circle) error
	Update(ctx context.Context, id string, patch circle.Patch) (circle.Circle, error)
	Delete(ctx context.Context, id string) error
}

// Service is the only writer of the cache from request handling code. Every
// mutation commits to the store before it touches the cache.
type Service struct {
	store Store
	cache *Cache
}

// NewService wires a store to a cache. A nil cache gets a fresh one.
func NewService(store Store, cache *Cache) *Service {
	if cache == nil {
		cache = NewCache()
	}
	return &Service{store: store, cache: cache}
}

// Cache exposes the underlying cache for read-only consumers.
func (s *Service) Cache() *Cache {
	return s.cache
}

// Recache pulls the full collection and merges it into the cache. Concurrent
// calls are allowed; each fetches and merges independently. A failed fetch
// leaves the cache unchanged.
func (s *Service) Recache(ctx context.Context) (int, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return 0, circle.Upstream(err, "recache circles")
	}
	n := s.cache.MergeSnapshot(records)
	log.Printf("[directory] recached %d circles (%d cached)", n, s.cache.Len())
	return n, nil
}

// Resolve looks id up in the cache.
func (s *Service) Resolve(id string) (circle.Circle, error) {
	c, ok := s.cache.Get(id)
	if !ok {
		return circle.Circle{}, zerr.With(zerr.Wrap(circle.ErrNotFound, "resolve circle"), "circle_id", id)
	}
	return c, nil
}

// List returns a sorted snapshot of the cache.
func (s *Service) List() []circle.Circle {
	return s.cache.List()
}

// Create persists c and then caches it.
func (s *Service) Create(ctx context.Context, c circle.Circle) error {
	if c.ID == "" {
		return zerr.Wrap(circle.ErrInvalidFormat, "circle id is empty")
	}
	if err := s.store.Insert(ctx, c); err != nil {
		return circle.Upstream(err, "insert circle")
	}
	s.cache.Upsert(c)
	log.Printf("[directory] created circle %s (%s)", c.ID, c.Name)
	return nil
}

// Update applies patch in the store and caches the record the store returns.
func (s *Service) Update(ctx context.Context, id string, patch circle.Patch) (circle.Circle, error) {
	if patch.Emoji != nil {
		if err := circle.ValidateEmoji(*patch.Emoji); err != nil {
			return circle.Circle{}, err
		}
	}
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return circle.Circle{}, circle.Upstream(err, "update circle")
	}
	s.cache.Upsert(updated)
	log.Printf("[directory] updated circle %s", id)
	return updated, nil
}

// Delete removes id from the store and then from the cache.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return circle.Upstream(err, "delete circle")
	}
	s.cache.Remove(id)
	log.Printf("[directory] deleted circle %s", id)
	return nil
}
