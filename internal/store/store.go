// Package store holds the persistence adapters for the circle collection.
package store

import (
	"context"
	"fmt"
	"io"

	"github.com/stellarlinkco/circlebot/internal/config"
	"github.com/stellarlinkco/circlebot/internal/directory"
)

// Store is a directory.Store that owns a connection.
type Store interface {
	directory.Store
	io.Closer
}

// Open returns the adapter selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.Path)
	case "mongo":
		return NewMongo(ctx, cfg.URI, cfg.Database, cfg.Collection)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
