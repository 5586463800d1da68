// Package storage persists the marker collection in a key-value slot.
package storage

import (
	"context"
	"errors"

	"github.com/trailmark/markers/pkg/core"
)

// MarkersKey is the fixed key the marker collection is stored under.
const MarkersKey = "markers"

// ErrCorrupt is returned by Repository.Load when the stored blob cannot be decoded.
var ErrCorrupt = errors.New("stored markers are corrupt")

// Store is a key-value slot holding opaque serialized blobs.
type Store interface {
	// Get returns the value stored under key. found is false when the key is absent.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Put replaces the value stored under key.
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Repository loads and saves the whole marker collection.
type Repository interface {
	Load(ctx context.Context) ([]core.Marker, error)
	Save(ctx context.Context, markers []core.Marker) error
	Close() error
}
