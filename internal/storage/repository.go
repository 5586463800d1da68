package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/trailmark/markers/pkg/core"
)

// MarkerRepository stores the collection as a JSON array under MarkersKey.
type MarkerRepository struct {
	store Store
}

// NewMarkerRepository creates a repository on top of store.
func NewMarkerRepository(store Store) *MarkerRepository {
	return &MarkerRepository{store: store}
}

// Load returns the persisted collection. A missing key yields an empty
// collection; an undecodable blob yields ErrCorrupt.
func (r *MarkerRepository) Load(ctx context.Context) ([]core.Marker, error) {
	data, found, err := r.store.Get(ctx, MarkersKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read markers: %w", err)
	}
	if !found || len(data) == 0 {
		return []core.Marker{}, nil
	}

	var markers []core.Marker
	if err := json.Unmarshal(data, &markers); err != nil {
		return []core.Marker{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if markers == nil {
		markers = []core.Marker{}
	}
	return markers, nil
}

// Save replaces the persisted collection.
func (r *MarkerRepository) Save(ctx context.Context, markers []core.Marker) error {
	if markers == nil {
		markers = []core.Marker{}
	}
	data, err := json.Marshal(markers)
	if err != nil {
		return fmt.Errorf("failed to encode markers: %w", err)
	}
	if err := r.store.Put(ctx, MarkersKey, data); err != nil {
		return fmt.Errorf("failed to write markers: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (r *MarkerRepository) Close() error {
	return r.store.Close()
}
