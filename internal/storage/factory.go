package storage

import (
	"fmt"

	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/storage/file"
	"github.com/trailmark/markers/internal/storage/memory"
	"github.com/trailmark/markers/internal/storage/postgres"
	sqlitestorage "github.com/trailmark/markers/internal/storage/sqlite"
)

// NewStore creates a storage backend based on configuration
func NewStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "postgres":
		s, err := postgres.New(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := sqlitestorage.New(cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "file":
		s, err := file.New(cfg.File)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// NewRepository creates the configured store wrapped in a MarkerRepository.
func NewRepository(cfg config.StorageConfig) (*MarkerRepository, error) {
	s, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	return NewMarkerRepository(s), nil
}
