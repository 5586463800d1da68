// Package sqlitestorage opens the gorm key-value store over SQLite.
package sqlitestorage

import (
	"fmt"

	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/database"
	gormstorage "github.com/trailmark/markers/internal/storage/gorm"
)

// New opens (or creates) the SQLite file at cfg.Path. An empty path uses an
// in-memory database that is lost on exit.
func New(cfg config.SQLiteConfig) (*gormstorage.Store, error) {
	db, err := database.GetSqliteDB(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite DB: %w", err)
	}
	return gormstorage.New(db)
}
