// Package postgres opens the gorm key-value store over PostgreSQL.
package postgres

import (
	"fmt"

	"github.com/trailmark/markers/internal/config"
	"github.com/trailmark/markers/internal/database"
	gormstorage "github.com/trailmark/markers/internal/storage/gorm"
)

// New connects to Postgres and migrates the key-value table.
func New(cfg config.PostgresConfig) (*gormstorage.Store, error) {
	db, err := database.GetPostgresDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres DB: %w", err)
	}
	return gormstorage.New(db)
}
