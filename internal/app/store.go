package app

import (
	"fmt"

	"github.com/foxzi/hookdesk/internal/config"
	"github.com/foxzi/hookdesk/internal/db"
	"github.com/foxzi/hookdesk/internal/repository"
	"github.com/foxzi/hookdesk/internal/repository/memory"
)

// DriverMemory keeps every table in process memory
const DriverMemory = "memory"

// OpenStore opens the configured database and applies migrations. The
// returned close function is never nil.
func OpenStore(cfg *config.DatabaseConfig) (*repository.Store, func() error, error) {
	if cfg.Driver == DriverMemory {
		return memory.New().Store(), func() error { return nil }, nil
	}

	database, err := db.Open(db.Options{
		Driver:          cfg.Driver,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repository.NewSQLStore(database), database.Close, nil
}
