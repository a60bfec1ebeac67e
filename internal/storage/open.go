package storage

import (
	"fmt"

	"go.uber.org/zap"
)

// Open picks the backend named by config.Driver: "memory", "sqlite" or "postgres".
func Open(config DatabaseConfig, logger *zap.Logger) (Storage, error) {
	switch config.Driver {
	case "memory":
		logger.Info("Using in-memory storage")
		return NewMemoryStorage(), nil
	case "", "sqlite":
		logger.Info("Using SQLite storage")
		return NewSQLiteStorage(config.Path, logger)
	case "postgres":
		logger.Info("Using PostgreSQL storage")
		return NewPostgresStorage(config, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", config.Driver)
	}
}
