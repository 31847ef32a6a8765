package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

func NewDatabase(ctx context.Context, databaseType, connectionString string, location *time.Location) (database DatabaseService, err error) {
	if location == nil {
		location = time.Local
	}

	switch databaseType {
	case "sqlite":
		database, err = NewSQLiteDatabase(connectionString, location)
		if err != nil {
			return nil, err
		}
	case "redis":
		database, err = NewRedisDatabase(connectionString, location)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}

	// Ensure database schema exists (idempotent), important for in-memory SQLite
	slog.Info("initializing database schema", "type", databaseType)
	if err = database.CreateDatabase(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
