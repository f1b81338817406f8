package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bulk-mailer/config"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// InitDB initializes the database connection
func InitDB(ctx context.Context, dataSourceName string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

// ApplyMigrations applies database migrations from the specified path
func ApplyMigrations(databaseURL, migrationsPath string, logger *slog.Logger) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("No database migrations to apply.")
	case err != nil:
		return fmt.Errorf("failed to apply migrations: %w", err)
	default:
		logger.Info("Database migrations applied successfully.")
	}
	return nil
}

// Open connects the backend selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.StoreConfig, policy SourcePolicy, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := InitDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to PostgreSQL database")
		if err := ApplyMigrations(cfg.DatabaseURL, cfg.MigrationsPath, logger); err != nil {
			db.Close()
			return nil, err
		}
		return NewPostgresStore(db, policy), nil
	case "mongo":
		store, err := NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase, policy, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to MongoDB", slog.String("database", cfg.MongoDatabase))
		return store, nil
	case "memory":
		logger.Warn("Using in-memory store; addresses and delivery logs are lost on restart.")
		return NewMemoryStore(policy), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
