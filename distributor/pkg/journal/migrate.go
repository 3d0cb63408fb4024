package journal

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

// MigrateUp applies all pending journal migrations.
func MigrateUp(log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("running journal migrations (up)")
		if err := goose.Up(db, "migrations"); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("journal migrations completed")
		return nil
	})
}

// MigrateDown rolls back the most recent journal migration.
func MigrateDown(log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("rolling back journal migration (down)")
		if err := goose.Down(db, "migrations"); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
		log.Info("journal migration rollback completed")
		return nil
	})
}

// MigrateStatus prints the status of all journal migrations.
func MigrateStatus(log *slog.Logger, connStr string) error {
	return withGoose(connStr, func(db *sql.DB) error {
		log.Info("journal migration status")
		if err := goose.Status(db, "migrations"); err != nil {
			return fmt.Errorf("failed to get migration status: %w", err)
		}
		return nil
	})
}

func withGoose(connStr string, fn func(db *sql.DB) error) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}
