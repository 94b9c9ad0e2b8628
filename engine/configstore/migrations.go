package configstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	migrationOnce sync.Once
	migrationErr  error
)

// runEmbeddedMigrations applies the embedded SQL migrations once per process.
// A Postgres advisory lock keeps concurrent instances from racing.
func runEmbeddedMigrations(ctx context.Context, db *sql.DB) error {
	migrationOnce.Do(func() {
		const lockID = 7312

		if _, err := db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", lockID); err != nil {
			migrationErr = fmt.Errorf("failed to acquire migration lock: %w", err)
			return
		}
		defer db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", lockID) //nolint:errcheck

		migrationErr = applyMigrations(db)
	})
	return migrationErr
}

func applyMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}
