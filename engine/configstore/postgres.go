package configstore

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/answergrid/answergrid/engine/core"
)

// PostgresStore persists configuration entries in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and applies embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := runEmbeddedMigrations(ctx, db); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetActive(ctx context.Context, name, environment string) (*Entry, error) {
	query, args, err := squirrel.Select("id", "name", "environment", "version", "content", "active", "created_at", "updated_at").
		From("config_entries").
		Where(squirrel.Eq{"name": name, "environment": environment, "active": true}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var entry Entry
	if err := pgxscan.Get(ctx, s.pool, &entry, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning config entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresStore) CreateVersion(ctx context.Context, name, environment, content string) (*Entry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The unique index on (name, environment, version) turns a concurrent
	// create race into an insert error instead of a duplicate version.
	var next int
	row := tx.QueryRow(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM config_entries WHERE name = $1 AND environment = $2",
		name, environment)
	if err := row.Scan(&next); err != nil {
		return nil, fmt.Errorf("computing next version: %w", err)
	}

	entry := &Entry{
		ID:          core.NewID(),
		Name:        name,
		Environment: environment,
		Version:     next,
		Content:     content,
	}
	query, args, err := squirrel.Insert("config_entries").
		Columns("id", "name", "environment", "version", "content", "active").
		Values(entry.ID, entry.Name, entry.Environment, entry.Version, entry.Content, false).
		Suffix("RETURNING created_at, updated_at").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert query: %w", err)
	}
	if err := tx.QueryRow(ctx, query, args...).Scan(&entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, fmt.Errorf("inserting config entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return entry, nil
}

// Activate swaps the active flag transactionally so readers never observe a
// scope with zero or two active versions.
func (s *PostgresStore) Activate(ctx context.Context, name, environment string, version int) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	deactivate, args, err := squirrel.Update("config_entries").
		Set("active", false).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"name": name, "environment": environment, "active": true}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building deactivate query: %w", err)
	}
	if _, err := tx.Exec(ctx, deactivate, args...); err != nil {
		return fmt.Errorf("deactivating previous version: %w", err)
	}

	activate, args, err := squirrel.Update("config_entries").
		Set("active", true).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{"name": name, "environment": environment, "version": version}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building activate query: %w", err)
	}
	tag, err := tx.Exec(ctx, activate, args...)
	if err != nil {
		return fmt.Errorf("activating version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ListVersions(ctx context.Context, name, environment string) ([]*Entry, error) {
	query, args, err := squirrel.Select("id", "name", "environment", "version", "content", "active", "created_at", "updated_at").
		From("config_entries").
		Where(squirrel.Eq{"name": name, "environment": environment}).
		OrderBy("version DESC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	var entries []*Entry
	if err := pgxscan.Select(ctx, s.pool, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("scanning config entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
