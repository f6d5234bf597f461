package store

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/db"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

const migrationLockID = 4217001

const migrationTableSQL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL
)`

// migrationFiles lists the embedded migrations for a dialect in order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

type migrationTarget interface {
	execScript(ctx context.Context, script string) error
	applied(ctx context.Context) (map[string]bool, error)
	record(ctx context.Context, name string) error
}

func runMigrations(ctx context.Context, t migrationTarget, dir string) error {
	log := zap.L().With(zap.String("component", "store.migrate"), zap.String("dir", dir))

	if err := t.execScript(ctx, migrationTableSQL); err != nil {
		return eris.Wrap(err, "store: ensure migration table")
	}
	names, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	done, err := t.applied(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		if done[name] {
			continue
		}
		data, err := migrationFS.ReadFile(dir + "/" + name)
		if err != nil {
			return eris.Wrapf(err, "store: read migration %s", name)
		}
		log.Info("applying migration", zap.String("file", name))
		if err := t.execScript(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", name)
		}
		if err := t.record(ctx, name); err != nil {
			return eris.Wrapf(err, "store: record migration %s", name)
		}
	}
	return nil
}

// --- postgres ---

type pgMigrations struct {
	pool db.Pool
}

func (m pgMigrations) execScript(ctx context.Context, script string) error {
	_, err := m.pool.Exec(ctx, script)
	return err
}

func (m pgMigrations) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "store: query applied migrations")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "store: scan migration row")
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (m pgMigrations) record(ctx context.Context, name string) error {
	_, err := m.pool.Exec(ctx, "INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, $2)", name, time.Now().UTC())
	return err
}

func migratePostgres(ctx context.Context, pool db.Pool) error {
	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			zap.L().Warn("postgres: release migration lock", zap.Error(err))
		}
	}()
	return runMigrations(ctx, pgMigrations{pool: pool}, "migrations/postgres")
}

// --- sqlite ---

type sqliteMigrations struct {
	db *sql.DB
}

func (m sqliteMigrations) execScript(ctx context.Context, script string) error {
	_, err := m.db.ExecContext(ctx, script)
	return err
}

func (m sqliteMigrations) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "store: query applied migrations")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "store: scan migration row")
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (m sqliteMigrations) record(ctx context.Context, name string) error {
	_, err := m.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)", name, time.Now().UTC())
	return err
}

func migrateSQLite(ctx context.Context, sdb *sql.DB) error {
	return runMigrations(ctx, sqliteMigrations{db: sdb}, "migrations/sqlite")
}
