package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/frepi/frepi-core/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is meant for a
// single process; one connection serializes all transactions.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// InTx runs fn inside a database/sql transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	stx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer stx.Rollback() //nolint:errcheck

	q := sqlQuerier{tx: stx}
	tx := &Tx{
		q:  q,
		d:  sqliteDialect{q: q},
		at: time.Now().UTC(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := stx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate applies pending migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return migrateSQLite(ctx, s.db)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteDialect needs no explicit locks: the single connection already
// serializes transactions.
type sqliteDialect struct {
	q sqlQuerier
}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) lockSession(context.Context, string) error { return nil }

func (sqliteDialect) lockEntity(context.Context, int64) error { return nil }

func (d sqliteDialect) insertQueueItems(ctx context.Context, items []model.QueueItem) error {
	for _, it := range items {
		if _, err := d.q.exec(ctx, insertQueueItemSQL,
			it.EntityID, it.ProductID, string(it.Tier), string(it.Status), it.Position, it.TotalSpend.String(), it.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert queue item for product %d", it.ProductID)
		}
	}
	return nil
}
