// Package store persists onboarding sessions and the production model.
// Every write happens inside Store.InTx so multi-table operations are atomic
// on both backends.
package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

// Store is the transactional persistence layer.
type Store interface {
	// InTx runs fn in one transaction. fn's error rolls everything back.
	InTx(ctx context.Context, fn func(tx *Tx) error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// scannable is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

type rowIter interface {
	scannable
	Next() bool
	Err() error
	Close()
}

// querier hides the driver behind a transaction. SQL is written once with
// $N placeholders; the sqlite querier rebinds them.
type querier interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rowIter, error)
	queryRow(ctx context.Context, query string, args ...any) scannable
}

// dialect carries the statements that differ between backends.
type dialect interface {
	name() string
	lockSession(ctx context.Context, sessionID string) error
	lockEntity(ctx context.Context, entityID int64) error
	insertQueueItems(ctx context.Context, items []model.QueueItem) error
}

// Tx is an open transaction with the repository methods on it.
type Tx struct {
	q  querier
	d  dialect
	at time.Time
}

// Now is the transaction timestamp, fixed when the transaction began.
func (tx *Tx) Now() time.Time { return tx.at }

// Dialect names the backend ("postgres" or "sqlite").
func (tx *Tx) Dialect() string { return tx.d.name() }

// LockSession serializes commits of the same session across processes.
func (tx *Tx) LockSession(ctx context.Context, sessionID string) error {
	return tx.d.lockSession(ctx, sessionID)
}

// LockEntity serializes read-modify-write of an entity's engagement state.
func (tx *Tx) LockEntity(ctx context.Context, entityID int64) error {
	return tx.d.lockEntity(ctx, entityID)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

func checkAffected(n int64, what string, id any) error {
	if n == 0 {
		return eris.Errorf("store: %s %v not found", what, id)
	}
	return nil
}

// --- database/sql adapter (sqlite) ---

var placeholderRe = regexp.MustCompile(`\$(\d+)`)

// rebind converts $N placeholders to SQLite's ?N form.
func rebind(query string) string {
	return placeholderRe.ReplaceAllString(query, "?$1")
}

type sqlQuerier struct {
	tx *sql.Tx
}

func (q sqlQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := q.tx.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q sqlQuerier) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	rows, err := q.tx.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (q sqlQuerier) queryRow(ctx context.Context, query string, args ...any) scannable {
	return q.tx.QueryRowContext(ctx, rebind(query), args...)
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() { _ = r.Rows.Close() }

// --- pgx adapter (postgres) ---

type pgxQuerier struct {
	tx pgx.Tx
}

func (q pgxQuerier) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := q.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q pgxQuerier) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	return q.tx.Query(ctx, query, args...)
}

func (q pgxQuerier) queryRow(ctx context.Context, query string, args ...any) scannable {
	return q.tx.QueryRow(ctx, query, args...)
}

// collect drains rows through scan.
func collect[T any](rows rowIter, scan func(scannable) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
