package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/db"
	"github.com/frepi/frepi-core/internal/model"
)

// PostgresStore implements Store over a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres connects to Postgres and returns a store over the pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pc := db.PoolConfig{MaxConns: 10, MinConns: 2}
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pc.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pc.MinConns = poolCfg.MinConns
		}
	}
	pool, err := db.Open(ctx, connString, pc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InTx runs fn inside a pgx transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	pgtx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer pgtx.Rollback(ctx) //nolint:errcheck

	tx := &Tx{
		q:  pgxQuerier{tx: pgtx},
		d:  pgDialect{tx: pgtx},
		at: time.Now().UTC(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit")
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies pending migrations under a session advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

type pgDialect struct {
	tx pgx.Tx
}

func (pgDialect) name() string { return "postgres" }

func (d pgDialect) lockSession(ctx context.Context, sessionID string) error {
	if _, err := d.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "session:"+sessionID); err != nil {
		return eris.Wrapf(err, "postgres: lock session %s", sessionID)
	}
	return nil
}

// lockEntity takes a row lock on the engagement profile. Entities without a
// profile are still being committed and are covered by the session lock.
func (d pgDialect) lockEntity(ctx context.Context, entityID int64) error {
	rows, err := d.tx.Query(ctx, `SELECT entity_id FROM engagement_profiles WHERE entity_id = $1 FOR UPDATE`, entityID)
	if err != nil {
		return eris.Wrapf(err, "postgres: lock entity %d", entityID)
	}
	rows.Close()
	return eris.Wrapf(rows.Err(), "postgres: lock entity %d", entityID)
}

func (d pgDialect) insertQueueItems(ctx context.Context, items []model.QueueItem) error {
	rows := make([][]any, len(items))
	for i, it := range items {
		var spend pgtype.Numeric
		if err := spend.Scan(it.TotalSpend.String()); err != nil {
			return eris.Wrapf(err, "postgres: encode spend for product %d", it.ProductID)
		}
		rows[i] = []any{it.EntityID, it.ProductID, string(it.Tier), string(it.Status), it.Position, spend, it.CreatedAt}
	}
	_, err := db.CopyFrom(ctx, d.tx, "queue_items", queueCopyColumns, rows)
	return err
}

var queueCopyColumns = []string{"entity_id", "product_id", "tier", "status", "position", "total_spend", "created_at"}
