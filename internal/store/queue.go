package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

const insertQueueItemSQL = `INSERT INTO queue_items (entity_id, product_id, tier, status, position, total_spend, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

const queueColumns = `id, entity_id, product_id, tier, status, position, CAST(total_spend AS TEXT), asked_count, skip_count, last_asked_at, created_at`

func scanQueueItem(row scannable) (model.QueueItem, error) {
	var it model.QueueItem
	var tier, status, spend string
	if err := row.Scan(&it.ID, &it.EntityID, &it.ProductID, &tier, &status, &it.Position, &spend,
		&it.AskedCount, &it.SkipCount, &it.LastAskedAt, &it.CreatedAt); err != nil {
		return it, err
	}
	it.Tier = model.Tier(tier)
	it.Status = model.QueueStatus(status)
	d, err := parseDec(spend)
	it.TotalSpend = d
	return it, err
}

// InsertQueueItems bulk-inserts new pending items. Postgres uses COPY.
func (tx *Tx) InsertQueueItems(ctx context.Context, items []model.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	return eris.Wrap(tx.d.insertQueueItems(ctx, items), "store: insert queue items")
}

// NextQueuePosition returns the position after the entity's last queued
// item, or 0 for an empty queue.
func (tx *Tx) NextQueuePosition(ctx context.Context, entityID int64) (int, error) {
	var next int
	err := tx.q.queryRow(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM queue_items WHERE entity_id = $1`, entityID).Scan(&next)
	return next, eris.Wrapf(err, "store: next queue position %d", entityID)
}

// AskableQueueItems returns an entity's pending and asked items in insertion order.
func (tx *Tx) AskableQueueItems(ctx context.Context, entityID int64) ([]model.QueueItem, error) {
	rows, err := tx.q.query(ctx,
		`SELECT `+queueColumns+` FROM queue_items
		 WHERE entity_id = $1 AND status IN ('pending', 'asked_drip') ORDER BY position, id`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: askable queue items %d", entityID)
	}
	out, err := collect(rows, scanQueueItem)
	return out, eris.Wrap(err, "store: scan queue items")
}

// ListQueue returns every queue item for an entity.
func (tx *Tx) ListQueue(ctx context.Context, entityID int64) ([]model.QueueItem, error) {
	rows, err := tx.q.query(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE entity_id = $1 ORDER BY position, id`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list queue %d", entityID)
	}
	out, err := collect(rows, scanQueueItem)
	return out, eris.Wrap(err, "store: scan queue items")
}

// GetQueueItem returns an item or nil.
func (tx *Tx) GetQueueItem(ctx context.Context, id int64) (*model.QueueItem, error) {
	it, err := scanQueueItem(tx.q.queryRow(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get queue item %d", id)
	}
	return &it, nil
}

// MarkAsked moves an item to asked_drip and bumps its ask counter.
func (tx *Tx) MarkAsked(ctx context.Context, id int64, at time.Time) error {
	n, err := tx.q.exec(ctx,
		`UPDATE queue_items SET status = 'asked_drip', asked_count = asked_count + 1, last_asked_at = $1
		 WHERE id = $2 AND status IN ('pending', 'asked_drip')`, at, id)
	if err != nil {
		return eris.Wrapf(err, "store: mark asked %d", id)
	}
	return checkAffected(n, "askable queue item", id)
}

// ResolveQueueItem moves an askable item to answered or skipped. Skips also
// bump the per-item skip counter. It reports false when the item was no
// longer askable.
func (tx *Tx) ResolveQueueItem(ctx context.Context, id int64, status model.QueueStatus) (bool, error) {
	skip := 0
	if status == model.QueueSkipped {
		skip = 1
	}
	n, err := tx.q.exec(ctx,
		`UPDATE queue_items SET status = $1, skip_count = skip_count + $2
		 WHERE id = $3 AND status IN ('pending', 'asked_drip')`, string(status), skip, id)
	if err != nil {
		return false, eris.Wrapf(err, "store: resolve queue item %d", id)
	}
	return n == 1, nil
}
