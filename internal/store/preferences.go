package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

const preferenceColumns = `entity_id, product_id, dimension, value, source, actor, updated_at`

func scanPreferenceRow(row scannable) (model.PreferenceRow, error) {
	var r model.PreferenceRow
	var dim string
	var source int
	if err := row.Scan(&r.EntityID, &r.ProductID, &dim, &r.Value, &source, &r.Actor, &r.UpdatedAt); err != nil {
		return r, err
	}
	r.Dimension = model.Dimension(dim)
	r.Source = model.Source(source)
	return r, nil
}

// PreferenceRows returns the stored dimensions for an (entity, product) pair.
func (tx *Tx) PreferenceRows(ctx context.Context, entityID, productID int64) ([]model.PreferenceRow, error) {
	rows, err := tx.q.query(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE entity_id = $1 AND product_id = $2 ORDER BY dimension`,
		entityID, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: preferences %d/%d", entityID, productID)
	}
	out, err := collect(rows, scanPreferenceRow)
	return out, eris.Wrap(err, "store: scan preferences")
}

// EntityPreferenceRows returns every stored dimension for an entity.
func (tx *Tx) EntityPreferenceRows(ctx context.Context, entityID int64) ([]model.PreferenceRow, error) {
	rows, err := tx.q.query(ctx,
		`SELECT `+preferenceColumns+` FROM preferences WHERE entity_id = $1 ORDER BY product_id, dimension`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: preferences for entity %d", entityID)
	}
	out, err := collect(rows, scanPreferenceRow)
	return out, eris.Wrap(err, "store: scan preferences")
}

// PutPreferenceRow inserts or replaces one dimension. Priority rules are
// enforced by the caller before this is reached.
func (tx *Tx) PutPreferenceRow(ctx context.Context, r model.PreferenceRow) error {
	_, err := tx.q.exec(ctx,
		`INSERT INTO preferences (`+preferenceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (entity_id, product_id, dimension)
		 DO UPDATE SET value = EXCLUDED.value, source = EXCLUDED.source, actor = EXCLUDED.actor, updated_at = EXCLUDED.updated_at`,
		r.EntityID, r.ProductID, string(r.Dimension), r.Value, int(r.Source), r.Actor, r.UpdatedAt)
	return eris.Wrapf(err, "store: put preference %d/%d/%s", r.EntityID, r.ProductID, r.Dimension)
}

// CountConfiguredProducts counts an entity's products with at least one
// dimension held at or above min.
func (tx *Tx) CountConfiguredProducts(ctx context.Context, entityID int64, min model.Source) (int, error) {
	var n int
	err := tx.q.queryRow(ctx,
		`SELECT COUNT(DISTINCT product_id) FROM preferences WHERE entity_id = $1 AND source >= $2`,
		entityID, int(min)).Scan(&n)
	return n, eris.Wrapf(err, "store: count configured products %d", entityID)
}

// --- correction log ---

// AppendCorrection writes an audit entry. The table rejects updates and deletes.
func (tx *Tx) AppendCorrection(ctx context.Context, c *model.CorrectionEntry) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO correction_log (entity_id, product_id, dimension, old_value, new_value, reason, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		c.EntityID, c.ProductID, string(c.Dimension), c.OldValue, c.NewValue, c.Reason, c.Actor, c.At,
	).Scan(&c.ID)
	return eris.Wrap(err, "store: append correction")
}

// ListCorrections returns an entity's audit entries, oldest first.
func (tx *Tx) ListCorrections(ctx context.Context, entityID int64) ([]model.CorrectionEntry, error) {
	rows, err := tx.q.query(ctx,
		`SELECT id, entity_id, product_id, dimension, old_value, new_value, reason, actor, created_at
		 FROM correction_log WHERE entity_id = $1 ORDER BY id`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list corrections %d", entityID)
	}
	out, err := collect(rows, func(row scannable) (model.CorrectionEntry, error) {
		var c model.CorrectionEntry
		var dim string
		err := row.Scan(&c.ID, &c.EntityID, &c.ProductID, &dim, &c.OldValue, &c.NewValue, &c.Reason, &c.Actor, &c.At)
		c.Dimension = model.Dimension(dim)
		return c, err
	})
	return out, eris.Wrap(err, "store: scan corrections")
}
