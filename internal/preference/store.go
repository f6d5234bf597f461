// Package preference keeps per-product purchase preferences with their
// provenance. A stored value is only replaced by a source of equal or
// higher rank, except that user corrections always win.
package preference

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/keylock"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

// Store reads and writes preferences.
type Store struct {
	store  store.Store
	scorer *engagement.Scorer
	log    *zap.Logger
}

// NewStore creates a Store. Writes rescore the entity through scorer.
func NewStore(st store.Store, scorer *engagement.Scorer) *Store {
	return &Store{store: st, scorer: scorer, log: zap.L().With(zap.String("component", "preference"))}
}

// Load assembles the typed preference record for a pair from its rows.
func Load(ctx context.Context, tx *store.Tx, entityID, productID int64) (*model.Preference, error) {
	rows, err := tx.PreferenceRows(ctx, entityID, productID)
	if err != nil {
		return nil, err
	}
	return fromRows(entityID, productID, rows)
}

func fromRows(entityID, productID int64, rows []model.PreferenceRow) (*model.Preference, error) {
	p := &model.Preference{EntityID: entityID, ProductID: productID}
	for _, r := range rows {
		v, err := model.ParseValue(r.Dimension, r.Value)
		if err != nil {
			return nil, eris.Wrapf(err, "preference: decode %s for %d/%d", r.Dimension, entityID, productID)
		}
		p.Set(v, model.Provenance{Source: r.Source, Actor: r.Actor, At: r.UpdatedAt})
	}
	return p, nil
}

// UpsertTx applies the priority rule and writes v when it wins. changed is
// false when the stored value outranks src; the record is then returned
// unchanged.
func UpsertTx(ctx context.Context, tx *store.Tx, entityID, productID int64, v model.Value, src model.Source, actor string) (p *model.Preference, changed bool, err error) {
	if err := v.Validate(); err != nil {
		return nil, false, err
	}
	if !src.Valid() {
		return nil, false, model.NewValidationError("source", "unknown source %d", int(src))
	}
	p, err = Load(ctx, tx, entityID, productID)
	if err != nil {
		return nil, false, err
	}
	if _, prov, ok := p.Lookup(v.Dimension); ok && prov.Source.Outranks(src) && src != model.SourceUserCorrection {
		return p, false, nil
	}

	prov := model.Provenance{Source: src, Actor: actor, At: tx.Now()}
	err = tx.PutPreferenceRow(ctx, model.PreferenceRow{
		EntityID:  entityID,
		ProductID: productID,
		Dimension: v.Dimension,
		Value:     v.Text(),
		Source:    src,
		Actor:     actor,
		UpdatedAt: prov.At,
	})
	if err != nil {
		return nil, false, err
	}
	p.Set(v, prov)
	return p, true, nil
}

// Upsert writes one dimension for an entity's product and rescores the
// entity when the write took effect.
func (s *Store) Upsert(ctx context.Context, entityID, productID int64, v model.Value, src model.Source, actor string) (*model.Preference, error) {
	unlock := s.scorer.Locks().Lock(keylock.EntityKey(entityID))
	defer unlock()

	var p *model.Preference
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := requireProduct(ctx, tx, entityID, productID); err != nil {
			return err
		}
		var changed bool
		var err error
		p, changed, err = UpsertTx(ctx, tx, entityID, productID, v, src, actor)
		if err != nil || !changed {
			return err
		}
		_, err = s.scorer.UpdateTx(ctx, tx, entityID, nil)
		return err
	})
	if err != nil {
		return nil, store.HaltOnViolation(ctx, s.store, err)
	}
	return p, nil
}

// Get returns the merged preference for an entity's product.
func (s *Store) Get(ctx context.Context, entityID, productID int64) (*model.Preference, error) {
	var p *model.Preference
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if err := requireProduct(ctx, tx, entityID, productID); err != nil {
			return err
		}
		var err error
		p, err = Load(ctx, tx, entityID, productID)
		return err
	})
	return p, err
}

// List returns every stored preference for an entity, one per product.
func (s *Store) List(ctx context.Context, entityID int64) ([]model.Preference, error) {
	var out []model.Preference
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		rows, err := tx.EntityPreferenceRows(ctx, entityID)
		if err != nil {
			return err
		}
		for start := 0; start < len(rows); {
			end := start
			for end < len(rows) && rows[end].ProductID == rows[start].ProductID {
				end++
			}
			p, err := fromRows(entityID, rows[start].ProductID, rows[start:end])
			if err != nil {
				return err
			}
			out = append(out, *p)
			start = end
		}
		return nil
	})
	return out, err
}

func requireProduct(ctx context.Context, tx *store.Tx, entityID, productID int64) error {
	if _, err := tx.RequireEntity(ctx, entityID); err != nil {
		return err
	}
	prod, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if prod == nil || prod.EntityID != entityID {
		return model.NewValidationError("product_id", "product %d is not in entity %d's catalog", productID, entityID)
	}
	return nil
}
