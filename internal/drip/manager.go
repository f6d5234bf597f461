package drip

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/keylock"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/preference"
	"github.com/frepi/frepi-core/internal/store"
)

// Manager seeds the queue and serves drip questions.
type Manager struct {
	store  store.Store
	scorer *engagement.Scorer
	cfg    Config
	dims   []model.Dimension
	log    *zap.Logger
}

// NewManager creates a Manager. It fails on an unknown configured dimension.
func NewManager(st store.Store, scorer *engagement.Scorer, cfg Config) (*Manager, error) {
	dims, err := cfg.dimensions()
	if err != nil {
		return nil, err
	}
	if cfg.SeedFraction <= 0 || cfg.SeedFraction > 1 {
		cfg.SeedFraction = DefaultSeedFraction
	}
	return &Manager{
		store:  st,
		scorer: scorer,
		cfg:    cfg,
		dims:   dims,
		log:    zap.L().With(zap.String("component", "drip")),
	}, nil
}

// Seed queues the top products by spend behind any items the entity already
// has, so earlier onboardings keep their place within a tier.
func (m *Manager) Seed(ctx context.Context, tx *store.Tx, entityID int64, spends []model.ProductSpend) ([]model.QueueItem, error) {
	items := Plan(entityID, spends, m.cfg.SeedFraction, tx.Now())
	start, err := tx.NextQueuePosition(ctx, entityID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Position += start
	}
	if err := tx.InsertQueueItems(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// NextQuestions returns this session's drip questions and marks their items
// asked. Entities below medium engagement get none.
func (m *Manager) NextQuestions(ctx context.Context, entityID int64) ([]model.Question, error) {
	unlock := m.scorer.Locks().Lock(keylock.EntityKey(entityID))
	defer unlock()

	var out []model.Question
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		prof, err := tx.GetProfile(ctx, entityID)
		if err != nil {
			return err
		}
		if prof == nil {
			return model.NewConsistencyViolation(entityID, engagement.InvariantProfileExists, "entity %d has no engagement profile", entityID)
		}
		tiers := prof.Level.EligibleTiers()
		if prof.DripPerSession <= 0 || len(tiers) == 0 {
			return nil
		}

		items, err := tx.AskableQueueItems(ctx, entityID)
		if err != nil {
			return err
		}
		items = slices.DeleteFunc(items, func(it model.QueueItem) bool { return !slices.Contains(tiers, it.Tier) })
		slices.SortStableFunc(items, func(a, b model.QueueItem) int { return a.Tier.Rank() - b.Tier.Rank() })

		for _, it := range items {
			if len(out) == prof.DripPerSession {
				break
			}
			pref, err := preference.Load(ctx, tx, entityID, it.ProductID)
			if err != nil {
				return err
			}
			dim, ok := m.nextDimension(pref)
			if !ok {
				continue
			}
			prod, err := tx.GetProduct(ctx, it.ProductID)
			if err != nil {
				return err
			}
			if prod == nil {
				return model.NewConsistencyViolation(entityID, "queue_product_exists", "queue item %d references missing product %d", it.ID, it.ProductID)
			}
			if err := tx.MarkAsked(ctx, it.ID, tx.Now()); err != nil {
				return err
			}
			it.Status = model.QueueAskedDrip
			it.AskedCount++
			at := tx.Now()
			it.LastAskedAt = &at
			out = append(out, model.Question{Item: it, ProductName: prod.Name, Dimension: dim})
		}
		return nil
	})
	if err != nil {
		return nil, store.HaltOnViolation(ctx, m.store, err)
	}
	if len(out) > 0 {
		m.log.Info("drip questions selected", zap.Int64("entity_id", entityID), zap.Int("count", len(out)))
	}
	return out, nil
}

// nextDimension is the first configured dimension not yet held at drip rank
// or above.
func (m *Manager) nextDimension(p *model.Preference) (model.Dimension, bool) {
	for _, d := range m.dims {
		if !p.HeldAtLeast(d, model.SourceDrip) {
			return d, true
		}
	}
	return "", false
}

// RecordAnswer stores a drip answer for an asked or pending item. An empty
// dimension answers the item's next open dimension.
func (m *Manager) RecordAnswer(ctx context.Context, itemID int64, dim model.Dimension, value string) (*model.EngagementProfile, error) {
	return m.resolve(ctx, itemID, model.QueueAnswered, func(tx *store.Tx, it *model.QueueItem, actor string) error {
		pref, err := preference.Load(ctx, tx, it.EntityID, it.ProductID)
		if err != nil {
			return err
		}
		if dim == "" {
			var ok bool
			if dim, ok = m.nextDimension(pref); !ok {
				return model.NewValidationError("dimension", "queue item %d has no open dimension", it.ID)
			}
		}
		d, err := model.ParseDimension(string(dim))
		if err != nil {
			return err
		}
		v, err := model.ParseValue(d, value)
		if err != nil {
			return err
		}
		_, _, err = preference.UpsertTx(ctx, tx, it.EntityID, it.ProductID, v, model.SourceDrip, actor)
		return err
	})
}

// RecordSkip marks an item skipped.
func (m *Manager) RecordSkip(ctx context.Context, itemID int64) (*model.EngagementProfile, error) {
	return m.resolve(ctx, itemID, model.QueueSkipped, nil)
}

func (m *Manager) resolve(ctx context.Context, itemID int64, status model.QueueStatus, write func(*store.Tx, *model.QueueItem, string) error) (*model.EngagementProfile, error) {
	var entityID int64
	if err := m.store.InTx(ctx, func(tx *store.Tx) error {
		it, err := tx.GetQueueItem(ctx, itemID)
		if err != nil {
			return err
		}
		if it == nil {
			return model.NewValidationError("item_id", "queue item %d does not exist", itemID)
		}
		entityID = it.EntityID
		return nil
	}); err != nil {
		return nil, err
	}

	unlock := m.scorer.Locks().Lock(keylock.EntityKey(entityID))
	defer unlock()

	var prof *model.EngagementProfile
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		it, err := tx.GetQueueItem(ctx, itemID)
		if err != nil {
			return err
		}
		if it == nil {
			return model.NewValidationError("item_id", "queue item %d does not exist", itemID)
		}
		if !it.Status.Askable() {
			return model.NewConflictError("queue_item", "item %d is already %s", itemID, it.Status)
		}
		if write != nil {
			if err := write(tx, it, "drip"); err != nil {
				return err
			}
		}
		ok, err := tx.ResolveQueueItem(ctx, itemID, status)
		if err != nil {
			return err
		}
		if !ok {
			return model.NewConflictError("queue_item", "item %d is no longer askable", itemID)
		}
		prof, err = m.scorer.UpdateTx(ctx, tx, entityID, func(c *model.EngagementCounters) {
			if status == model.QueueSkipped {
				c.DripSkipped++
			} else {
				c.DripAnswered++
			}
		})
		return err
	})
	if err != nil {
		return nil, store.HaltOnViolation(ctx, m.store, err)
	}
	m.log.Info("drip item resolved",
		zap.Int64("entity_id", entityID),
		zap.Int64("item_id", itemID),
		zap.String("status", string(status)),
		zap.String("level", string(prof.Level)),
	)
	return prof, nil
}

// Queue lists every queue item for an entity.
func (m *Manager) Queue(ctx context.Context, entityID int64) ([]model.QueueItem, error) {
	var out []model.QueueItem
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListQueue(ctx, entityID)
		return err
	})
	return out, err
}
