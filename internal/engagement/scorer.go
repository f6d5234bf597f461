package engagement

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/keylock"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

// InvariantProfileExists is reported when a committed entity has no profile.
const InvariantProfileExists = "engagement_profile_exists"

// Scorer persists engagement profiles. Read-modify-write of one entity's
// profile is serialized by the shared key lock and, on Postgres, a row lock.
type Scorer struct {
	store store.Store
	locks *keylock.Map
	cfg   Config
	log   *zap.Logger
}

// NewScorer creates a Scorer. locks is shared with every other component
// that mutates per-entity state.
func NewScorer(st store.Store, locks *keylock.Map, cfg Config) *Scorer {
	if locks == nil {
		locks = keylock.New()
	}
	return &Scorer{store: st, locks: locks, cfg: cfg, log: zap.L().With(zap.String("component", "engagement"))}
}

// Config returns the scoring configuration.
func (s *Scorer) Config() Config { return s.cfg }

// Locks returns the shared per-entity lock map.
func (s *Scorer) Locks() *keylock.Map { return s.locks }

// Create inserts the initial profile for a new entity: zero counters,
// score 0, dormant, no drip.
func (s *Scorer) Create(ctx context.Context, tx *store.Tx, entityID int64) (*model.EngagementProfile, error) {
	p := &model.EngagementProfile{EntityID: entityID, UpdatedAt: tx.Now()}
	res := Score(p.EngagementCounters, s.cfg)
	p.Score, p.Level, p.DripPerSession = res.Score, res.Level, res.DripPerSession
	if err := tx.CreateProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateTx row-locks the entity's profile, applies mutate to its counters,
// refreshes the derived counters, rescores and saves. mutate may be nil.
// Callers hold the entity key lock.
func (s *Scorer) UpdateTx(ctx context.Context, tx *store.Tx, entityID int64, mutate func(*model.EngagementCounters)) (*model.EngagementProfile, error) {
	if err := tx.LockEntity(ctx, entityID); err != nil {
		return nil, eris.Wrapf(err, "engagement: lock entity %d", entityID)
	}
	p, err := tx.GetProfile(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, model.NewConsistencyViolation(entityID, InvariantProfileExists, "entity %d has no engagement profile", entityID)
	}
	if mutate != nil {
		mutate(&p.EngagementCounters)
	}

	now := tx.Now()
	if p.ConfiguredProducts, err = tx.CountConfiguredProducts(ctx, entityID, s.cfg.MinSource()); err != nil {
		return nil, err
	}
	if p.SessionsLast30d, err = tx.CountSessionsSince(ctx, entityID, now.Add(-s.cfg.SessionWindow())); err != nil {
		return nil, err
	}

	res := Score(p.EngagementCounters, s.cfg)
	prevLevel := p.Level
	p.Score, p.Level, p.DripPerSession = res.Score, res.Level, res.DripPerSession
	p.UpdatedAt = now
	if err := tx.SaveProfile(ctx, p); err != nil {
		return nil, err
	}

	if prevLevel != p.Level {
		s.log.Info("engagement level changed",
			zap.Int64("entity_id", entityID),
			zap.String("from", string(prevLevel)),
			zap.String("to", string(p.Level)),
			zap.Float64("score", p.Score),
		)
	}
	s.log.Debug("engagement recomputed",
		zap.Int64("entity_id", entityID),
		zap.Float64("score", p.Score),
		zap.Float64("depth", res.Signals.Depth),
		zap.Float64("drip_rate", res.Signals.DripRate),
		zap.Float64("corrections", res.Signals.Correction),
		zap.Float64("sessions", res.Signals.SessionFrequency),
		zap.Float64("reasoning", res.Signals.Reasoning),
	)
	return p, nil
}

// Recompute rescores an entity from its stored counters.
func (s *Scorer) Recompute(ctx context.Context, entityID int64) (*model.EngagementProfile, error) {
	return s.update(ctx, entityID, nil)
}

// RecordSession logs a conversation session at at and rescores.
func (s *Scorer) RecordSession(ctx context.Context, entityID int64, at time.Time) (*model.EngagementProfile, error) {
	return s.update(ctx, entityID, func(tx *store.Tx) error {
		return tx.RecordSessionEvent(ctx, entityID, at.UTC())
	})
}

// Get returns the stored profile without rescoring.
func (s *Scorer) Get(ctx context.Context, entityID int64) (*model.EngagementProfile, error) {
	var p *model.EngagementProfile
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		var err error
		p, err = tx.GetProfile(ctx, entityID)
		if err == nil && p == nil {
			err = model.NewConsistencyViolation(entityID, InvariantProfileExists, "entity %d has no engagement profile", entityID)
		}
		return err
	})
	return p, err
}

func (s *Scorer) update(ctx context.Context, entityID int64, before func(*store.Tx) error) (*model.EngagementProfile, error) {
	unlock := s.locks.Lock(keylock.EntityKey(entityID))
	defer unlock()

	var p *model.EngagementProfile
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}
		var err error
		p, err = s.UpdateTx(ctx, tx, entityID, nil)
		return err
	})
	if err != nil {
		return nil, store.HaltOnViolation(ctx, s.store, err)
	}
	return p, nil
}
