package preference

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/keylock"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

// Correction is an explicit user correction of one preference dimension.
type Correction struct {
	EntityID  int64           `json:"entity_id" validate:"required,gt=0"`
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Dimension model.Dimension `json:"dimension" validate:"required"`
	Value     string          `json:"value" validate:"required"`
	Reason    string          `json:"reason,omitempty" validate:"max=500"`
	Actor     string          `json:"actor" validate:"max=120"`
}

// Learner applies user corrections.
type Learner struct {
	store  store.Store
	scorer *engagement.Scorer
	log    *zap.Logger
}

// NewLearner creates a Learner.
func NewLearner(st store.Store, scorer *engagement.Scorer) *Learner {
	return &Learner{store: st, scorer: scorer, log: zap.L().With(zap.String("component", "preference.learner"))}
}

// ApplyCorrection writes c with user_correction rank, appends the audit
// entry and updates the correction counters, all in one transaction.
func (l *Learner) ApplyCorrection(ctx context.Context, c Correction) (*model.Preference, error) {
	if err := model.Validate(c); err != nil {
		return nil, err
	}
	dim, err := model.ParseDimension(string(c.Dimension))
	if err != nil {
		return nil, err
	}
	v, err := model.ParseValue(dim, c.Value)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(c.Reason)
	actor := c.Actor
	if actor == "" {
		actor = "user"
	}

	unlock := l.scorer.Locks().Lock(keylock.EntityKey(c.EntityID))
	defer unlock()

	var p *model.Preference
	var prof *model.EngagementProfile
	err = l.store.InTx(ctx, func(tx *store.Tx) error {
		if err := requireProduct(ctx, tx, c.EntityID, c.ProductID); err != nil {
			return err
		}
		before, err := Load(ctx, tx, c.EntityID, c.ProductID)
		if err != nil {
			return err
		}
		var old string
		if prev, _, ok := before.Lookup(dim); ok {
			old = prev.Text()
		}

		if err := tx.AppendCorrection(ctx, &model.CorrectionEntry{
			EntityID:  c.EntityID,
			ProductID: c.ProductID,
			Dimension: dim,
			OldValue:  old,
			NewValue:  v.Text(),
			Reason:    reason,
			Actor:     actor,
			At:        tx.Now(),
		}); err != nil {
			return err
		}
		if p, _, err = UpsertTx(ctx, tx, c.EntityID, c.ProductID, v, model.SourceUserCorrection, actor); err != nil {
			return err
		}
		prof, err = l.scorer.UpdateTx(ctx, tx, c.EntityID, func(ec *model.EngagementCounters) {
			ec.TotalCorrections++
			if reason != "" {
				ec.CorrectionsWithReason++
			}
		})
		return err
	})
	if err != nil {
		return nil, store.HaltOnViolation(ctx, l.store, err)
	}

	l.log.Info("correction applied",
		zap.Int64("entity_id", c.EntityID),
		zap.Int64("product_id", c.ProductID),
		zap.String("dimension", string(dim)),
		zap.Bool("with_reason", reason != ""),
		zap.Float64("score", prof.Score),
		zap.String("level", string(prof.Level)),
	)
	return p, nil
}

// History returns an entity's correction audit log, oldest first.
func (l *Learner) History(ctx context.Context, entityID int64) ([]model.CorrectionEntry, error) {
	var out []model.CorrectionEntry
	err := l.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListCorrections(ctx, entityID)
		return err
	})
	return out, err
}
