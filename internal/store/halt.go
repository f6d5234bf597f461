package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
)

// InvariantHalted is the invariant reported for operations on a halted entity.
const InvariantHalted = "entity_halted"

// HaltOnViolation halts the entity named by a ConsistencyViolation in err,
// using its own transaction so the halt survives the caller's rollback.
// err is returned unchanged.
func HaltOnViolation(ctx context.Context, st Store, err error) error {
	var cv *model.ConsistencyViolation
	if !errors.As(err, &cv) || cv.EntityID <= 0 || cv.Invariant == InvariantHalted {
		return err
	}
	reason := cv.Invariant + ": " + cv.Detail
	hctx := context.WithoutCancel(ctx)
	herr := st.InTx(hctx, func(tx *Tx) error {
		return tx.HaltEntity(hctx, cv.EntityID, reason)
	})
	if herr != nil {
		zap.L().Error("failed to halt entity after consistency violation",
			zap.Int64("entity_id", cv.EntityID), zap.String("invariant", cv.Invariant), zap.Error(herr))
		return err
	}
	zap.L().Error("entity halted", zap.Int64("entity_id", cv.EntityID), zap.String("reason", reason))
	return err
}
