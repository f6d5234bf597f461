package catalog

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

// Registration is a supplier-product mapping request made after onboarding.
type Registration struct {
	EntityID            int64  `json:"entity_id" validate:"required,gt=0"`
	SupplierID          int64  `json:"supplier_id" validate:"required,gt=0"`
	ProductID           int64  `json:"product_id" validate:"required,gt=0"`
	SupplierProductName string `json:"supplier_product_name" validate:"max=200"`
}

// Register links a supplier to one of the entity's products. It is
// idempotent: registering an existing pair returns the stored mapping with
// created false.
func Register(ctx context.Context, st store.Store, r Registration) (*model.SupplierProduct, bool, error) {
	var m *model.SupplierProduct
	var created bool
	err := st.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, r.EntityID); err != nil {
			return err
		}
		sup, err := tx.GetSupplier(ctx, r.SupplierID)
		if err != nil {
			return err
		}
		if sup == nil || !sup.IsActive {
			return model.NewValidationError("supplier_id", "supplier %d does not exist or is inactive", r.SupplierID)
		}
		prod, err := tx.GetProduct(ctx, r.ProductID)
		if err != nil {
			return err
		}
		if prod == nil || prod.EntityID != r.EntityID {
			return model.NewValidationError("product_id", "product %d is not in entity %d's catalog", r.ProductID, r.EntityID)
		}

		name := strings.TrimSpace(r.SupplierProductName)
		if name == "" {
			name = prod.Name
		}
		m = &model.SupplierProduct{
			SupplierID:          sup.ID,
			ProductID:           prod.ID,
			SupplierProductName: name,
			Method:              model.MatchManual,
			Confidence:          1,
			CreatedAt:           tx.Now(),
		}
		created, err = tx.EnsureMapping(ctx, m)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	zap.L().Info("supplier product registered",
		zap.Int64("entity_id", r.EntityID),
		zap.Int64("supplier_id", r.SupplierID),
		zap.Int64("product_id", r.ProductID),
		zap.Bool("created", created),
	)
	return m, created, nil
}
