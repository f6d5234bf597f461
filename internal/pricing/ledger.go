// Package pricing keeps the temporal price ledger: at most one open price
// record per supplier-product pair, with every new price closing the one
// before it in the same transaction.
package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

// InvariantSingleOpenPrice names the ledger invariant in violations.
const InvariantSingleOpenPrice = "single_open_price"

// DefaultCurrency applies when a price arrives without one.
const DefaultCurrency = "BRL"

// Entry is a price to record for a mapped supplier-product pair.
type Entry struct {
	EntityID      int64
	MappingID     int64
	SupplierID    int64
	ProductID     int64
	UnitPrice     decimal.Decimal
	Unit          string
	Currency      string
	EffectiveFrom time.Time
	Source        model.PriceSource
	// SkipStale drops a price the open record already supersedes (dated
	// earlier, or same day and same amount) instead of rejecting it.
	SkipStale bool
}

func (e *Entry) validate() error {
	if !e.UnitPrice.IsPositive() {
		return model.NewValidationError("unit_price", "unit price must be positive, got %s", e.UnitPrice)
	}
	e.Currency = strings.ToUpper(strings.TrimSpace(e.Currency))
	if e.Currency == "" {
		e.Currency = DefaultCurrency
	}
	if len(e.Currency) != 3 {
		return model.NewValidationError("currency", "currency %q is not a 3-letter code", e.Currency)
	}
	if e.Source == "" {
		e.Source = model.PriceFromInvoice
	}
	return nil
}

// Record closes the pair's open price, if any, and opens a new one. More
// than one open record is reported as a ConsistencyViolation and nothing is
// written. A stale entry with SkipStale set returns nil, nil.
func Record(ctx context.Context, tx *store.Tx, e Entry) (*model.PriceRecord, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	open, err := tx.OpenPrices(ctx, e.SupplierID, e.ProductID)
	if err != nil {
		return nil, err
	}
	if len(open) > 1 {
		return nil, model.NewConsistencyViolation(e.EntityID, InvariantSingleOpenPrice,
			"supplier %d product %d has %d open price records", e.SupplierID, e.ProductID, len(open))
	}
	if len(open) == 1 {
		prev := open[0]
		if e.SkipStale && (e.EffectiveFrom.Before(prev.EffectiveFrom) ||
			(e.EffectiveFrom.Equal(prev.EffectiveFrom) && e.UnitPrice.Equal(prev.UnitPrice))) {
			return nil, nil
		}
		if e.EffectiveFrom.Before(prev.EffectiveFrom) {
			return nil, model.NewValidationError("effective_from",
				"price dated %s predates the open record from %s",
				e.EffectiveFrom.Format(time.DateOnly), prev.EffectiveFrom.Format(time.DateOnly))
		}
		if err := tx.ClosePrice(ctx, prev.ID, e.EffectiveFrom); err != nil {
			return nil, err
		}
	}

	rec := &model.PriceRecord{
		SupplierID:    e.SupplierID,
		ProductID:     e.ProductID,
		MappingID:     e.MappingID,
		UnitPrice:     e.UnitPrice,
		Unit:          e.Unit,
		Currency:      e.Currency,
		EffectiveFrom: e.EffectiveFrom,
		Source:        e.Source,
	}
	if err := tx.InsertPrice(ctx, rec); err != nil {
		return nil, err
	}
	if err := tx.SetMappingPrice(ctx, e.MappingID, e.UnitPrice, e.EffectiveFrom); err != nil {
		return nil, err
	}
	return rec, nil
}

// Ledger serves price updates after onboarding.
type Ledger struct {
	store store.Store
	log   *zap.Logger
}

// NewLedger creates a Ledger over st.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st, log: zap.L().With(zap.String("component", "pricing"))}
}

// Submission is a new price reported for an entity's product by a supplier.
type Submission struct {
	EntityID   int64             `json:"entity_id" validate:"required,gt=0"`
	SupplierID int64             `json:"supplier_id" validate:"required,gt=0"`
	ProductID  int64             `json:"product_id" validate:"required,gt=0"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	Unit       string            `json:"unit,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	Source     model.PriceSource `json:"source,omitempty"`
}

// Submit records a new current price. The pair must already be mapped. A
// consistency violation halts the entity.
func (l *Ledger) Submit(ctx context.Context, s Submission) (*model.PriceRecord, error) {
	if s.Source == "" {
		s.Source = model.PriceFromSupplier
	}
	var rec *model.PriceRecord
	err := l.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, s.EntityID); err != nil {
			return err
		}
		prod, err := tx.GetProduct(ctx, s.ProductID)
		if err != nil {
			return err
		}
		if prod == nil || prod.EntityID != s.EntityID {
			return model.NewValidationError("product_id", "product %d is not in entity %d's catalog", s.ProductID, s.EntityID)
		}
		m, err := tx.GetMapping(ctx, s.SupplierID, s.ProductID)
		if err != nil {
			return err
		}
		if m == nil {
			return model.NewValidationError("supplier_id", "supplier %d is not registered for product %d", s.SupplierID, s.ProductID)
		}
		rec, err = Record(ctx, tx, Entry{
			EntityID:      s.EntityID,
			MappingID:     m.ID,
			SupplierID:    s.SupplierID,
			ProductID:     s.ProductID,
			UnitPrice:     s.UnitPrice,
			Unit:          s.Unit,
			Currency:      s.Currency,
			EffectiveFrom: tx.Now(),
			Source:        s.Source,
		})
		if err != nil {
			return err
		}
		return tx.TouchSupplier(ctx, s.SupplierID, tx.Now())
	})
	if err != nil {
		return nil, store.HaltOnViolation(ctx, l.store, err)
	}
	l.log.Info("price recorded",
		zap.Int64("entity_id", s.EntityID),
		zap.Int64("supplier_id", s.SupplierID),
		zap.Int64("product_id", s.ProductID),
		zap.String("unit_price", rec.UnitPrice.String()),
	)
	return rec, nil
}

// Current returns every supplier's open price for a product, cheapest first.
func (l *Ledger) Current(ctx context.Context, entityID, productID int64) ([]model.PriceRecord, error) {
	var out []model.PriceRecord
	err := l.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		var err error
		out, err = tx.OpenPricesForProduct(ctx, productID)
		return err
	})
	return out, err
}

// History returns every record for a pair, oldest first.
func (l *Ledger) History(ctx context.Context, supplierID, productID int64) ([]model.PriceRecord, error) {
	var out []model.PriceRecord
	err := l.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.PriceHistory(ctx, supplierID, productID)
		return err
	})
	return out, err
}
