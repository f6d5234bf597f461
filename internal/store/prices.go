package store

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

const priceColumns = `id, supplier_id, product_id, mapping_id, CAST(unit_price AS TEXT), unit, currency, effective_from, effective_to, source`

func scanPrice(row scannable) (model.PriceRecord, error) {
	var r model.PriceRecord
	var price, source string
	if err := row.Scan(&r.ID, &r.SupplierID, &r.ProductID, &r.MappingID, &price, &r.Unit, &r.Currency,
		&r.EffectiveFrom, &r.EffectiveTo, &source); err != nil {
		return r, err
	}
	r.Source = model.PriceSource(source)
	d, err := parseDec(price)
	r.UnitPrice = d
	return r, err
}

// OpenPrices returns the records for a pair that have no closing timestamp.
// More than one is an invariant breach the caller must surface.
func (tx *Tx) OpenPrices(ctx context.Context, supplierID, productID int64) ([]model.PriceRecord, error) {
	rows, err := tx.q.query(ctx,
		`SELECT `+priceColumns+` FROM price_records
		 WHERE supplier_id = $1 AND product_id = $2 AND effective_to IS NULL ORDER BY id`,
		supplierID, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: open prices %d/%d", supplierID, productID)
	}
	out, err := collect(rows, scanPrice)
	return out, eris.Wrap(err, "store: scan prices")
}

// ClosePrice sets the closing timestamp on an open record.
func (tx *Tx) ClosePrice(ctx context.Context, id int64, at time.Time) error {
	n, err := tx.q.exec(ctx, `UPDATE price_records SET effective_to = $1 WHERE id = $2 AND effective_to IS NULL`, at, id)
	if err != nil {
		return eris.Wrapf(err, "store: close price %d", id)
	}
	return checkAffected(n, "open price record", id)
}

// InsertPrice inserts an open price record and sets its ID.
func (tx *Tx) InsertPrice(ctx context.Context, r *model.PriceRecord) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO price_records (supplier_id, product_id, mapping_id, unit_price, unit, currency, effective_from, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		r.SupplierID, r.ProductID, r.MappingID, decArg(r.UnitPrice), r.Unit, r.Currency, r.EffectiveFrom, string(r.Source),
	).Scan(&r.ID)
	return eris.Wrapf(err, "store: insert price %d/%d", r.SupplierID, r.ProductID)
}

// PriceHistory returns every record for a pair, oldest first.
func (tx *Tx) PriceHistory(ctx context.Context, supplierID, productID int64) ([]model.PriceRecord, error) {
	rows, err := tx.q.query(ctx,
		`SELECT `+priceColumns+` FROM price_records WHERE supplier_id = $1 AND product_id = $2 ORDER BY id`,
		supplierID, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: price history %d/%d", supplierID, productID)
	}
	out, err := collect(rows, scanPrice)
	return out, eris.Wrap(err, "store: scan prices")
}

// OpenPricesForProduct returns every supplier's open price for a product,
// cheapest first.
func (tx *Tx) OpenPricesForProduct(ctx context.Context, productID int64) ([]model.PriceRecord, error) {
	rows, err := tx.q.query(ctx,
		`SELECT `+priceColumns+` FROM price_records WHERE product_id = $1 AND effective_to IS NULL ORDER BY id`, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: open prices for product %d", productID)
	}
	out, err := collect(rows, scanPrice)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan prices")
	}
	slices.SortStableFunc(out, func(a, b model.PriceRecord) int { return a.UnitPrice.Cmp(b.UnitPrice) })
	return out, nil
}

func sortPriceSheet(rows []PriceSheetRow) {
	slices.SortStableFunc(rows, func(a, b PriceSheetRow) int {
		if a.ProductID != b.ProductID {
			if c := cmp.Compare(a.ProductName, b.ProductName); c != 0 {
				return c
			}
			return cmp.Compare(a.ProductID, b.ProductID)
		}
		return a.UnitPrice.Cmp(b.UnitPrice)
	})
}
