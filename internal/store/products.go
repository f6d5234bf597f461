package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/frepi/frepi-core/internal/model"
)

const productColumns = `id, entity_id, name, canonical_key, brand, unit, specification, embedding, created_at`

func scanProduct(row scannable) (model.Product, error) {
	var p model.Product
	var blob []byte
	if err := row.Scan(&p.ID, &p.EntityID, &p.Name, &p.CanonicalKey, &p.Brand, &p.Unit, &p.Specification, &blob, &p.CreatedAt); err != nil {
		return p, err
	}
	v, err := DecodeEmbedding(blob)
	p.Embedding = v
	return p, err
}

// ProductByKey returns an entity's product with the given canonical key, or nil.
func (tx *Tx) ProductByKey(ctx context.Context, entityID int64, key string) (*model.Product, error) {
	p, err := scanProduct(tx.q.queryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE entity_id = $1 AND canonical_key = $2`, entityID, key))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: product by key %q", key)
	}
	return &p, nil
}

// GetProduct returns a product or nil.
func (tx *Tx) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, err := scanProduct(tx.q.queryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get product %d", id)
	}
	return &p, nil
}

// ListProducts returns an entity's catalog, embeddings included.
func (tx *Tx) ListProducts(ctx context.Context, entityID int64) ([]model.Product, error) {
	rows, err := tx.q.query(ctx, `SELECT `+productColumns+` FROM products WHERE entity_id = $1 ORDER BY id`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list products for entity %d", entityID)
	}
	out, err := collect(rows, scanProduct)
	return out, eris.Wrap(err, "store: scan products")
}

// CreateProduct inserts p with its embedding and sets its ID.
func (tx *Tx) CreateProduct(ctx context.Context, p *model.Product) error {
	if len(p.Embedding) == 0 {
		return eris.Errorf("store: product %q has no embedding", p.Name)
	}
	err := tx.q.queryRow(ctx,
		`INSERT INTO products (entity_id, name, canonical_key, brand, unit, specification, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.EntityID, p.Name, p.CanonicalKey, p.Brand, p.Unit, p.Specification, EncodeEmbedding(p.Embedding), p.CreatedAt,
	).Scan(&p.ID)
	return eris.Wrapf(err, "store: insert product %q", p.Name)
}

// --- supplier-product mappings ---

const mappingColumns = `id, supplier_id, product_id, supplier_product_name, method, confidence, CAST(current_unit_price AS TEXT), price_updated_at, created_at`

func scanMapping(row scannable) (model.SupplierProduct, error) {
	var m model.SupplierProduct
	var method string
	var price *string
	if err := row.Scan(&m.ID, &m.SupplierID, &m.ProductID, &m.SupplierProductName, &method,
		&m.Confidence, &price, &m.PriceUpdatedAt, &m.CreatedAt); err != nil {
		return m, err
	}
	m.Method = model.MatchMethod(method)
	d, err := parseNullDec(price)
	m.CurrentUnitPrice = d
	return m, err
}

// GetMapping returns the mapping for a supplier-product pair, or nil.
func (tx *Tx) GetMapping(ctx context.Context, supplierID, productID int64) (*model.SupplierProduct, error) {
	m, err := scanMapping(tx.q.queryRow(ctx,
		`SELECT `+mappingColumns+` FROM supplier_products WHERE supplier_id = $1 AND product_id = $2`, supplierID, productID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get mapping %d/%d", supplierID, productID)
	}
	return &m, nil
}

// EnsureMapping returns the existing mapping for the pair or inserts m.
// created reports whether a row was inserted.
func (tx *Tx) EnsureMapping(ctx context.Context, m *model.SupplierProduct) (created bool, err error) {
	existing, err := tx.GetMapping(ctx, m.SupplierID, m.ProductID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		*m = *existing
		return false, nil
	}
	err = tx.q.queryRow(ctx,
		`INSERT INTO supplier_products (supplier_id, product_id, supplier_product_name, method, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		m.SupplierID, m.ProductID, m.SupplierProductName, string(m.Method), m.Confidence, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return false, eris.Wrapf(err, "store: insert mapping %d/%d", m.SupplierID, m.ProductID)
	}
	return true, nil
}

// SetMappingPrice caches the current price on a mapping.
func (tx *Tx) SetMappingPrice(ctx context.Context, mappingID int64, price decimal.Decimal, at time.Time) error {
	n, err := tx.q.exec(ctx,
		`UPDATE supplier_products SET current_unit_price = $1, price_updated_at = $2 WHERE id = $3`,
		decArg(price), at, mappingID)
	if err != nil {
		return eris.Wrapf(err, "store: set mapping price %d", mappingID)
	}
	return checkAffected(n, "mapping", mappingID)
}

// PriceSheetRow is one line of an entity's current price sheet.
type PriceSheetRow struct {
	ProductID     int64
	ProductName   string
	SupplierID    int64
	SupplierName  string
	UnitPrice     decimal.Decimal
	Unit          string
	Currency      string
	EffectiveFrom time.Time
}

// PriceSheet lists every open price for an entity's catalog, grouped by
// product and cheapest first.
func (tx *Tx) PriceSheet(ctx context.Context, entityID int64) ([]PriceSheetRow, error) {
	rows, err := tx.q.query(ctx,
		`SELECT p.id, p.name, s.id, s.name, CAST(pr.unit_price AS TEXT), pr.unit, pr.currency, pr.effective_from
		 FROM price_records pr
		 JOIN products p ON p.id = pr.product_id
		 JOIN suppliers s ON s.id = pr.supplier_id
		 WHERE p.entity_id = $1 AND pr.effective_to IS NULL
		 ORDER BY p.name, p.id, pr.id`, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: price sheet for entity %d", entityID)
	}
	out, err := collect(rows, func(row scannable) (PriceSheetRow, error) {
		var r PriceSheetRow
		var price string
		if err := row.Scan(&r.ProductID, &r.ProductName, &r.SupplierID, &r.SupplierName, &price, &r.Unit, &r.Currency, &r.EffectiveFrom); err != nil {
			return r, err
		}
		d, err := parseDec(price)
		r.UnitPrice = d
		return r, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "store: scan price sheet")
	}
	sortPriceSheet(out)
	return out, nil
}
