package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

const supplierColumns = `id, name, normalized_name, tax_id, phone, email, city, address, is_active, last_active_at, created_at`

func scanSupplier(row scannable) (model.Supplier, error) {
	var s model.Supplier
	err := row.Scan(&s.ID, &s.Name, &s.NormalizedName, &s.TaxID, &s.Phone, &s.Email,
		&s.City, &s.Address, &s.IsActive, &s.LastActiveAt, &s.CreatedAt)
	return s, err
}

// ActiveSuppliers returns every active supplier ordered by id.
func (tx *Tx) ActiveSuppliers(ctx context.Context) ([]model.Supplier, error) {
	rows, err := tx.q.query(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE is_active = $1 ORDER BY id`, true)
	if err != nil {
		return nil, eris.Wrap(err, "store: list active suppliers")
	}
	out, err := collect(rows, scanSupplier)
	return out, eris.Wrap(err, "store: scan suppliers")
}

// SuppliersByTaxID returns active suppliers registered under a tax id.
func (tx *Tx) SuppliersByTaxID(ctx context.Context, taxID string) ([]model.Supplier, error) {
	rows, err := tx.q.query(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE tax_id = $1 AND is_active = $2 ORDER BY id`, taxID, true)
	if err != nil {
		return nil, eris.Wrapf(err, "store: suppliers by tax id %s", taxID)
	}
	out, err := collect(rows, scanSupplier)
	return out, eris.Wrap(err, "store: scan suppliers")
}

// GetSupplier returns a supplier or nil.
func (tx *Tx) GetSupplier(ctx context.Context, id int64) (*model.Supplier, error) {
	s, err := scanSupplier(tx.q.queryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get supplier %d", id)
	}
	return &s, nil
}

// CreateSupplier inserts s and sets its ID.
func (tx *Tx) CreateSupplier(ctx context.Context, s *model.Supplier) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO suppliers (name, normalized_name, tax_id, phone, email, city, address, is_active, last_active_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		s.Name, s.NormalizedName, s.TaxID, s.Phone, s.Email, s.City, s.Address, s.IsActive, s.LastActiveAt, s.CreatedAt,
	).Scan(&s.ID)
	return eris.Wrapf(err, "store: insert supplier %q", s.Name)
}

// TouchSupplier records activity on a supplier.
func (tx *Tx) TouchSupplier(ctx context.Context, id int64, at time.Time) error {
	n, err := tx.q.exec(ctx, `UPDATE suppliers SET last_active_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return eris.Wrapf(err, "store: touch supplier %d", id)
	}
	return checkAffected(n, "supplier", id)
}
