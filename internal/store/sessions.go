package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/frepi/frepi-core/internal/model"
)

const sessionColumns = `id, chat_id, entity_id, contact_id, status, restaurant_name, city, restaurant_type, contact_name, created_at, updated_at, committed_at`

func scanSession(row scannable) (*model.Session, error) {
	var s model.Session
	var status string
	if err := row.Scan(&s.ID, &s.ChatID, &s.EntityID, &s.ContactID, &status,
		&s.RestaurantName, &s.City, &s.RestaurantType, &s.ContactName,
		&s.CreatedAt, &s.UpdatedAt, &s.CommittedAt); err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	return &s, nil
}

// CreateSession inserts a new session row.
func (tx *Tx) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := tx.q.exec(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.ChatID, s.EntityID, s.ContactID, string(s.Status),
		s.RestaurantName, s.City, s.RestaurantType, s.ContactName,
		s.CreatedAt, s.UpdatedAt, s.CommittedAt,
	)
	return eris.Wrapf(err, "store: insert session %s", s.ID)
}

// GetSession returns the session or nil when it does not exist.
func (tx *Tx) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s, err := scanSession(tx.q.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get session %s", id)
	}
	return s, nil
}

// ActiveSessionForChat returns the newest open or ready session for a chat.
func (tx *Tx) ActiveSessionForChat(ctx context.Context, chatID int64) (*model.Session, error) {
	s, err := scanSession(tx.q.queryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE chat_id = $1 AND status IN ('open', 'ready')
		 ORDER BY created_at DESC, id DESC LIMIT 1`, chatID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: active session for chat %d", chatID)
	}
	return s, nil
}

// UpdateSessionInfo stores the basic restaurant and contact information.
func (tx *Tx) UpdateSessionInfo(ctx context.Context, id string, info model.BasicInfo) error {
	n, err := tx.q.exec(ctx,
		`UPDATE sessions SET restaurant_name = $1, city = $2, restaurant_type = $3, contact_name = $4, updated_at = $5
		 WHERE id = $6 AND status IN ('open', 'ready')`,
		info.RestaurantName, info.City, info.RestaurantType, info.ContactName, tx.at, id)
	if err != nil {
		return eris.Wrapf(err, "store: update session info %s", id)
	}
	return checkAffected(n, "active session", id)
}

// TransitionSession moves a session from one status to another. It reports
// false when the session was not in the expected status.
func (tx *Tx) TransitionSession(ctx context.Context, id string, from, to model.SessionStatus) (bool, error) {
	n, err := tx.q.exec(ctx,
		`UPDATE sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), tx.at, id, string(from))
	if err != nil {
		return false, eris.Wrapf(err, "store: transition session %s", id)
	}
	return n == 1, nil
}

// FinalizeSession marks a ready session committed and records its owners.
func (tx *Tx) FinalizeSession(ctx context.Context, id string, entityID, contactID int64) (bool, error) {
	n, err := tx.q.exec(ctx,
		`UPDATE sessions SET status = 'committed', entity_id = $1, contact_id = $2, committed_at = $3, updated_at = $3
		 WHERE id = $4 AND status = 'ready'`,
		entityID, contactID, tx.at, id)
	if err != nil {
		return false, eris.Wrapf(err, "store: finalize session %s", id)
	}
	return n == 1, nil
}

// --- staged suppliers ---

const stagedSupplierColumns = `id, session_id, name, tax_id, phone, email, city, address, confidence, invoice_count, CAST(total_spend AS TEXT)`

func scanStagedSupplier(row scannable) (model.StagedSupplier, error) {
	var s model.StagedSupplier
	var spend string
	if err := row.Scan(&s.ID, &s.SessionID, &s.Name, &s.TaxID, &s.Phone, &s.Email,
		&s.City, &s.Address, &s.Confidence, &s.InvoiceCount, &spend); err != nil {
		return s, err
	}
	d, err := parseDec(spend)
	s.TotalSpend = d
	return s, err
}

// FindStagedSupplier looks up a session's supplier by tax id, falling back
// to normalized name.
func (tx *Tx) FindStagedSupplier(ctx context.Context, sessionID, taxID, normalizedName string) (*model.StagedSupplier, error) {
	s, err := scanStagedSupplier(tx.q.queryRow(ctx,
		`SELECT `+stagedSupplierColumns+` FROM staged_suppliers
		 WHERE session_id = $1 AND (($2 <> '' AND tax_id = $2) OR normalized_name = $3)
		 ORDER BY CASE WHEN $2 <> '' AND tax_id = $2 THEN 0 ELSE 1 END, id LIMIT 1`,
		sessionID, taxID, normalizedName))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: find staged supplier in %s", sessionID)
	}
	return &s, nil
}

// InsertStagedSupplier inserts s and sets its ID.
func (tx *Tx) InsertStagedSupplier(ctx context.Context, s *model.StagedSupplier, normalizedName string) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO staged_suppliers (session_id, name, normalized_name, tax_id, phone, email, city, address, confidence, invoice_count, total_spend)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		s.SessionID, s.Name, normalizedName, s.TaxID, s.Phone, s.Email, s.City, s.Address,
		s.Confidence, s.InvoiceCount, decArg(s.TotalSpend),
	).Scan(&s.ID)
	return eris.Wrap(err, "store: insert staged supplier")
}

// UpdateStagedSupplier rewrites the mutable fields of s.
func (tx *Tx) UpdateStagedSupplier(ctx context.Context, s *model.StagedSupplier) error {
	n, err := tx.q.exec(ctx,
		`UPDATE staged_suppliers SET tax_id = $1, phone = $2, email = $3, city = $4, address = $5,
		 confidence = $6, invoice_count = $7, total_spend = $8 WHERE id = $9`,
		s.TaxID, s.Phone, s.Email, s.City, s.Address, s.Confidence, s.InvoiceCount, decArg(s.TotalSpend), s.ID)
	if err != nil {
		return eris.Wrapf(err, "store: update staged supplier %d", s.ID)
	}
	return checkAffected(n, "staged supplier", s.ID)
}

// ListStagedSuppliers returns a session's suppliers in staging order.
func (tx *Tx) ListStagedSuppliers(ctx context.Context, sessionID string) ([]model.StagedSupplier, error) {
	rows, err := tx.q.query(ctx, `SELECT `+stagedSupplierColumns+` FROM staged_suppliers WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list staged suppliers %s", sessionID)
	}
	out, err := collect(rows, scanStagedSupplier)
	return out, eris.Wrapf(err, "store: scan staged suppliers %s", sessionID)
}

// --- staged products ---

const stagedProductColumns = `id, session_id, staged_supplier_id, name, brand, unit, specification, confidence`

func scanStagedProduct(row scannable) (model.StagedProduct, error) {
	var p model.StagedProduct
	err := row.Scan(&p.ID, &p.SessionID, &p.StagedSupplierID, &p.Name, &p.Brand, &p.Unit, &p.Specification, &p.Confidence)
	return p, err
}

// FindStagedProduct looks up a session's product by normalized name.
func (tx *Tx) FindStagedProduct(ctx context.Context, sessionID, normalizedName string) (*model.StagedProduct, error) {
	p, err := scanStagedProduct(tx.q.queryRow(ctx,
		`SELECT `+stagedProductColumns+` FROM staged_products WHERE session_id = $1 AND normalized_name = $2 ORDER BY id LIMIT 1`,
		sessionID, normalizedName))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: find staged product in %s", sessionID)
	}
	return &p, nil
}

// InsertStagedProduct inserts p and sets its ID.
func (tx *Tx) InsertStagedProduct(ctx context.Context, p *model.StagedProduct, normalizedName string) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO staged_products (session_id, staged_supplier_id, name, normalized_name, brand, unit, specification, confidence)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.SessionID, p.StagedSupplierID, p.Name, normalizedName, p.Brand, p.Unit, p.Specification, p.Confidence,
	).Scan(&p.ID)
	return eris.Wrap(err, "store: insert staged product")
}

// UpdateStagedProduct rewrites the descriptive fields of p.
func (tx *Tx) UpdateStagedProduct(ctx context.Context, p *model.StagedProduct) error {
	n, err := tx.q.exec(ctx,
		`UPDATE staged_products SET brand = $1, unit = $2, specification = $3, confidence = $4 WHERE id = $5`,
		p.Brand, p.Unit, p.Specification, p.Confidence, p.ID)
	if err != nil {
		return eris.Wrapf(err, "store: update staged product %d", p.ID)
	}
	return checkAffected(n, "staged product", p.ID)
}

// ListStagedProducts returns a session's products in staging order.
func (tx *Tx) ListStagedProducts(ctx context.Context, sessionID string) ([]model.StagedProduct, error) {
	rows, err := tx.q.query(ctx, `SELECT `+stagedProductColumns+` FROM staged_products WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list staged products %s", sessionID)
	}
	out, err := collect(rows, scanStagedProduct)
	return out, eris.Wrapf(err, "store: scan staged products %s", sessionID)
}

// --- staged prices ---

const stagedPriceColumns = `id, session_id, staged_supplier_id, staged_product_id, CAST(unit_price AS TEXT), CAST(quantity AS TEXT), unit, currency, invoice_date`

func scanStagedPrice(row scannable) (model.StagedPrice, error) {
	var p model.StagedPrice
	var price, qty string
	if err := row.Scan(&p.ID, &p.SessionID, &p.StagedSupplierID, &p.StagedProductID, &price, &qty, &p.Unit, &p.Currency, &p.InvoiceDate); err != nil {
		return p, err
	}
	var err error
	if p.UnitPrice, err = parseDec(price); err != nil {
		return p, err
	}
	p.Quantity, err = parseDec(qty)
	return p, err
}

// InsertStagedPrice inserts p and sets its ID.
func (tx *Tx) InsertStagedPrice(ctx context.Context, p *model.StagedPrice) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO staged_prices (session_id, staged_supplier_id, staged_product_id, unit_price, quantity, unit, currency, invoice_date)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.SessionID, p.StagedSupplierID, p.StagedProductID, decArg(p.UnitPrice), decArg(p.Quantity), p.Unit, p.Currency, p.InvoiceDate,
	).Scan(&p.ID)
	return eris.Wrap(err, "store: insert staged price")
}

// ListStagedPrices returns a session's line items ordered by invoice date.
func (tx *Tx) ListStagedPrices(ctx context.Context, sessionID string) ([]model.StagedPrice, error) {
	rows, err := tx.q.query(ctx, `SELECT `+stagedPriceColumns+` FROM staged_prices WHERE session_id = $1 ORDER BY invoice_date, id`, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list staged prices %s", sessionID)
	}
	out, err := collect(rows, scanStagedPrice)
	return out, eris.Wrapf(err, "store: scan staged prices %s", sessionID)
}

// --- staged preferences ---

// InsertStagedPreference inserts p and sets its ID.
func (tx *Tx) InsertStagedPreference(ctx context.Context, p *model.StagedPreference) error {
	err := tx.q.queryRow(ctx,
		`INSERT INTO staged_preferences (session_id, staged_product_id, dimension, value, origin)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		p.SessionID, p.StagedProductID, string(p.Value.Dimension), p.Value.Text(), string(p.Origin),
	).Scan(&p.ID)
	return eris.Wrap(err, "store: insert staged preference")
}

// ListStagedPreferences returns a session's preference candidates in staging order.
func (tx *Tx) ListStagedPreferences(ctx context.Context, sessionID string) ([]model.StagedPreference, error) {
	rows, err := tx.q.query(ctx,
		`SELECT id, session_id, staged_product_id, dimension, value, origin FROM staged_preferences WHERE session_id = $1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "store: list staged preferences %s", sessionID)
	}
	out, err := collect(rows, func(row scannable) (model.StagedPreference, error) {
		var p model.StagedPreference
		var dim, text, origin string
		if err := row.Scan(&p.ID, &p.SessionID, &p.StagedProductID, &dim, &text, &origin); err != nil {
			return p, err
		}
		v, err := model.ParseValue(model.Dimension(dim), text)
		if err != nil {
			return p, err
		}
		p.Value = v
		p.Origin = model.PreferenceOrigin(origin)
		return p, nil
	})
	return out, eris.Wrapf(err, "store: scan staged preferences %s", sessionID)
}

// DeleteStagedPreference removes one candidate.
func (tx *Tx) DeleteStagedPreference(ctx context.Context, id int64) error {
	_, err := tx.q.exec(ctx, `DELETE FROM staged_preferences WHERE id = $1`, id)
	return eris.Wrapf(err, "store: delete staged preference %d", id)
}

// StagedCounts returns how many products, prices and preference candidates
// a session holds.
func (tx *Tx) StagedCounts(ctx context.Context, sessionID string) (products, prices, preferences int, err error) {
	err = tx.q.queryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM staged_products WHERE session_id = $1),
			(SELECT COUNT(*) FROM staged_prices WHERE session_id = $1),
			(SELECT COUNT(*) FROM staged_preferences WHERE session_id = $1)`,
		sessionID).Scan(&products, &prices, &preferences)
	return products, prices, preferences, eris.Wrapf(err, "store: staged counts %s", sessionID)
}
