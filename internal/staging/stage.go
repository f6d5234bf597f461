package staging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/resolve"
	"github.com/frepi/frepi-core/internal/store"
)

// totalTolerance is how far an invoice's stated total may drift from the
// sum of its lines before a warning is logged.
var totalTolerance = decimal.RequireFromString("0.01")

// StageResult describes what one invoice added to a session.
type StageResult struct {
	StagedSupplierID int64           `json:"staged_supplier_id"`
	NewSupplier      bool            `json:"new_supplier"`
	ProductIDs       []int64         `json:"staged_product_ids"`
	NewProducts      int             `json:"new_products"`
	Lines            int             `json:"lines"`
	Spend            decimal.Decimal `json:"spend"`
}

type line struct {
	item      model.ExtractionItem
	quantity  decimal.Decimal
	unitPrice decimal.Decimal
}

// parseExtraction validates an untrusted extraction and converts its
// numbers and date.
func (s *Service) parseExtraction(ex *model.Extraction) (time.Time, string, []line, error) {
	if err := model.Validate(ex); err != nil {
		return time.Time{}, "", nil, err
	}
	if ex.ConfidenceScore < s.cfg.MinConfidence {
		return time.Time{}, "", nil, model.NewValidationError("confidence_score",
			"extraction confidence %.2f is below %.2f", ex.ConfidenceScore, s.cfg.MinConfidence)
	}
	date, err := time.Parse(time.DateOnly, ex.InvoiceDate)
	if err != nil {
		return time.Time{}, "", nil, model.NewValidationError("invoice_date", "%q is not a date", ex.InvoiceDate)
	}
	currency := strings.ToUpper(strings.TrimSpace(ex.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}

	lines := make([]line, len(ex.Items))
	for i, it := range ex.Items {
		field := fmt.Sprintf("items[%d]", i)
		qty, err := decimal.NewFromString(it.Quantity)
		if err != nil || !qty.IsPositive() {
			return time.Time{}, "", nil, model.NewValidationError(field+".quantity", "quantity must be a positive number, got %q", it.Quantity)
		}
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil || !price.IsPositive() {
			return time.Time{}, "", nil, model.NewValidationError(field+".unit_price", "unit price must be a positive number, got %q", it.UnitPrice)
		}
		if resolve.CanonicalKey(it.ProductName) == "" {
			return time.Time{}, "", nil, model.NewValidationError(field+".product_name", "product name %q is empty after normalization", it.ProductName)
		}
		lines[i] = line{item: it, quantity: qty, unitPrice: price}
	}
	return date, currency, lines, nil
}

// StageExtraction adds one invoice to an open session. Suppliers are
// consolidated by tax id, then normalized name; products by normalized name.
func (s *Service) StageExtraction(ctx context.Context, sessionID string, ex *model.Extraction) (*StageResult, error) {
	date, currency, lines, err := s.parseExtraction(ex)
	if err != nil {
		return nil, err
	}
	taxID := resolve.NormalizeTaxID(ex.TaxID)
	normName := resolve.NormalizeName(ex.SupplierName)
	if normName == "" {
		return nil, model.NewValidationError("supplier_name", "supplier name %q is empty after normalization", ex.SupplierName)
	}

	res := &StageResult{Lines: len(lines)}
	for _, l := range lines {
		res.Spend = res.Spend.Add(l.quantity.Mul(l.unitPrice))
	}
	if ex.TotalAmount != "" {
		if total, err := decimal.NewFromString(ex.TotalAmount); err == nil && total.Sub(res.Spend).Abs().GreaterThan(totalTolerance) {
			s.log.Warn("invoice total does not match its lines",
				zap.String("session_id", sessionID),
				zap.String("supplier", ex.SupplierName),
				zap.String("stated", total.String()),
				zap.String("computed", res.Spend.String()),
			)
		}
	}

	err = s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := requireOpen(ctx, tx, sessionID); err != nil {
			return err
		}
		sup, created, err := s.stageSupplier(ctx, tx, sessionID, ex, taxID, normName, res.Spend)
		if err != nil {
			return err
		}
		res.StagedSupplierID, res.NewSupplier = sup.ID, created

		for _, l := range lines {
			prod, created, err := s.stageProduct(ctx, tx, sessionID, sup.ID, l.item, ex.ConfidenceScore)
			if err != nil {
				return err
			}
			if created {
				res.NewProducts++
			}
			res.ProductIDs = append(res.ProductIDs, prod.ID)
			if err := tx.InsertStagedPrice(ctx, &model.StagedPrice{
				SessionID:        sessionID,
				StagedSupplierID: sup.ID,
				StagedProductID:  prod.ID,
				UnitPrice:        l.unitPrice,
				Quantity:         l.quantity,
				Unit:             strings.TrimSpace(l.item.Unit),
				Currency:         currency,
				InvoiceDate:      date,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice staged",
		zap.String("session_id", sessionID),
		zap.String("supplier", ex.SupplierName),
		zap.Bool("new_supplier", res.NewSupplier),
		zap.Int("lines", res.Lines),
		zap.Int("new_products", res.NewProducts),
		zap.String("spend", res.Spend.String()),
	)
	return res, nil
}

func (s *Service) stageSupplier(ctx context.Context, tx *store.Tx, sessionID string, ex *model.Extraction, taxID, normName string, spend decimal.Decimal) (*model.StagedSupplier, bool, error) {
	sup, err := tx.FindStagedSupplier(ctx, sessionID, taxID, normName)
	if err != nil {
		return nil, false, err
	}
	if sup == nil {
		sup = &model.StagedSupplier{
			SessionID:    sessionID,
			Name:         strings.TrimSpace(ex.SupplierName),
			TaxID:        taxID,
			Phone:        strings.TrimSpace(ex.Phone),
			Email:        strings.TrimSpace(ex.Email),
			City:         strings.TrimSpace(ex.City),
			Address:      strings.TrimSpace(ex.Address),
			Confidence:   ex.ConfidenceScore,
			InvoiceCount: 1,
			TotalSpend:   spend,
		}
		return sup, true, tx.InsertStagedSupplier(ctx, sup, normName)
	}

	sup.TaxID = firstNonEmpty(sup.TaxID, taxID)
	sup.Phone = firstNonEmpty(sup.Phone, strings.TrimSpace(ex.Phone))
	sup.Email = firstNonEmpty(sup.Email, strings.TrimSpace(ex.Email))
	sup.City = firstNonEmpty(sup.City, strings.TrimSpace(ex.City))
	sup.Address = firstNonEmpty(sup.Address, strings.TrimSpace(ex.Address))
	sup.Confidence = max(sup.Confidence, ex.ConfidenceScore)
	sup.InvoiceCount++
	sup.TotalSpend = sup.TotalSpend.Add(spend)
	return sup, false, tx.UpdateStagedSupplier(ctx, sup)
}

func (s *Service) stageProduct(ctx context.Context, tx *store.Tx, sessionID string, supplierID int64, it model.ExtractionItem, confidence float64) (*model.StagedProduct, bool, error) {
	key := resolve.CanonicalKey(it.ProductName)
	prod, err := tx.FindStagedProduct(ctx, sessionID, key)
	if err != nil {
		return nil, false, err
	}
	if prod == nil {
		prod = &model.StagedProduct{
			SessionID:        sessionID,
			StagedSupplierID: &supplierID,
			Name:             strings.TrimSpace(it.ProductName),
			Brand:            strings.TrimSpace(it.Brand),
			Unit:             strings.TrimSpace(it.Unit),
			Specification:    strings.TrimSpace(it.Specification),
			Confidence:       confidence,
		}
		return prod, true, tx.InsertStagedProduct(ctx, prod, key)
	}
	prod.Brand = firstNonEmpty(prod.Brand, strings.TrimSpace(it.Brand))
	prod.Unit = firstNonEmpty(prod.Unit, strings.TrimSpace(it.Unit))
	prod.Specification = firstNonEmpty(prod.Specification, strings.TrimSpace(it.Specification))
	prod.Confidence = max(prod.Confidence, confidence)
	return prod, false, tx.UpdateStagedProduct(ctx, prod)
}

// StageCandidates adds preference candidates for products already staged in
// the session. It returns how many were staged.
func (s *Service) StageCandidates(ctx context.Context, sessionID string, cands []model.StagedCandidate) (int, error) {
	type parsed struct {
		key    string
		value  model.Value
		origin model.PreferenceOrigin
	}
	in := make([]parsed, 0, len(cands))
	for i, c := range cands {
		if err := model.Validate(c); err != nil {
			return 0, err
		}
		dim, err := model.ParseDimension(string(c.Dimension))
		if err != nil {
			return 0, err
		}
		v, err := model.ParseValue(dim, c.Value)
		if err != nil {
			return 0, err
		}
		if _, err := c.Origin.Source(); err != nil {
			return 0, err
		}
		key := resolve.CanonicalKey(c.ProductName)
		if key == "" {
			return 0, model.NewValidationError(fmt.Sprintf("preferences[%d].product_name", i), "product name is empty")
		}
		in = append(in, parsed{key: key, value: v, origin: c.Origin})
	}

	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := requireOpen(ctx, tx, sessionID); err != nil {
			return err
		}
		for i, p := range in {
			prod, err := tx.FindStagedProduct(ctx, sessionID, p.key)
			if err != nil {
				return err
			}
			if prod == nil {
				return model.NewValidationError(fmt.Sprintf("preferences[%d].product_name", i),
					"product %q is not staged in session %s", cands[i].ProductName, sessionID)
			}
			if err := tx.InsertStagedPreference(ctx, &model.StagedPreference{
				SessionID:       sessionID,
				StagedProductID: prod.ID,
				Value:           p.value,
				Origin:          p.origin,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(in), nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
