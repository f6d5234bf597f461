package staging

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/resolve"
	"github.com/frepi/frepi-core/internal/store"
)

var (
	// varianceLimit is the price spread, in percent of the average, above
	// which the ceiling is taken from the average instead of the maximum.
	varianceLimit = decimal.NewFromInt(20)
	maxMarkup     = decimal.RequireFromString("1.1")
	avgMarkup     = decimal.RequireFromString("1.2")
	hundred       = decimal.NewFromInt(100)
)

// minBrandShare is the fraction of a family's purchases one brand needs to
// count as the restaurant's usual brand.
const minBrandShare = 0.5

// PriceRange summarizes what a session paid for one product.
type PriceRange struct {
	StagedProductID int64           `json:"staged_product_id"`
	Product         string          `json:"product"`
	Unit            string          `json:"unit,omitempty"`
	Min             decimal.Decimal `json:"min"`
	Max             decimal.Decimal `json:"max"`
	Avg             decimal.Decimal `json:"avg"`
	VariancePct     decimal.Decimal `json:"variance_pct"`
	SuggestedMax    decimal.Decimal `json:"suggested_max"`
	Lines           int             `json:"lines"`
}

// BrandShare is the dominant brand within a family of similar products.
type BrandShare struct {
	Family          string  `json:"family"`
	StagedProductID int64   `json:"staged_product_id"`
	Product         string  `json:"product"`
	Brand           string  `json:"brand"`
	Share           float64 `json:"share"`
	Lines           int     `json:"lines"`
}

// Analysis is what a session's invoices imply about the restaurant's
// preferences. Every finding is staged as an inferred candidate.
type Analysis struct {
	SessionID string       `json:"session_id"`
	Prices    []PriceRange `json:"prices"`
	Brands    []BrandShare `json:"brands"`
	Staged    int          `json:"staged"`
}

// Analyze derives price ceilings and dominant brands from an open session's
// staged invoices and stages them as inferred candidates. Running it again
// replaces earlier inferred candidates; stated or extracted ones win.
func (s *Service) Analyze(ctx context.Context, id string) (*Analysis, error) {
	var a *Analysis
	err := s.store.InTx(ctx, func(tx *store.Tx) error {
		if _, err := requireOpen(ctx, tx, id); err != nil {
			return err
		}
		var err error
		a, err = s.analyze(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) analyze(ctx context.Context, tx *store.Tx, sessionID string) (*Analysis, error) {
	products, err := tx.ListStagedProducts(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	prices, err := tx.ListStagedPrices(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64][]decimal.Decimal)
	for _, p := range prices {
		byProduct[p.StagedProductID] = append(byProduct[p.StagedProductID], p.UnitPrice)
	}

	a := &Analysis{SessionID: sessionID}
	for _, p := range products {
		if r, ok := priceRange(p, byProduct[p.ID]); ok {
			a.Prices = append(a.Prices, r)
		}
	}
	a.Brands = brandShares(products, byProduct)

	derived := make([]model.StagedPreference, 0, len(a.Prices)+len(a.Brands))
	for _, r := range a.Prices {
		derived = append(derived, model.StagedPreference{
			SessionID: sessionID, StagedProductID: r.StagedProductID,
			Value: model.MaxPriceValue(r.SuggestedMax), Origin: model.OriginInferred,
		})
	}
	for _, b := range a.Brands {
		derived = append(derived, model.StagedPreference{
			SessionID: sessionID, StagedProductID: b.StagedProductID,
			Value: model.BrandValue(b.Brand), Origin: model.OriginInferred,
		})
	}
	if a.Staged, err = stageInferred(ctx, tx, sessionID, derived); err != nil {
		return nil, err
	}
	s.log.Debug("session analyzed",
		zap.String("session_id", sessionID),
		zap.Int("price_ranges", len(a.Prices)),
		zap.Int("brands", len(a.Brands)),
		zap.Int("staged", a.Staged))
	return a, nil
}

// priceRange suggests a ceiling of the maximum plus 10%, or the average plus
// 20% when prices spread more than varianceLimit.
func priceRange(p model.StagedProduct, paid []decimal.Decimal) (PriceRange, bool) {
	if len(paid) == 0 {
		return PriceRange{}, false
	}
	r := PriceRange{StagedProductID: p.ID, Product: p.Name, Unit: p.Unit, Min: paid[0], Max: paid[0], Lines: len(paid)}
	sum := decimal.Zero
	for _, d := range paid {
		r.Min = decimal.Min(r.Min, d)
		r.Max = decimal.Max(r.Max, d)
		sum = sum.Add(d)
	}
	r.Avg = sum.Div(decimal.NewFromInt(int64(len(paid))))
	if r.Avg.IsPositive() {
		r.VariancePct = r.Max.Sub(r.Min).Div(r.Avg).Mul(hundred).Round(1)
	}
	if r.VariancePct.GreaterThan(varianceLimit) {
		r.SuggestedMax = r.Avg.Mul(avgMarkup).Round(2)
	} else {
		r.SuggestedMax = r.Max.Mul(maxMarkup).Round(2)
	}
	r.Avg = r.Avg.Round(2)
	return r, r.SuggestedMax.IsPositive()
}

// productFamily groups products by the first two words of their canonical
// name, so "Arroz Branco 5kg" and "Arroz Branco Integral" compare brands.
func productFamily(name string) string {
	words := strings.Fields(resolve.CanonicalKey(name))
	if len(words) > 2 {
		words = words[:2]
	}
	return strings.Join(words, " ")
}

// brandShares finds, per family of at least two branded products, the brand
// bought on at least half of the family's lines.
func brandShares(products []model.StagedProduct, lines map[int64][]decimal.Decimal) []BrandShare {
	type family struct {
		name     string
		products []model.StagedProduct
	}
	var order []*family
	families := make(map[string]*family)
	for _, p := range products {
		if strings.TrimSpace(p.Brand) == "" || len(lines[p.ID]) == 0 {
			continue
		}
		key := productFamily(p.Name)
		if key == "" {
			continue
		}
		f, ok := families[key]
		if !ok {
			f = &family{name: key}
			families[key] = f
			order = append(order, f)
		}
		f.products = append(f.products, p)
	}

	var out []BrandShare
	for _, f := range order {
		if len(f.products) < 2 {
			continue
		}
		counts := make(map[string]int)
		first := make(map[string]model.StagedProduct)
		var brands []string
		total := 0
		for _, p := range f.products {
			brand := strings.ToUpper(strings.TrimSpace(p.Brand))
			if _, ok := first[brand]; !ok {
				first[brand] = p
				brands = append(brands, brand)
			}
			counts[brand] += len(lines[p.ID])
			total += len(lines[p.ID])
		}
		sort.SliceStable(brands, func(i, j int) bool { return counts[brands[i]] > counts[brands[j]] })
		top := brands[0]
		share := float64(counts[top]) / float64(total)
		if share < minBrandShare {
			continue
		}
		p := first[top]
		out = append(out, BrandShare{
			Family:          f.name,
			StagedProductID: p.ID,
			Product:         p.Name,
			Brand:           strings.TrimSpace(p.Brand),
			Share:           share,
			Lines:           counts[top],
		})
	}
	return out
}

// stageInferred writes derived candidates. A product and dimension that
// already has a stated or extracted candidate is left alone; earlier
// inferred candidates are replaced.
func stageInferred(ctx context.Context, tx *store.Tx, sessionID string, derived []model.StagedPreference) (int, error) {
	type slot struct {
		product   int64
		dimension model.Dimension
	}
	existing, err := tx.ListStagedPreferences(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	held := make(map[slot]bool)
	inferred := make(map[slot][]model.StagedPreference)
	for _, p := range existing {
		k := slot{p.StagedProductID, p.Value.Dimension}
		if p.Origin == model.OriginInferred {
			inferred[k] = append(inferred[k], p)
		} else {
			held[k] = true
		}
	}

	staged := 0
	for i := range derived {
		d := &derived[i]
		k := slot{d.StagedProductID, d.Value.Dimension}
		if held[k] {
			continue
		}
		kept := false
		for _, old := range inferred[k] {
			if !kept && old.Value.Equal(d.Value) {
				kept = true
				continue
			}
			if err := tx.DeleteStagedPreference(ctx, old.ID); err != nil {
				return staged, err
			}
		}
		if kept {
			continue
		}
		if err := tx.InsertStagedPreference(ctx, d); err != nil {
			return staged, err
		}
		staged++
	}
	return staged, nil
}
