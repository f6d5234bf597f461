package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Dimension is one independently evolving aspect of a product preference.
type Dimension string

// Preference dimensions.
const (
	DimensionBrand         Dimension = "brand"
	DimensionMaxPrice      Dimension = "max_price"
	DimensionQuality       Dimension = "quality"
	DimensionSpecification Dimension = "specification"
	DimensionPaymentTerms  Dimension = "payment_terms"
)

// Dimensions lists every dimension in display order.
var Dimensions = []Dimension{
	DimensionBrand,
	DimensionMaxPrice,
	DimensionQuality,
	DimensionSpecification,
	DimensionPaymentTerms,
}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, error) {
	d := Dimension(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Dimensions {
		if d == known {
			return d, nil
		}
	}
	return "", NewValidationError("dimension", "unknown dimension %q", s)
}

// Quality is the requested quality tier for a product.
type Quality string

// Quality tiers.
const (
	QualityEconomy  Quality = "economy"
	QualityStandard Quality = "standard"
	QualityPremium  Quality = "premium"
)

// PaymentTerms is a preferred payment method with an optional net term.
type PaymentTerms struct {
	Method  string `json:"method"`
	NetDays int    `json:"net_days,omitempty"`
}

func (p PaymentTerms) String() string {
	if p.NetDays > 0 {
		return p.Method + ":" + strconv.Itoa(p.NetDays)
	}
	return p.Method
}

// Value is a tagged preference value. Only the field selected by Dimension
// is meaningful.
type Value struct {
	Dimension     Dimension       `json:"dimension"`
	Brand         string          `json:"brand,omitempty"`
	MaxPrice      decimal.Decimal `json:"max_price"`
	Quality       Quality         `json:"quality,omitempty"`
	Specification string          `json:"specification,omitempty"`
	PaymentTerms  PaymentTerms    `json:"payment_terms"`
}

// BrandValue builds a brand preference value.
func BrandValue(b string) Value { return Value{Dimension: DimensionBrand, Brand: b} }

// MaxPriceValue builds a maximum-price preference value.
func MaxPriceValue(d decimal.Decimal) Value { return Value{Dimension: DimensionMaxPrice, MaxPrice: d} }

// QualityValue builds a quality preference value.
func QualityValue(q Quality) Value { return Value{Dimension: DimensionQuality, Quality: q} }

// SpecificationValue builds a specification preference value.
func SpecificationValue(s string) Value {
	return Value{Dimension: DimensionSpecification, Specification: s}
}

// PaymentTermsValue builds a payment-terms preference value.
func PaymentTermsValue(p PaymentTerms) Value {
	return Value{Dimension: DimensionPaymentTerms, PaymentTerms: p}
}

// ParseValue reads the canonical text form of a value for dimension d.
// Payment terms are written as "method" or "method:days".
func ParseValue(d Dimension, text string) (Value, error) {
	text = strings.TrimSpace(text)
	var v Value
	switch d {
	case DimensionBrand:
		v = BrandValue(text)
	case DimensionMaxPrice:
		amt, err := decimal.NewFromString(text)
		if err != nil {
			return Value{}, NewValidationError(string(d), "not a decimal amount: %q", text)
		}
		v = MaxPriceValue(amt)
	case DimensionQuality:
		v = QualityValue(Quality(strings.ToLower(text)))
	case DimensionSpecification:
		v = SpecificationValue(text)
	case DimensionPaymentTerms:
		method, days, found := strings.Cut(text, ":")
		pt := PaymentTerms{Method: strings.ToLower(strings.TrimSpace(method))}
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(days))
			if err != nil {
				return Value{}, NewValidationError(string(d), "net days must be an integer: %q", days)
			}
			pt.NetDays = n
		}
		v = PaymentTermsValue(pt)
	default:
		return Value{}, NewValidationError("dimension", "unknown dimension %q", string(d))
	}
	if err := v.Validate(); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Text returns the canonical text form accepted by ParseValue.
func (v Value) Text() string {
	switch v.Dimension {
	case DimensionBrand:
		return v.Brand
	case DimensionMaxPrice:
		return v.MaxPrice.String()
	case DimensionQuality:
		return string(v.Quality)
	case DimensionSpecification:
		return v.Specification
	case DimensionPaymentTerms:
		return v.PaymentTerms.String()
	}
	return ""
}

// Validate checks the active field of v.
func (v Value) Validate() error {
	field := string(v.Dimension)
	switch v.Dimension {
	case DimensionBrand:
		if strings.TrimSpace(v.Brand) == "" {
			return NewValidationError(field, "brand is empty")
		}
	case DimensionMaxPrice:
		if !v.MaxPrice.IsPositive() {
			return NewValidationError(field, "maximum price must be positive")
		}
	case DimensionQuality:
		switch v.Quality {
		case QualityEconomy, QualityStandard, QualityPremium:
		default:
			return NewValidationError(field, "unknown quality %q", string(v.Quality))
		}
	case DimensionSpecification:
		if strings.TrimSpace(v.Specification) == "" {
			return NewValidationError(field, "specification is empty")
		}
	case DimensionPaymentTerms:
		if v.PaymentTerms.Method == "" {
			return NewValidationError(field, "payment method is empty")
		}
		if v.PaymentTerms.NetDays < 0 {
			return NewValidationError(field, "net days must not be negative")
		}
	default:
		return NewValidationError("dimension", "unknown dimension %q", field)
	}
	return nil
}

// Equal reports whether two values carry the same dimension and content.
func (v Value) Equal(o Value) bool {
	return v.Dimension == o.Dimension && v.Text() == o.Text()
}

// Entry is one dimension's value with its provenance.
type Entry[T any] struct {
	Value      T          `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// Preference is the merged preference for one (entity, product) pair. Each
// dimension is independently set and carries its own provenance.
type Preference struct {
	EntityID      int64                   `json:"entity_id"`
	ProductID     int64                   `json:"product_id"`
	Brand         *Entry[string]          `json:"brand,omitempty"`
	MaxPrice      *Entry[decimal.Decimal] `json:"max_price,omitempty"`
	Quality       *Entry[Quality]         `json:"quality,omitempty"`
	Specification *Entry[string]          `json:"specification,omitempty"`
	PaymentTerms  *Entry[PaymentTerms]    `json:"payment_terms,omitempty"`
}

// Lookup returns the value and provenance held for d.
func (p *Preference) Lookup(d Dimension) (Value, Provenance, bool) {
	switch d {
	case DimensionBrand:
		if p.Brand != nil {
			return BrandValue(p.Brand.Value), p.Brand.Provenance, true
		}
	case DimensionMaxPrice:
		if p.MaxPrice != nil {
			return MaxPriceValue(p.MaxPrice.Value), p.MaxPrice.Provenance, true
		}
	case DimensionQuality:
		if p.Quality != nil {
			return QualityValue(p.Quality.Value), p.Quality.Provenance, true
		}
	case DimensionSpecification:
		if p.Specification != nil {
			return SpecificationValue(p.Specification.Value), p.Specification.Provenance, true
		}
	case DimensionPaymentTerms:
		if p.PaymentTerms != nil {
			return PaymentTermsValue(p.PaymentTerms.Value), p.PaymentTerms.Provenance, true
		}
	}
	return Value{}, Provenance{}, false
}

// Set stores v with its provenance, replacing whatever was held.
func (p *Preference) Set(v Value, prov Provenance) {
	switch v.Dimension {
	case DimensionBrand:
		p.Brand = &Entry[string]{Value: v.Brand, Provenance: prov}
	case DimensionMaxPrice:
		p.MaxPrice = &Entry[decimal.Decimal]{Value: v.MaxPrice, Provenance: prov}
	case DimensionQuality:
		p.Quality = &Entry[Quality]{Value: v.Quality, Provenance: prov}
	case DimensionSpecification:
		p.Specification = &Entry[string]{Value: v.Specification, Provenance: prov}
	case DimensionPaymentTerms:
		p.PaymentTerms = &Entry[PaymentTerms]{Value: v.PaymentTerms, Provenance: prov}
	}
}

// HeldAtLeast reports whether d is set by a source ranked at or above min.
func (p *Preference) HeldAtLeast(d Dimension, min Source) bool {
	_, prov, ok := p.Lookup(d)
	return ok && prov.Source.AtLeast(min)
}

// Empty reports whether no dimension is set.
func (p *Preference) Empty() bool {
	for _, d := range Dimensions {
		if _, _, ok := p.Lookup(d); ok {
			return false
		}
	}
	return true
}

// PreferenceRow is the stored form of one dimension of a preference.
type PreferenceRow struct {
	EntityID  int64     `json:"entity_id"`
	ProductID int64     `json:"product_id"`
	Dimension Dimension `json:"dimension"`
	Value     string    `json:"value"`
	Source    Source    `json:"source"`
	Actor     string    `json:"actor"`
	UpdatedAt time.Time `json:"updated_at"`
}
