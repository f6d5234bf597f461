package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PreferenceOrigin says how a staged preference candidate was obtained.
type PreferenceOrigin string

// Preference candidate origins.
const (
	OriginInvoiceExtraction PreferenceOrigin = "invoice_extraction"
	OriginUserStated        PreferenceOrigin = "user_stated"
	OriginInferred          PreferenceOrigin = "inferred"
)

// Source maps a candidate origin onto the preference source ranking.
func (o PreferenceOrigin) Source() (Source, error) {
	switch o {
	case OriginInvoiceExtraction:
		return SourceInvoiceExtraction, nil
	case OriginUserStated:
		return SourceUserStated, nil
	case OriginInferred:
		return SourceInferred, nil
	}
	return 0, NewValidationError("origin", "unknown preference origin %q", string(o))
}

// StagedSupplier is a supplier mention consolidated across a session's invoices.
type StagedSupplier struct {
	ID           int64           `json:"id"`
	SessionID    string          `json:"session_id"`
	Name         string          `json:"name"`
	TaxID        string          `json:"tax_id,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	Email        string          `json:"email,omitempty"`
	City         string          `json:"city,omitempty"`
	Address      string          `json:"address,omitempty"`
	Confidence   float64         `json:"confidence"`
	InvoiceCount int             `json:"invoice_count"`
	TotalSpend   decimal.Decimal `json:"total_spend"`
}

// StagedProduct is a product mention consolidated by name within a session.
type StagedProduct struct {
	ID               int64   `json:"id"`
	SessionID        string  `json:"session_id"`
	StagedSupplierID *int64  `json:"staged_supplier_id,omitempty"`
	Name             string  `json:"name"`
	Brand            string  `json:"brand,omitempty"`
	Unit             string  `json:"unit,omitempty"`
	Specification    string  `json:"specification,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// StagedPrice is one invoice line item.
type StagedPrice struct {
	ID               int64           `json:"id"`
	SessionID        string          `json:"session_id"`
	StagedSupplierID int64           `json:"staged_supplier_id"`
	StagedProductID  int64           `json:"staged_product_id"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Quantity         decimal.Decimal `json:"quantity"`
	Unit             string          `json:"unit,omitempty"`
	Currency         string          `json:"currency"`
	InvoiceDate      time.Time       `json:"invoice_date"`
}

// Spend is quantity times unit price.
func (p StagedPrice) Spend() decimal.Decimal {
	return p.Quantity.Mul(p.UnitPrice)
}

// StagedPreference is a preference candidate awaiting commit.
type StagedPreference struct {
	ID              int64            `json:"id"`
	SessionID       string           `json:"session_id"`
	StagedProductID int64            `json:"staged_product_id"`
	Value           Value            `json:"value"`
	Origin          PreferenceOrigin `json:"origin"`
}

// Extraction is the structured result of reading one invoice. It comes from
// an untrusted collaborator and must pass validation before staging.
type Extraction struct {
	SupplierName    string           `json:"supplier_name" yaml:"supplier_name" validate:"required,max=200"`
	TaxID           string           `json:"tax_id,omitempty" yaml:"tax_id" validate:"omitempty,max=32"`
	Phone           string           `json:"phone,omitempty" yaml:"phone" validate:"omitempty,max=40"`
	Email           string           `json:"email,omitempty" yaml:"email" validate:"omitempty,email"`
	City            string           `json:"city,omitempty" yaml:"city" validate:"omitempty,max=120"`
	Address         string           `json:"address,omitempty" yaml:"address" validate:"omitempty,max=300"`
	InvoiceDate     string           `json:"invoice_date" yaml:"invoice_date" validate:"required,datetime=2006-01-02"`
	Currency        string           `json:"currency,omitempty" yaml:"currency" validate:"omitempty,len=3"`
	Items           []ExtractionItem `json:"items" yaml:"items" validate:"required,min=1,dive"`
	TotalAmount     string           `json:"total_amount,omitempty" yaml:"total_amount" validate:"omitempty,numeric"`
	ConfidenceScore float64          `json:"confidence_score" yaml:"confidence_score" validate:"gte=0,lte=1"`
}

// ExtractionItem is one invoice line.
type ExtractionItem struct {
	ProductName   string `json:"product_name" yaml:"product_name" validate:"required,max=200"`
	Brand         string `json:"brand,omitempty" yaml:"brand" validate:"omitempty,max=120"`
	Specification string `json:"specification,omitempty" yaml:"specification" validate:"omitempty,max=300"`
	Quantity      string `json:"quantity" yaml:"quantity" validate:"required,numeric"`
	Unit          string `json:"unit" yaml:"unit" validate:"required,max=20"`
	UnitPrice     string `json:"unit_price" yaml:"unit_price" validate:"required,numeric"`
}

// StagedCandidate is a preference candidate supplied alongside invoices,
// keyed by product name.
type StagedCandidate struct {
	ProductName string           `json:"product_name" yaml:"product_name" validate:"required"`
	Dimension   Dimension        `json:"dimension" yaml:"dimension" validate:"required"`
	Value       string           `json:"value" yaml:"value" validate:"required"`
	Origin      PreferenceOrigin `json:"origin" yaml:"origin" validate:"required,oneof=invoice_extraction user_stated inferred"`
}

// SessionSummary aggregates what a session has staged so far.
type SessionSummary struct {
	Session     Session          `json:"session"`
	Suppliers   []StagedSupplier `json:"suppliers"`
	Products    int              `json:"products"`
	Prices      int              `json:"prices"`
	Preferences int              `json:"preferences"`
	TotalSpend  decimal.Decimal  `json:"total_spend"`
}
