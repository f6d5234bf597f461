package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entity is the customer (a restaurant) that owns a catalog and preferences.
type Entity struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	City                string     `json:"city,omitempty"`
	Type                string     `json:"type,omitempty"`
	OnboardingSessionID string     `json:"onboarding_session_id,omitempty"`
	IsActive            bool       `json:"is_active"`
	HaltedAt            *time.Time `json:"halted_at,omitempty"`
	HaltReason          string     `json:"halt_reason,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Halted reports whether processing for the entity is suspended.
func (e *Entity) Halted() bool { return e.HaltedAt != nil }

// Contact links a chat identity to an entity.
type Contact struct {
	ID        int64     `json:"id"`
	EntityID  int64     `json:"entity_id"`
	ChatID    int64     `json:"chat_id"`
	FullName  string    `json:"full_name"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
}

// Supplier is a canonical supplier shared across entities.
type Supplier struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	TaxID          string     `json:"tax_id,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	Email          string     `json:"email,omitempty"`
	City           string     `json:"city,omitempty"`
	Address        string     `json:"address,omitempty"`
	IsActive       bool       `json:"is_active"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Product is an entity's master-list entry. The embedding is written once.
type Product struct {
	ID            int64     `json:"id"`
	EntityID      int64     `json:"entity_id"`
	Name          string    `json:"name"`
	CanonicalKey  string    `json:"canonical_key"`
	Brand         string    `json:"brand,omitempty"`
	Unit          string    `json:"unit,omitempty"`
	Specification string    `json:"specification,omitempty"`
	Embedding     []float32 `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// EmbeddingText is the text sent to the embedding service for p.
func (p *Product) EmbeddingText() string {
	text := p.Name
	if p.Brand != "" {
		text += " " + p.Brand
	}
	if p.Specification != "" {
		text += " " + p.Specification
	}
	return text
}

// MatchMethod records how a supplier-product mapping was established.
type MatchMethod string

// Mapping methods.
const (
	MatchOnboarding MatchMethod = "onboarding"
	MatchManual     MatchMethod = "manual"
)

// SupplierProduct maps a supplier to a catalog product.
type SupplierProduct struct {
	ID                  int64               `json:"id"`
	SupplierID          int64               `json:"supplier_id"`
	ProductID           int64               `json:"product_id"`
	SupplierProductName string              `json:"supplier_product_name"`
	Method              MatchMethod         `json:"method"`
	Confidence          float64             `json:"confidence"`
	CurrentUnitPrice    decimal.NullDecimal `json:"current_unit_price"`
	PriceUpdatedAt      *time.Time          `json:"price_updated_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
}

// PriceSource records who reported a price.
type PriceSource string

// Price sources.
const (
	PriceFromInvoice  PriceSource = "invoice"
	PriceFromSupplier PriceSource = "supplier"
	PriceFromUser     PriceSource = "user"
)

// PriceRecord is a temporally versioned price for a supplier-product pair.
// A nil EffectiveTo marks the currently open record.
type PriceRecord struct {
	ID            int64           `json:"id"`
	SupplierID    int64           `json:"supplier_id"`
	ProductID     int64           `json:"product_id"`
	MappingID     int64           `json:"mapping_id"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Unit          string          `json:"unit,omitempty"`
	Currency      string          `json:"currency"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   *time.Time      `json:"effective_to,omitempty"`
	Source        PriceSource     `json:"source"`
}

// Open reports whether the record is currently in effect.
func (r *PriceRecord) Open() bool { return r.EffectiveTo == nil }

// CorrectionEntry is an immutable audit record of a user correction.
type CorrectionEntry struct {
	ID        int64     `json:"id"`
	EntityID  int64     `json:"entity_id"`
	ProductID int64     `json:"product_id"`
	Dimension Dimension `json:"dimension"`
	OldValue  string    `json:"old_value,omitempty"`
	NewValue  string    `json:"new_value"`
	Reason    string    `json:"reason,omitempty"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}
