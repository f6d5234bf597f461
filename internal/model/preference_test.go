package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dim     Dimension
		text    string
		want    Value
		wantErr bool
	}{
		{"brand", DimensionBrand, " Sadia ", BrandValue("Sadia"), false},
		{"max price", DimensionMaxPrice, "42.50", MaxPriceValue(decimal.RequireFromString("42.50")), false},
		{"max price not a number", DimensionMaxPrice, "cheap", Value{}, true},
		{"max price zero", DimensionMaxPrice, "0", Value{}, true},
		{"quality", DimensionQuality, "Premium", QualityValue(QualityPremium), false},
		{"quality unknown", DimensionQuality, "gold", Value{}, true},
		{"terms with days", DimensionPaymentTerms, "boleto:28", PaymentTermsValue(PaymentTerms{Method: "boleto", NetDays: 28}), false},
		{"terms bad days", DimensionPaymentTerms, "boleto:soon", Value{}, true},
		{"empty specification", DimensionSpecification, "  ", Value{}, true},
		{"unknown dimension", Dimension("color"), "red", Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseValue(tt.dim, tt.text)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %+v", got)
		})
	}
}

func TestValue_TextRoundTrip(t *testing.T) {
	t.Parallel()

	for _, v := range []Value{
		BrandValue("Italac"),
		MaxPriceValue(decimal.RequireFromString("19.9")),
		QualityValue(QualityStandard),
		SpecificationValue("tipo 1, 5kg"),
		PaymentTermsValue(PaymentTerms{Method: "pix"}),
	} {
		back, err := ParseValue(v.Dimension, v.Text())
		require.NoError(t, err)
		assert.True(t, v.Equal(back), "dimension %s", v.Dimension)
	}
}

func TestPreference_SetAndLookup(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p := &Preference{EntityID: 1, ProductID: 2}
	assert.True(t, p.Empty())

	p.Set(BrandValue("Camil"), Provenance{Source: SourceDrip, Actor: "chat:1", At: at})
	p.Set(MaxPriceValue(decimal.NewFromInt(30)), Provenance{Source: SourceInvoiceExtraction, At: at})

	v, prov, ok := p.Lookup(DimensionBrand)
	require.True(t, ok)
	assert.Equal(t, "Camil", v.Brand)
	assert.Equal(t, SourceDrip, prov.Source)

	assert.True(t, p.HeldAtLeast(DimensionBrand, SourceDrip))
	assert.False(t, p.HeldAtLeast(DimensionMaxPrice, SourceDrip))
	assert.False(t, p.HeldAtLeast(DimensionQuality, SourceInferred))
	assert.False(t, p.Empty())
}

func TestPreferenceOrigin_Source(t *testing.T) {
	t.Parallel()

	s, err := OriginUserStated.Source()
	require.NoError(t, err)
	assert.Equal(t, SourceUserStated, s)

	s, err = OriginInvoiceExtraction.Source()
	require.NoError(t, err)
	assert.Equal(t, SourceInvoiceExtraction, s)

	_, err = PreferenceOrigin("hearsay").Source()
	assert.True(t, IsValidation(err))
}
