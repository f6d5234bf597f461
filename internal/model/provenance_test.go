package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_TotalOrder(t *testing.T) {
	t.Parallel()

	ordered := []Source{
		SourceInferred,
		SourceInvoiceExtraction,
		SourceDrip,
		SourceUserStated,
		SourceUserCorrection,
	}
	for i, lo := range ordered {
		for j, hi := range ordered {
			switch {
			case i < j:
				assert.True(t, hi.Outranks(lo), "%s should outrank %s", hi, lo)
				assert.Equal(t, -1, lo.Compare(hi))
			case i == j:
				assert.False(t, hi.Outranks(lo))
				assert.True(t, hi.AtLeast(lo))
				assert.Equal(t, 0, lo.Compare(hi))
			default:
				assert.False(t, hi.Outranks(lo))
				assert.Equal(t, 1, lo.Compare(hi))
			}
		}
	}
}

func TestParseSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Source
		wantErr bool
	}{
		{"drip", SourceDrip, false},
		{" USER_CORRECTION ", SourceUserCorrection, false},
		{"invoice_extraction", SourceInvoiceExtraction, false},
		{"gossip", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSource(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSource_JSONUsesNames(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Provenance{Source: SourceUserStated, Actor: "chat:42"})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"source":"user_stated"`)

	var p Provenance
	require.NoError(t, json.Unmarshal(b, &p))
	assert.Equal(t, SourceUserStated, p.Source)
}

func TestSource_UnknownString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unknown", Source(99).String())
	assert.False(t, Source(0).Valid())
}
