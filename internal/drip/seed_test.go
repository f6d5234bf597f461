package drip

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frepi/frepi-core/internal/model"
)

func spends(values ...int64) []model.ProductSpend {
	out := make([]model.ProductSpend, len(values))
	for i, v := range values {
		out[i] = model.ProductSpend{ProductID: int64(100 + i), Spend: decimal.NewFromInt(v), Order: int64(i)}
	}
	return out
}

func TestSeedCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n        int
		fraction float64
		want     int
	}{
		{0, 0.2, 0},
		{1, 0.2, 1},
		{3, 0.2, 1},
		{5, 0.2, 1},
		{6, 0.2, 2},
		{10, 0.2, 2},
		{11, 0.2, 3},
		{100, 0.2, 20},
		{10, 0, 2},
		{10, 1, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeedCount(tt.n, tt.fraction), "n=%d fraction=%v", tt.n, tt.fraction)
	}
}

func TestPlan_TopBySpendWithTiers(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// 15 products -> 3 queued: one per tier.
	items := Plan(7, spends(5, 90, 10, 70, 1, 2, 3, 4, 6, 7, 8, 9, 11, 12, 80), 0.2, at)
	require.Len(t, items, 3)

	assert.Equal(t, int64(101), items[0].ProductID)
	assert.Equal(t, model.TierHead, items[0].Tier)
	assert.Equal(t, int64(114), items[1].ProductID)
	assert.Equal(t, model.TierMidTail, items[1].Tier)
	assert.Equal(t, int64(103), items[2].ProductID)
	assert.Equal(t, model.TierLongTail, items[2].Tier)

	for i, it := range items {
		assert.Equal(t, i, it.Position)
		assert.Equal(t, int64(7), it.EntityID)
		assert.Equal(t, model.QueuePending, it.Status)
		assert.Equal(t, at, it.CreatedAt)
	}
}

func TestPlan_TierSplit(t *testing.T) {
	t.Parallel()

	tiers := func(items []model.QueueItem) []model.Tier {
		out := make([]model.Tier, len(items))
		for i, it := range items {
			out[i] = it.Tier
		}
		return out
	}
	h, m, l := model.TierHead, model.TierMidTail, model.TierLongTail

	assert.Equal(t, []model.Tier{h}, tiers(Plan(1, spends(1, 2, 3), 0.2, time.Time{})))
	assert.Equal(t, []model.Tier{h, m}, tiers(Plan(1, spends(1, 2, 3, 4, 5, 6, 7, 8, 9, 10), 0.2, time.Time{})))
	assert.Equal(t, []model.Tier{h, h, m, m, l}, tiers(Plan(1, spends(1, 2, 3, 4, 5), 1, time.Time{})))
	assert.Equal(t, []model.Tier{h, h, m, m, l, l}, tiers(Plan(1, spends(1, 2, 3, 4, 5, 6), 1, time.Time{})))
	assert.Nil(t, Plan(1, nil, 0.2, time.Time{}))
}

func TestPlan_EqualSpendKeepsStagedOrder(t *testing.T) {
	t.Parallel()

	in := []model.ProductSpend{
		{ProductID: 30, Spend: decimal.NewFromInt(50), Order: 3},
		{ProductID: 10, Spend: decimal.NewFromInt(50), Order: 1},
		{ProductID: 20, Spend: decimal.NewFromInt(50), Order: 2},
	}
	items := Plan(1, in, 1, time.Time{})
	require.Len(t, items, 3)
	assert.Equal(t, []int64{10, 20, 30}, []int64{items[0].ProductID, items[1].ProductID, items[2].ProductID})

	// Input order does not matter.
	again := Plan(1, []model.ProductSpend{in[2], in[0], in[1]}, 1, time.Time{})
	assert.Equal(t, items, again)
}
