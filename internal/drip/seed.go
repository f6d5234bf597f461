// Package drip manages the preference question queue: which products get
// asked about after onboarding, and how many questions each session carries.
package drip

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/frepi/frepi-core/internal/model"
)

// Plan picks the top fraction of products by spend and assigns tiers by rank
// inside that set. Equal spend keeps the staged order (lower Order first).
// The result is ordered by position.
func Plan(entityID int64, spends []model.ProductSpend, fraction float64, at time.Time) []model.QueueItem {
	if len(spends) == 0 {
		return nil
	}
	ranked := slices.Clone(spends)
	slices.SortStableFunc(ranked, func(a, b model.ProductSpend) int {
		if c := b.Spend.Cmp(a.Spend); c != 0 {
			return c
		}
		return cmp.Compare(a.Order, b.Order)
	})

	k := SeedCount(len(ranked), fraction)
	headEnd := ceilDiv(k, 3)
	midEnd := ceilDiv(2*k, 3)

	items := make([]model.QueueItem, 0, k)
	for i, s := range ranked[:k] {
		tier := model.TierLongTail
		switch {
		case i < headEnd:
			tier = model.TierHead
		case i < midEnd:
			tier = model.TierMidTail
		}
		items = append(items, model.QueueItem{
			EntityID:   entityID,
			ProductID:  s.ProductID,
			Tier:       tier,
			Status:     model.QueuePending,
			Position:   i,
			TotalSpend: s.Spend,
			CreatedAt:  at,
		})
	}
	return items
}

// SeedCount is ceil(n*fraction), at least 1 and at most n.
func SeedCount(n int, fraction float64) int {
	if n == 0 {
		return 0
	}
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultSeedFraction
	}
	// Round first so 0.2*10 stays 2 rather than ceiling float noise to 3.
	k := int(math.Ceil(math.Round(float64(n)*fraction*1e9) / 1e9))
	return min(max(k, 1), n)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
