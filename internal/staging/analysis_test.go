package staging

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

func branded(name, brand, price string) model.ExtractionItem {
	it := item(name, "1", price)
	it.Brand = brand
	return it
}

func stagedPrefs(t *testing.T, st store.Store, sessionID string) []model.StagedPreference {
	t.Helper()
	ctx := context.Background()
	var out []model.StagedPreference
	require.NoError(t, st.InTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ListStagedPreferences(ctx, sessionID)
		return err
	}))
	return out
}

func maxPrices(prefs []model.StagedPreference) map[int64]string {
	out := make(map[int64]string)
	for _, p := range prefs {
		if p.Value.Dimension == model.DimensionMaxPrice {
			out[p.StagedProductID] = p.Value.MaxPrice.StringFixed(2) + " " + string(p.Origin)
		}
	}
	return out
}

func TestAnalyze_PriceCeilings(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)

	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-01-10",
		item("Arroz Tipo 1", "10", "25.90"), item("Tomate", "5", "10.00"), item("Café", "2", "18.00")))
	require.NoError(t, err)
	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-02-10",
		item("Arroz Tipo 1", "10", "27.00"), item("Tomate", "5", "14.00")))
	require.NoError(t, err)

	a, err := svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, a.Prices, 3)
	assert.Empty(t, a.Brands)
	assert.Equal(t, 3, a.Staged)

	arroz, tomate, cafe := a.Prices[0], a.Prices[1], a.Prices[2]
	assert.Equal(t, "Arroz Tipo 1", arroz.Product)
	assert.Equal(t, 2, arroz.Lines)
	assert.Equal(t, "4.2", arroz.VariancePct.String())
	assert.Equal(t, "29.70", arroz.SuggestedMax.StringFixed(2))

	// A spread above 20% takes the ceiling from the average.
	assert.Equal(t, "33.3", tomate.VariancePct.String())
	assert.Equal(t, "12.00", tomate.Avg.StringFixed(2))
	assert.Equal(t, "14.40", tomate.SuggestedMax.StringFixed(2))

	assert.Equal(t, 1, cafe.Lines)
	assert.True(t, cafe.VariancePct.IsZero())
	assert.Equal(t, "19.80", cafe.SuggestedMax.StringFixed(2))

	assert.Equal(t, map[int64]string{
		arroz.StagedProductID:  "29.70 inferred",
		tomate.StagedProductID: "14.40 inferred",
		cafe.StagedProductID:   "19.80 inferred",
	}, maxPrices(stagedPrefs(t, st, sess.ID)))
}

func TestAnalyze_ReplacesInferredOnRerun(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)
	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-01-10",
		item("Tomate", "5", "10.00"), item("Cebola", "5", "4.00")))
	require.NoError(t, err)

	first, err := svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Staged)

	again, err := svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, again.Staged)
	assert.Len(t, stagedPrefs(t, st, sess.ID), 2)

	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-02-10", item("Tomate", "5", "20.00")))
	require.NoError(t, err)
	after, err := svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Staged)

	prefs := stagedPrefs(t, st, sess.ID)
	require.Len(t, prefs, 2)
	// 10 and 20 average 15 with a 66.7% spread: 15 + 20%.
	assert.Equal(t, "18.00 inferred", maxPrices(prefs)[first.Prices[0].StagedProductID])
}

func TestAnalyze_StatedCandidateWins(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)
	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-01-10", item("Arroz Tipo 1", "10", "25.90")))
	require.NoError(t, err)
	_, err = svc.StageCandidates(ctx, sess.ID, []model.StagedCandidate{
		{ProductName: "Arroz Tipo 1", Dimension: model.DimensionMaxPrice, Value: "26", Origin: model.OriginUserStated},
	})
	require.NoError(t, err)

	a, err := svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, a.Prices, 1)
	assert.Zero(t, a.Staged)

	prefs := stagedPrefs(t, st, sess.ID)
	require.Len(t, prefs, 1)
	assert.Equal(t, model.OriginUserStated, prefs[0].Origin)
	assert.True(t, decimal.NewFromInt(26).Equal(prefs[0].Value.MaxPrice))
}

func TestAnalyze_DominantBrand(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)

	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-01-10",
		branded("Arroz Branco 5kg", "Camil", "25.00"),
		branded("Arroz Branco Integral", "Tio João", "30.00"),
		branded("Leite Integral", "Italac", "5.00"),
		branded("Oleo Soja", "Liza", "7.00"),
		branded("Oleo Soja 900ml", "Soya", "7.10"),
		branded("Oleo Soja Pet", "Cocamar", "6.90")))
	require.NoError(t, err)
	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-02-10",
		branded("Arroz Branco 5kg", "CAMIL", "26.00"),
		branded("Arroz Branco Parboilizado", "Camil", "27.00")))
	require.NoError(t, err)

	a, err := svc.Analyze(ctx, sess.ID)
	require.NoError(t, err)
	// Leite stands alone and the oils split three ways.
	require.Len(t, a.Brands, 1)
	b := a.Brands[0]
	assert.Equal(t, "ARROZ BRANCO", b.Family)
	assert.Equal(t, "Arroz Branco 5kg", b.Product)
	assert.Equal(t, "Camil", b.Brand)
	assert.Equal(t, 3, b.Lines)
	assert.InDelta(t, 0.75, b.Share, 1e-9)

	var brands []model.StagedPreference
	for _, p := range stagedPrefs(t, st, sess.ID) {
		if p.Value.Dimension == model.DimensionBrand {
			brands = append(brands, p)
		}
	}
	require.Len(t, brands, 1)
	assert.Equal(t, b.StagedProductID, brands[0].StagedProductID)
	assert.Equal(t, "Camil", brands[0].Value.Brand)
	assert.Equal(t, model.OriginInferred, brands[0].Origin)
}

func TestAnalyze_RequiresOpenSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, svc.Abandon(ctx, sess.ID))

	_, err = svc.Analyze(ctx, sess.ID)
	assert.True(t, model.IsConflict(err))
}

func TestMarkReady_InfersPreferences(t *testing.T) {
	for _, tc := range []struct {
		name  string
		infer bool
		want  int
	}{
		{"enabled", true, 1},
		{"disabled", false, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, st := newTestService(t)
			svc := NewService(st, Config{InferPreferences: tc.infer})
			ctx := context.Background()
			sess, err := svc.Create(ctx, 1)
			require.NoError(t, err)
			require.NoError(t, svc.SetBasicInfo(ctx, sess.ID, model.BasicInfo{RestaurantName: "Cantina", ContactName: "Ana", City: "Recife"}))
			_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-02-01", item("Arroz", "1", "20")))
			require.NoError(t, err)

			require.NoError(t, svc.MarkReady(ctx, sess.ID))
			assert.Len(t, stagedPrefs(t, st, sess.ID), tc.want)
		})
	}
}
