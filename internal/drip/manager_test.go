package drip

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/engagement"
	"github.com/frepi/frepi-core/internal/keylock"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/preference"
	"github.com/frepi/frepi-core/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	st       store.Store
	scorer   *engagement.Scorer
	mgr      *Manager
	entityID int64
	products []int64
	items    []model.QueueItem
}

// newFixture commits six products queued at fraction 1: two per tier, in
// product order.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "drip.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	f := fixture{st: st, scorer: engagement.NewScorer(st, keylock.New(), engagement.DefaultConfig())}
	cfg := DefaultConfig()
	cfg.SeedFraction = 1
	f.mgr, err = NewManager(st, f.scorer, cfg)
	require.NoError(t, err)

	require.NoError(t, st.InTx(ctx, func(tx *store.Tx) error {
		e := &model.Entity{Name: "Cantina", IsActive: true, CreatedAt: tx.Now()}
		require.NoError(t, tx.CreateEntity(ctx, e))
		f.entityID = e.ID
		var sp []model.ProductSpend
		for i, name := range []string{"Arroz", "Feijao", "Oleo", "Cafe", "Acucar", "Sal"} {
			p := &model.Product{EntityID: e.ID, Name: name, CanonicalKey: name, Embedding: []float32{1}, CreatedAt: tx.Now()}
			require.NoError(t, tx.CreateProduct(ctx, p))
			f.products = append(f.products, p.ID)
			sp = append(sp, model.ProductSpend{ProductID: p.ID, Spend: decimal.NewFromInt(int64(600 - 100*i)), Order: int64(i)})
		}
		if _, err := f.scorer.Create(ctx, tx, e.ID); err != nil {
			return err
		}
		_, err := f.mgr.Seed(ctx, tx, e.ID, sp)
		return err
	}))
	f.items, err = f.mgr.Queue(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, f.items, 6)
	return f
}

// setCounters drives the profile to a level through its counters.
func (f fixture) setCounters(t *testing.T, c model.EngagementCounters) *model.EngagementProfile {
	t.Helper()
	ctx := context.Background()
	var p *model.EngagementProfile
	require.NoError(t, f.st.InTx(ctx, func(tx *store.Tx) error {
		var err error
		p, err = f.scorer.UpdateTx(ctx, tx, f.entityID, func(ec *model.EngagementCounters) { *ec = c })
		return err
	}))
	return p
}

var (
	countersHigh   = model.EngagementCounters{DripAnswered: 10, TotalCorrections: 5, CorrectionsWithReason: 5}
	countersMedium = model.EngagementCounters{DripAnswered: 5, TotalCorrections: 1, CorrectionsWithReason: 1}
	countersLow    = model.EngagementCounters{TotalCorrections: 2}
)

func TestSeed_Tiers(t *testing.T) {
	f := newFixture(t)
	want := []model.Tier{model.TierHead, model.TierHead, model.TierMidTail, model.TierMidTail, model.TierLongTail, model.TierLongTail}
	for i, it := range f.items {
		assert.Equal(t, f.products[i], it.ProductID)
		assert.Equal(t, want[i], it.Tier)
	}
}

func TestSeed_AppendsBehindExistingItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var added int64
	require.NoError(t, f.st.InTx(ctx, func(tx *store.Tx) error {
		p := &model.Product{EntityID: f.entityID, Name: "Farinha", CanonicalKey: "Farinha", Embedding: []float32{1}, CreatedAt: tx.Now()}
		require.NoError(t, tx.CreateProduct(ctx, p))
		added = p.ID
		_, err := f.mgr.Seed(ctx, tx, f.entityID, []model.ProductSpend{{ProductID: p.ID, Spend: decimal.NewFromInt(5000)}})
		return err
	}))

	items, err := f.mgr.Queue(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, items, 7)
	last := items[6]
	assert.Equal(t, added, last.ProductID)
	assert.Equal(t, model.TierHead, last.Tier)
	assert.Equal(t, 6, last.Position)

	// The older head items are still asked first.
	f.setCounters(t, countersHigh)
	qs, err := f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	require.NotEmpty(t, qs)
	assert.Equal(t, f.products[0], qs[0].Item.ProductID)
}

func TestNextQuestions_FreshEntityGetsNone(t *testing.T) {
	f := newFixture(t)
	qs, err := f.mgr.NextQuestions(context.Background(), f.entityID)
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestNextQuestions_LowGetsNone(t *testing.T) {
	f := newFixture(t)
	p := f.setCounters(t, countersLow)
	require.Equal(t, model.LevelLow, p.Level)

	qs, err := f.mgr.NextQuestions(context.Background(), f.entityID)
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestNextQuestions_MediumHeadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.setCounters(t, countersMedium)
	require.Equal(t, model.LevelMedium, p.Level)

	qs, err := f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, model.TierHead, qs[0].Item.Tier)
	assert.Equal(t, f.products[0], qs[0].Item.ProductID)
	assert.Equal(t, "Arroz", qs[0].ProductName)
	assert.Equal(t, model.DimensionBrand, qs[0].Dimension)
	assert.Equal(t, model.QueueAskedDrip, qs[0].Item.Status)

	// Asked items stay askable and are offered again.
	qs, err = f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, 2, qs[0].Item.AskedCount)
}

func TestNextQuestions_HighHeadThenMidTail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.setCounters(t, countersHigh)
	require.Equal(t, model.LevelHigh, p.Level)
	require.Equal(t, 2, p.DripPerSession)

	qs, err := f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, f.products[0], qs[0].Item.ProductID)
	assert.Equal(t, f.products[1], qs[1].Item.ProductID)

	// Resolve both head items; mid_tail comes next, long_tail never.
	for _, q := range qs {
		_, err := f.mgr.RecordSkip(ctx, q.Item.ID)
		require.NoError(t, err)
	}
	f.setCounters(t, countersHigh)
	qs, err = f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	for _, q := range qs {
		assert.Equal(t, model.TierMidTail, q.Item.Tier)
	}
	for _, q := range qs {
		_, err := f.mgr.RecordSkip(ctx, q.Item.ID)
		require.NoError(t, err)
	}
	f.setCounters(t, countersHigh)
	qs, err = f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	assert.Empty(t, qs)
}

func TestNextQuestions_SkipsConfiguredDimensions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setCounters(t, countersMedium)

	ps := preference.NewStore(f.st, f.scorer)
	// Brand held by the user; max_price only inferred.
	_, err := ps.Upsert(ctx, f.entityID, f.products[0], model.BrandValue("Camil"), model.SourceUserStated, "chat:1")
	require.NoError(t, err)
	_, err = ps.Upsert(ctx, f.entityID, f.products[0], model.MaxPriceValue(decimal.NewFromInt(30)), model.SourceInferred, "system")
	require.NoError(t, err)
	f.setCounters(t, countersMedium)

	qs, err := f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, f.products[0], qs[0].Item.ProductID)
	assert.Equal(t, model.DimensionMaxPrice, qs[0].Dimension)

	// Every asked dimension configured: the product drops out.
	for _, v := range []model.Value{model.MaxPriceValue(decimal.NewFromInt(28)), model.QualityValue(model.QualityStandard)} {
		_, err = ps.Upsert(ctx, f.entityID, f.products[0], v, model.SourceDrip, "chat:1")
		require.NoError(t, err)
	}
	f.setCounters(t, countersMedium)
	qs, err = f.mgr.NextQuestions(ctx, f.entityID)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, f.products[1], qs[0].Item.ProductID)
}

func TestRecordAnswer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.items[0]

	prof, err := f.mgr.RecordAnswer(ctx, item.ID, "", "Tio João")
	require.NoError(t, err)
	assert.Equal(t, 1, prof.DripAnswered)
	assert.Equal(t, 1, prof.ConfiguredProducts)

	pref, err := preference.NewStore(f.st, f.scorer).Get(ctx, f.entityID, item.ProductID)
	require.NoError(t, err)
	require.NotNil(t, pref.Brand)
	assert.Equal(t, "Tio João", pref.Brand.Value)
	assert.Equal(t, model.SourceDrip, pref.Brand.Provenance.Source)

	items, err := f.mgr.Queue(ctx, f.entityID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueAnswered, items[0].Status)

	_, err = f.mgr.RecordAnswer(ctx, item.ID, model.DimensionBrand, "Camil")
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
	_, err = f.mgr.RecordSkip(ctx, item.ID)
	assert.True(t, model.IsConflict(err))
}

func TestRecordAnswer_DoesNotOverrideCorrection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.items[1]

	_, err := preference.NewLearner(f.st, f.scorer).ApplyCorrection(ctx, preference.Correction{
		EntityID: f.entityID, ProductID: item.ProductID, Dimension: model.DimensionQuality, Value: "premium",
	})
	require.NoError(t, err)

	prof, err := f.mgr.RecordAnswer(ctx, item.ID, model.DimensionQuality, "economy")
	require.NoError(t, err)
	assert.Equal(t, 1, prof.DripAnswered)

	pref, err := preference.NewStore(f.st, f.scorer).Get(ctx, f.entityID, item.ProductID)
	require.NoError(t, err)
	assert.Equal(t, model.QualityPremium, pref.Quality.Value)
	assert.Equal(t, model.SourceUserCorrection, pref.Quality.Provenance.Source)
}

func TestRecordAnswer_InvalidValueLeavesItemAskable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.items[0]

	_, err := f.mgr.RecordAnswer(ctx, item.ID, model.DimensionMaxPrice, "barato")
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	items, err := f.mgr.Queue(ctx, f.entityID)
	require.NoError(t, err)
	assert.Equal(t, model.QueuePending, items[0].Status)
}

func TestRecordSkip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	prof, err := f.mgr.RecordSkip(ctx, f.items[2].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, prof.DripSkipped)

	items, err := f.mgr.Queue(ctx, f.entityID)
	require.NoError(t, err)
	assert.Equal(t, model.QueueSkipped, items[2].Status)
	assert.Equal(t, 1, items[2].SkipCount)

	_, err = f.mgr.RecordSkip(ctx, 99999)
	assert.True(t, model.IsValidation(err))
}

func TestNewManager_UnknownDimension(t *testing.T) {
	_, err := NewManager(nil, nil, Config{Dimensions: []string{"color"}})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestAnswersAndCorrectionsRaceOnOneEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	learner := preference.NewLearner(f.st, f.scorer)

	var wg sync.WaitGroup
	errs := make(chan error, 2*len(f.items))
	for i, it := range f.items {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.mgr.RecordAnswer(ctx, it.ID, model.DimensionBrand, "Marca")
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := learner.ApplyCorrection(ctx, preference.Correction{
				EntityID: f.entityID, ProductID: f.products[i], Dimension: model.DimensionQuality, Value: "premium", Reason: "prefers it",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	prof, err := f.scorer.Get(ctx, f.entityID)
	require.NoError(t, err)
	assert.Equal(t, len(f.items), prof.DripAnswered)
	assert.Equal(t, len(f.items), prof.TotalCorrections)
	assert.Equal(t, len(f.items), prof.CorrectionsWithReason)
	assert.Equal(t, len(f.items), prof.ConfiguredProducts)
}
