package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedEntityAndProduct(t *testing.T, st *SQLiteStore) (entityID, supplierID, productID int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		e := &model.Entity{Name: "Cantina", IsActive: true, CreatedAt: tx.Now()}
		require.NoError(t, tx.CreateEntity(ctx, e))
		s := &model.Supplier{Name: "Atacadao", NormalizedName: "ATACADAO", IsActive: true, CreatedAt: tx.Now()}
		require.NoError(t, tx.CreateSupplier(ctx, s))
		p := &model.Product{EntityID: e.ID, Name: "Arroz", CanonicalKey: "ARROZ", Embedding: []float32{1, 0}, CreatedAt: tx.Now()}
		require.NoError(t, tx.CreateProduct(ctx, p))
		entityID, supplierID, productID = e.ID, s.ID, p.ID
		return nil
	}))
	return entityID, supplierID, productID
}

func TestSQLite_MigrateIsIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
	require.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_SessionLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		return tx.CreateSession(ctx, &model.Session{
			ID: id, ChatID: 99, Status: model.SessionOpen, CreatedAt: tx.Now(), UpdatedAt: tx.Now(),
		})
	}))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		active, err := tx.ActiveSessionForChat(ctx, 99)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, id, active.ID)

		require.NoError(t, tx.UpdateSessionInfo(ctx, id, model.BasicInfo{RestaurantName: "Cantina", ContactName: "Ana"}))

		ok, err := tx.TransitionSession(ctx, id, model.SessionOpen, model.SessionReady)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.TransitionSession(ctx, id, model.SessionOpen, model.SessionReady)
		require.NoError(t, err)
		assert.False(t, ok, "second transition from open must not apply")
		return nil
	}))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		s, err := tx.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.SessionReady, s.Status)
		assert.Equal(t, "Cantina", s.RestaurantName)
		assert.Nil(t, s.EntityID)
		assert.Nil(t, s.CommittedAt)
		return nil
	}))
}

func TestSQLite_GetSession_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		s, err := tx.GetSession(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, s)
		return nil
	}))
}

func TestSQLite_InTxRollsBackOnError(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	id := uuid.NewString()

	err := st.InTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.CreateSession(ctx, &model.Session{ID: id, ChatID: 1, Status: model.SessionOpen, CreatedAt: tx.Now(), UpdatedAt: tx.Now()}))
		return model.NewValidationError("x", "boom")
	})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		s, err := tx.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, s)
		return nil
	}))
}

func TestSQLite_StagedFacts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	id := uuid.NewString()
	day := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.CreateSession(ctx, &model.Session{ID: id, ChatID: 5, Status: model.SessionOpen, CreatedAt: tx.Now(), UpdatedAt: tx.Now()}))

		sup := &model.StagedSupplier{SessionID: id, Name: "Distribuidora Sul Ltda", TaxID: "12345678000199", TotalSpend: decimal.RequireFromString("10.50")}
		require.NoError(t, tx.InsertStagedSupplier(ctx, sup, "DISTRIBUIDORA SUL"))

		byTax, err := tx.FindStagedSupplier(ctx, id, "12345678000199", "SOMETHING ELSE")
		require.NoError(t, err)
		require.NotNil(t, byTax)
		assert.Equal(t, sup.ID, byTax.ID)
		assert.True(t, decimal.RequireFromString("10.5").Equal(byTax.TotalSpend))

		byName, err := tx.FindStagedSupplier(ctx, id, "", "DISTRIBUIDORA SUL")
		require.NoError(t, err)
		require.NotNil(t, byName)

		prod := &model.StagedProduct{SessionID: id, StagedSupplierID: &sup.ID, Name: "Feijao preto"}
		require.NoError(t, tx.InsertStagedProduct(ctx, prod, "FEIJAO PRETO"))

		for i, d := range []time.Time{day.AddDate(0, 0, 3), day} {
			require.NoError(t, tx.InsertStagedPrice(ctx, &model.StagedPrice{
				SessionID: id, StagedSupplierID: sup.ID, StagedProductID: prod.ID,
				UnitPrice: decimal.NewFromInt(int64(8 + i)), Quantity: decimal.RequireFromString("2.5"),
				Currency: "BRL", InvoiceDate: d,
			}))
		}
		require.NoError(t, tx.InsertStagedPreference(ctx, &model.StagedPreference{
			SessionID: id, StagedProductID: prod.ID, Value: model.BrandValue("Kicaldo"), Origin: model.OriginUserStated,
		}))
		return nil
	}))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		prices, err := tx.ListStagedPrices(ctx, id)
		require.NoError(t, err)
		require.Len(t, prices, 2)
		assert.True(t, prices[0].InvoiceDate.Equal(day), "prices are ordered by invoice date")
		assert.True(t, decimal.RequireFromString("2.5").Equal(prices[0].Quantity))

		prefs, err := tx.ListStagedPreferences(ctx, id)
		require.NoError(t, err)
		require.Len(t, prefs, 1)
		assert.Equal(t, "Kicaldo", prefs[0].Value.Brand)

		products, pricesN, prefsN, err := tx.StagedCounts(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 1}, []int{products, pricesN, prefsN})
		return nil
	}))
}

func TestSQLite_OpenPriceUniqueness(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, supplierID, productID := seedEntityAndProduct(t, st)

	var mappingID int64
	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		m := &model.SupplierProduct{SupplierID: supplierID, ProductID: productID, Method: model.MatchOnboarding, Confidence: 1, CreatedAt: tx.Now()}
		created, err := tx.EnsureMapping(ctx, m)
		require.NoError(t, err)
		assert.True(t, created)
		mappingID = m.ID

		again := &model.SupplierProduct{SupplierID: supplierID, ProductID: productID}
		created, err = tx.EnsureMapping(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, mappingID, again.ID)

		return tx.InsertPrice(ctx, &model.PriceRecord{
			SupplierID: supplierID, ProductID: productID, MappingID: mappingID,
			UnitPrice: decimal.NewFromInt(10), Currency: "BRL", EffectiveFrom: tx.Now(), Source: model.PriceFromInvoice,
		})
	}))

	err := st.InTx(ctx, func(tx *Tx) error {
		return tx.InsertPrice(ctx, &model.PriceRecord{
			SupplierID: supplierID, ProductID: productID, MappingID: mappingID,
			UnitPrice: decimal.NewFromInt(11), Currency: "BRL", EffectiveFrom: tx.Now(), Source: model.PriceFromInvoice,
		})
	})
	require.Error(t, err, "a second open record must be rejected by the partial unique index")

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		open, err := tx.OpenPrices(ctx, supplierID, productID)
		require.NoError(t, err)
		require.Len(t, open, 1)
		require.NoError(t, tx.ClosePrice(ctx, open[0].ID, tx.Now()))
		require.Error(t, tx.ClosePrice(ctx, open[0].ID, tx.Now()), "closing twice fails")

		history, err := tx.PriceHistory(ctx, supplierID, productID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.NotNil(t, history[0].EffectiveTo)
		return nil
	}))
}

func TestSQLite_EmbeddingIsImmutable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, _, productID := seedEntityAndProduct(t, st)

	err := st.InTx(ctx, func(tx *Tx) error {
		_, err := tx.q.exec(ctx, `UPDATE products SET embedding = $1 WHERE id = $2`, EncodeEmbedding([]float32{0, 1}), productID)
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		p, err := tx.GetProduct(ctx, productID)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, p.Embedding)
		return nil
	}))
}

func TestSQLite_CorrectionLogIsAppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	entityID, _, productID := seedEntityAndProduct(t, st)

	var id int64
	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		c := &model.CorrectionEntry{EntityID: entityID, ProductID: productID, Dimension: model.DimensionBrand,
			NewValue: "Tio Joao", Reason: "better yield", Actor: "chat:1", At: tx.Now()}
		require.NoError(t, tx.AppendCorrection(ctx, c))
		id = c.ID
		return nil
	}))

	err := st.InTx(ctx, func(tx *Tx) error {
		_, err := tx.q.exec(ctx, `UPDATE correction_log SET reason = 'x' WHERE id = $1`, id)
		return err
	})
	require.Error(t, err)

	err = st.InTx(ctx, func(tx *Tx) error {
		_, err := tx.q.exec(ctx, `DELETE FROM correction_log WHERE id = $1`, id)
		return err
	})
	require.Error(t, err)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		entries, err := tx.ListCorrections(ctx, entityID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "better yield", entries[0].Reason)
		return nil
	}))
}

func TestSQLite_PreferencesAndConfiguredCount(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	entityID, _, productID := seedEntityAndProduct(t, st)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.PutPreferenceRow(ctx, model.PreferenceRow{
			EntityID: entityID, ProductID: productID, Dimension: model.DimensionBrand,
			Value: "Camil", Source: model.SourceInvoiceExtraction, UpdatedAt: tx.Now(),
		}))
		n, err := tx.CountConfiguredProducts(ctx, entityID, model.SourceDrip)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		require.NoError(t, tx.PutPreferenceRow(ctx, model.PreferenceRow{
			EntityID: entityID, ProductID: productID, Dimension: model.DimensionBrand,
			Value: "Tio Joao", Source: model.SourceDrip, Actor: "chat:1", UpdatedAt: tx.Now(),
		}))
		n, err = tx.CountConfiguredProducts(ctx, entityID, model.SourceDrip)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rows, err := tx.PreferenceRows(ctx, entityID, productID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Tio Joao", rows[0].Value)
		assert.Equal(t, model.SourceDrip, rows[0].Source)
		return nil
	}))
}

func TestSQLite_QueueAndProfile(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	entityID, _, productID := seedEntityAndProduct(t, st)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertQueueItems(ctx, []model.QueueItem{{
			EntityID: entityID, ProductID: productID, Tier: model.TierHead, Status: model.QueuePending,
			TotalSpend: decimal.RequireFromString("123.40"), CreatedAt: tx.Now(),
		}}))
		return tx.CreateProfile(ctx, &model.EngagementProfile{EntityID: entityID, Level: model.LevelDormant, UpdatedAt: tx.Now()})
	}))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		items, err := tx.AskableQueueItems(ctx, entityID)
		require.NoError(t, err)
		require.Len(t, items, 1)
		it := items[0]
		assert.True(t, decimal.RequireFromString("123.4").Equal(it.TotalSpend))

		require.NoError(t, tx.MarkAsked(ctx, it.ID, tx.Now()))
		ok, err := tx.ResolveQueueItem(ctx, it.ID, model.QueueSkipped)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.ResolveQueueItem(ctx, it.ID, model.QueueAnswered)
		require.NoError(t, err)
		assert.False(t, ok, "resolved items are no longer askable")

		got, err := tx.GetQueueItem(ctx, it.ID)
		require.NoError(t, err)
		assert.Equal(t, model.QueueSkipped, got.Status)
		assert.Equal(t, 1, got.AskedCount)
		assert.Equal(t, 1, got.SkipCount)
		assert.NotNil(t, got.LastAskedAt)

		p, err := tx.GetProfile(ctx, entityID)
		require.NoError(t, err)
		p.DripSkipped = 1
		p.Score = 0.12
		p.Level = model.LevelLow
		require.NoError(t, tx.SaveProfile(ctx, p))
		return nil
	}))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		p, err := tx.GetProfile(ctx, entityID)
		require.NoError(t, err)
		assert.Equal(t, 1, p.DripSkipped)
		assert.Equal(t, model.LevelLow, p.Level)
		assert.InDelta(t, 0.12, p.Score, 1e-9)
		return nil
	}))
}

func TestSQLite_SessionEventsWindow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	entityID, _, _ := seedEntityAndProduct(t, st)
	now := time.Date(2026, 5, 31, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		for _, d := range []int{0, 3, 29, 31, 90} {
			require.NoError(t, tx.RecordSessionEvent(ctx, entityID, now.AddDate(0, 0, -d)))
		}
		n, err := tx.CountSessionsSince(ctx, entityID, now.AddDate(0, 0, -30))
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		return nil
	}))
}

func TestSQLite_HaltAndRequireEntity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	entityID, _, _ := seedEntityAndProduct(t, st)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		return tx.HaltEntity(ctx, entityID, "two open prices")
	}))
	err := st.InTx(ctx, func(tx *Tx) error {
		_, err := tx.RequireEntity(ctx, entityID)
		return err
	})
	require.Error(t, err)
	assert.True(t, model.IsConsistency(err))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error { return tx.ClearHalt(ctx, entityID) }))
	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		_, err := tx.RequireEntity(ctx, entityID)
		return err
	}))

	err = st.InTx(ctx, func(tx *Tx) error {
		_, err := tx.RequireEntity(ctx, 4242)
		return err
	})
	assert.True(t, model.IsValidation(err))
}

func TestSQLite_PriceSheetCheapestFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	_, supplierID, productID := seedEntityAndProduct(t, st)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		other := &model.Supplier{Name: "Assai", NormalizedName: "ASSAI", IsActive: true, CreatedAt: tx.Now()}
		require.NoError(t, tx.CreateSupplier(ctx, other))
		for _, sp := range []struct {
			supplier int64
			price    string
		}{{supplierID, "9.90"}, {other.ID, "10.00"}} {
			m := &model.SupplierProduct{SupplierID: sp.supplier, ProductID: productID, Method: model.MatchOnboarding, CreatedAt: tx.Now()}
			_, err := tx.EnsureMapping(ctx, m)
			require.NoError(t, err)
			require.NoError(t, tx.InsertPrice(ctx, &model.PriceRecord{
				SupplierID: sp.supplier, ProductID: productID, MappingID: m.ID,
				UnitPrice: decimal.RequireFromString(sp.price), Currency: "BRL", EffectiveFrom: tx.Now(), Source: model.PriceFromInvoice,
			}))
		}
		return nil
	}))

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		current, err := tx.OpenPricesForProduct(ctx, productID)
		require.NoError(t, err)
		require.Len(t, current, 2)
		assert.Equal(t, "9.9", current[0].UnitPrice.String())
		assert.Equal(t, "10", current[1].UnitPrice.String())
		return nil
	}))
}

func TestHaltOnViolation(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	entityID, _, _ := seedEntityAndProduct(t, st)

	violation := model.NewConsistencyViolation(entityID, "single_open_price", "2 open records")
	got := HaltOnViolation(ctx, st, violation)
	assert.Same(t, violation, got)

	require.NoError(t, st.InTx(ctx, func(tx *Tx) error {
		e, err := tx.GetEntity(ctx, entityID)
		require.NoError(t, err)
		require.True(t, e.Halted())
		assert.Equal(t, "single_open_price: 2 open records", e.HaltReason)
		return nil
	}))

	other := model.NewValidationError("x", "y")
	assert.Same(t, other, HaltOnViolation(ctx, st, other))
}
