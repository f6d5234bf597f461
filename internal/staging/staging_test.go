package staging

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "staging.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return NewService(st, DefaultConfig()), st
}

func invoice(supplier, taxID, date string, items ...model.ExtractionItem) *model.Extraction {
	return &model.Extraction{
		SupplierName:    supplier,
		TaxID:           taxID,
		InvoiceDate:     date,
		Items:           items,
		ConfidenceScore: 0.9,
	}
}

func item(name, qty, price string) model.ExtractionItem {
	return model.ExtractionItem{ProductName: name, Quantity: qty, Unit: "kg", UnitPrice: price}
}

func TestGetOrCreate_ReusesActiveSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.GetOrCreate(ctx, 42)
	require.NoError(t, err)
	b, err := svc.GetOrCreate(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, model.SessionOpen, a.Status)

	require.NoError(t, svc.Abandon(ctx, a.ID))
	c, err := svc.GetOrCreate(ctx, 42)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
}

func TestGetOrCreate_LinksKnownChat(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	var entity model.Entity
	var contact model.Contact
	require.NoError(t, st.InTx(ctx, func(tx *store.Tx) error {
		entity = model.Entity{Name: "Cantina", IsActive: true, CreatedAt: tx.Now()}
		require.NoError(t, tx.CreateEntity(ctx, &entity))
		contact = model.Contact{EntityID: entity.ID, ChatID: 77, FullName: "Ana", IsPrimary: true, CreatedAt: tx.Now()}
		return tx.CreateContact(ctx, &contact)
	}))

	known, err := svc.GetOrCreate(ctx, 77)
	require.NoError(t, err)
	require.NotNil(t, known.EntityID)
	assert.Equal(t, entity.ID, *known.EntityID)
	assert.Equal(t, contact.ID, *known.ContactID)

	fresh, err := svc.Create(ctx, 78)
	require.NoError(t, err)
	assert.Nil(t, fresh.EntityID)
}

func TestStageExtraction_ConsolidatesAcrossInvoices(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)

	r1, err := svc.StageExtraction(ctx, sess.ID, invoice("Atacadão Ltda", "12.345.678/0001-90", "2026-02-01",
		item("Arroz Tipo 1", "10", "25.90"), item("Feijão Preto", "5", "8.50")))
	require.NoError(t, err)
	assert.True(t, r1.NewSupplier)
	assert.Equal(t, 2, r1.NewProducts)
	assert.True(t, decimal.RequireFromString("301.50").Equal(r1.Spend))

	// Same supplier by tax id under a different spelling; arroz repeats.
	r2, err := svc.StageExtraction(ctx, sess.ID, invoice("ATACADAO", "12345678000190", "2026-02-15",
		item("arroz tipo 1", "10", "27.00"), item("Óleo de Soja", "12", "7.20")))
	require.NoError(t, err)
	assert.False(t, r2.NewSupplier)
	assert.Equal(t, r1.StagedSupplierID, r2.StagedSupplierID)
	assert.Equal(t, 1, r2.NewProducts)
	assert.Equal(t, r1.ProductIDs[0], r2.ProductIDs[0])

	// Different supplier matched by name only.
	r3, err := svc.StageExtraction(ctx, sess.ID, invoice("Assaí Atacadista", "", "2026-02-20", item("Café", "2", "18")))
	require.NoError(t, err)
	assert.True(t, r3.NewSupplier)

	sum, err := svc.Summary(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, sum.Suppliers, 2)
	assert.Equal(t, 2, sum.Suppliers[0].InvoiceCount)
	assert.Equal(t, "12345678000190", sum.Suppliers[0].TaxID)
	assert.Equal(t, 4, sum.Products)
	assert.Equal(t, 5, sum.Prices)
	assert.True(t, decimal.RequireFromString("693.90").Equal(sum.TotalSpend), sum.TotalSpend.String())

	require.NoError(t, st.InTx(ctx, func(tx *store.Tx) error {
		prices, err := tx.ListStagedPrices(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, "BRL", prices[0].Currency)
		return nil
	}))
}

func TestStageExtraction_RejectsUntrustedInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)

	tests := []struct {
		name string
		ex   *model.Extraction
	}{
		{"no items", invoice("Atacadao", "", "2026-02-01")},
		{"bad date", invoice("Atacadao", "", "01/02/2026", item("Arroz", "1", "2"))},
		{"zero quantity", invoice("Atacadao", "", "2026-02-01", item("Arroz", "0", "2"))},
		{"negative price", invoice("Atacadao", "", "2026-02-01", item("Arroz", "1", "-2"))},
		{"punctuation-only product", invoice("Atacadao", "", "2026-02-01", item("...", "1", "2"))},
		{"bad email", func() *model.Extraction {
			ex := invoice("Atacadao", "", "2026-02-01", item("Arroz", "1", "2"))
			ex.Email = "not-an-email"
			return ex
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.StageExtraction(ctx, sess.ID, tt.ex)
			require.Error(t, err)
			assert.True(t, model.IsValidation(err), "got %v", err)
		})
	}

	sum, err := svc.Summary(ctx, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, sum.Prices)
}

func TestStageExtraction_MinConfidence(t *testing.T) {
	svc, st := newTestService(t)
	svc = NewService(st, Config{MinConfidence: 0.95})
	sess, err := svc.Create(context.Background(), 1)
	require.NoError(t, err)

	_, err = svc.StageExtraction(context.Background(), sess.ID, invoice("Atacadao", "", "2026-02-01", item("Arroz", "1", "2")))
	assert.True(t, model.IsValidation(err))
}

func TestLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 7)
	require.NoError(t, err)

	// Not ready without info and prices.
	err = svc.MarkReady(ctx, sess.ID)
	assert.True(t, model.IsValidation(err))

	require.NoError(t, svc.SetBasicInfo(ctx, sess.ID, model.BasicInfo{RestaurantName: " Cantina ", ContactName: "Ana", City: "Recife"}))
	err = svc.MarkReady(ctx, sess.ID)
	assert.True(t, model.IsValidation(err))

	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-02-01", item("Arroz", "1", "2")))
	require.NoError(t, err)
	require.NoError(t, svc.MarkReady(ctx, sess.ID))

	// A ready session takes no more invoices until reopened.
	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-02-02", item("Arroz", "1", "2")))
	assert.True(t, model.IsConflict(err))
	require.NoError(t, svc.Reopen(ctx, sess.ID))
	require.NoError(t, svc.MarkReady(ctx, sess.ID))

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionReady, got.Status)
	assert.Equal(t, "Cantina", got.RestaurantName)

	require.NoError(t, svc.Abandon(ctx, sess.ID))
	assert.True(t, model.IsConflict(svc.Reopen(ctx, sess.ID)))
	assert.True(t, model.IsConflict(svc.Abandon(ctx, sess.ID)))
}

func TestGet_Unknown(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), "not-a-uuid")
	assert.True(t, model.IsValidation(err))
	_, err = svc.Get(context.Background(), "0b5e2c36-1d7f-4a8e-9d3b-2f8c1a0e4b6d")
	assert.True(t, model.IsValidation(err))
}

func TestStageCandidates(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	sess, err := svc.Create(ctx, 1)
	require.NoError(t, err)
	_, err = svc.StageExtraction(ctx, sess.ID, invoice("Atacadao", "", "2026-02-01", item("Arroz Tipo 1", "1", "2")))
	require.NoError(t, err)

	n, err := svc.StageCandidates(ctx, sess.ID, []model.StagedCandidate{
		{ProductName: "ARROZ TIPO 1", Dimension: "brand", Value: "Camil", Origin: model.OriginUserStated},
		{ProductName: "arroz tipo 1", Dimension: "max_price", Value: "30", Origin: model.OriginInvoiceExtraction},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.StageCandidates(ctx, sess.ID, []model.StagedCandidate{
		{ProductName: "Feijao", Dimension: "brand", Value: "Kicaldo", Origin: model.OriginUserStated},
	})
	assert.True(t, model.IsValidation(err))

	_, err = svc.StageCandidates(ctx, sess.ID, []model.StagedCandidate{
		{ProductName: "Arroz Tipo 1", Dimension: "brand", Value: "Camil", Origin: "hearsay"},
	})
	assert.True(t, model.IsValidation(err))

	require.NoError(t, st.InTx(ctx, func(tx *store.Tx) error {
		prefs, err := tx.ListStagedPreferences(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, prefs, 2)
		assert.Equal(t, "Camil", prefs[0].Value.Brand)
		return nil
	}))
}

const sampleDoc = `
info:
  restaurant_name: Cantina da Ana
  city: Recife
  contact_name: Ana
invoices:
  - supplier_name: Atacadão Ltda
    tax_id: 12.345.678/0001-90
    invoice_date: "2026-02-01"
    total_amount: "301.50"
    confidence_score: 0.92
    items:
      - {product_name: Arroz Tipo 1, quantity: 10, unit: kg, unit_price: "25.90"}
      - {product_name: Feijão Preto, quantity: 5, unit: kg, unit_price: "8.50"}
preferences:
  - {product_name: Arroz Tipo 1, dimension: brand, value: Camil, origin: user_stated}
`

func TestReadDocumentAndImport(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	doc, err := ReadDocument(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	require.Len(t, doc.Invoices, 1)
	assert.Equal(t, "10", doc.Invoices[0].Items[0].Quantity)

	sess, err := svc.Create(ctx, 3)
	require.NoError(t, err)
	res, err := svc.Import(ctx, sess.ID, doc)
	require.NoError(t, err)
	require.Len(t, res.Invoices, 1)
	assert.Equal(t, 1, res.Preferences)

	require.NoError(t, svc.MarkReady(ctx, sess.ID))
}

func TestReadDocument_JSONAndErrors(t *testing.T) {
	t.Parallel()

	doc, err := ReadDocument(strings.NewReader(`{"preferences": [{"product_name": "Arroz", "dimension": "quality", "value": "premium", "origin": "inferred"}]}`))
	require.NoError(t, err)
	require.Len(t, doc.Preferences, 1)

	_, err = ReadDocument(strings.NewReader(""))
	assert.True(t, model.IsValidation(err))
	_, err = ReadDocument(strings.NewReader("invoices: []\nextra: 1\n"))
	assert.True(t, model.IsValidation(err))
	_, err = ReadDocument(strings.NewReader("invoices: []\n"))
	assert.True(t, model.IsValidation(err))
}
