package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/commit"
	"github.com/frepi/frepi-core/internal/model"
)

func TestFormatSummary(t *testing.T) {
	sum := &model.SessionSummary{
		Session:    model.Session{ID: "abc", Status: model.SessionReady, RestaurantName: "Cantina da Ana", City: "Recife"},
		Suppliers:  []model.StagedSupplier{{Name: "Atacadão Ltda", TaxID: "12345678000190", InvoiceCount: 2, TotalSpend: decimal.RequireFromString("549.40")}},
		Products:   3,
		Prices:     4,
		TotalSpend: decimal.RequireFromString("549.4"),
	}

	var buf bytes.Buffer
	formatSummary(&buf, sum)

	out := buf.String()
	assert.Contains(t, out, "abc (ready)")
	assert.Contains(t, out, "Cantina da Ana, Recife")
	assert.Contains(t, out, "Total spend: 549.40")
	assert.Contains(t, out, "SUPPLIER")
	assert.Contains(t, out, "Atacadão Ltda")
}

func TestFormatCommit(t *testing.T) {
	var buf bytes.Buffer
	formatCommit(&buf, &commit.Result{
		EntityID: 7, EntityReused: true, SuppliersCreated: 1, SuppliersMatched: 1,
		ProductsCreated: 9, PricesRecorded: 10, QueueSeeded: 2, Level: "dormant",
	})

	out := buf.String()
	assert.Contains(t, out, "7 (existing)")
	assert.Contains(t, out, "1 created, 1 matched")
	assert.Contains(t, out, "2 seeded")
	assert.Contains(t, out, "dormant")
}

func TestFormatPrices(t *testing.T) {
	from := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	formatPrices(&buf, []model.PriceRecord{
		{SupplierID: 1, UnitPrice: decimal.RequireFromString("25.9"), Currency: "BRL", Unit: "kg", EffectiveFrom: from, EffectiveTo: &to, Source: model.PriceFromInvoice},
		{SupplierID: 1, UnitPrice: decimal.RequireFromString("27"), Currency: "BRL", Unit: "kg", EffectiveFrom: to, Source: model.PriceFromInvoice},
	})

	out := buf.String()
	assert.Contains(t, out, "BRL 25.90")
	assert.Contains(t, out, "2026-02-10")
	assert.Contains(t, out, "open")
}

func TestFormatQueueAndQuestions(t *testing.T) {
	item := model.QueueItem{ID: 3, ProductID: 9, Tier: model.TierHead, Status: model.QueueAskedDrip, TotalSpend: decimal.NewFromInt(529), AskedCount: 1}

	var buf bytes.Buffer
	formatQueue(&buf, []model.QueueItem{item})
	assert.Contains(t, buf.String(), "529.00")
	assert.Contains(t, buf.String(), "head")

	buf.Reset()
	formatQuestions(&buf, []model.Question{{Item: item, ProductName: "Arroz Tipo 1", Dimension: model.DimensionBrand}})
	assert.Contains(t, buf.String(), "Arroz Tipo 1")
	assert.Contains(t, buf.String(), "brand")
}

func TestFormatSearch(t *testing.T) {
	var buf bytes.Buffer
	formatSearch(&buf, []catalog.SearchResult{
		{Product: model.Product{ID: 1, Name: "Arroz"}, Similarity: 0.91, Band: catalog.BandHigh},
	})
	assert.Contains(t, buf.String(), "0.910")
	assert.Contains(t, buf.String(), "high")
}
