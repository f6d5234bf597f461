// Package export writes an entity's current price sheet as an XLSX workbook.
package export

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/store"
)

// Sheet names.
const (
	PricesSheet   = "Prices"
	ProductsSheet = "Products"
)

var priceHeader = []string{"Product", "Supplier", "Unit price", "Unit", "Currency", "Since", "Best"}

var productHeader = []string{"Product", "Suppliers", "Best price", "Best supplier", "Currency"}

// Load reads the open prices of an entity's catalog. A halted entity is
// refused.
func Load(ctx context.Context, st store.Store, entityID int64) ([]store.PriceSheetRow, error) {
	var rows []store.PriceSheetRow
	err := st.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.RequireEntity(ctx, entityID); err != nil {
			return err
		}
		var err error
		rows, err = tx.PriceSheet(ctx, entityID)
		return err
	})
	return rows, err
}

// WriteXLSX renders rows, which must be grouped by product with the
// cheapest offer first, into a two-sheet workbook.
func WriteXLSX(w io.Writer, rows []store.PriceSheetRow) error {
	f := xlsx.NewFile()

	prices, err := f.AddSheet(PricesSheet)
	if err != nil {
		return eris.Wrap(err, "export: add prices sheet")
	}
	products, err := f.AddSheet(ProductsSheet)
	if err != nil {
		return eris.Wrap(err, "export: add products sheet")
	}
	addHeader(prices, priceHeader)
	addHeader(products, productHeader)

	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].ProductID == rows[i].ProductID {
			j++
		}
		group := rows[i:j]
		for k, r := range group {
			row := prices.AddRow()
			row.AddCell().SetString(r.ProductName)
			row.AddCell().SetString(r.SupplierName)
			addPrice(row, r)
			row.AddCell().SetString(r.Unit)
			row.AddCell().SetString(r.Currency)
			row.AddCell().SetDate(r.EffectiveFrom)
			mark := ""
			if k == 0 {
				mark = "*"
			}
			row.AddCell().SetString(mark)
		}

		cheapest := group[0]
		row := products.AddRow()
		row.AddCell().SetString(cheapest.ProductName)
		row.AddCell().SetInt(len(group))
		addPrice(row, cheapest)
		row.AddCell().SetString(cheapest.SupplierName)
		row.AddCell().SetString(cheapest.Currency)
		i = j
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// PriceSheet loads and writes an entity's price sheet, returning the number
// of price rows written.
func PriceSheet(ctx context.Context, st store.Store, entityID int64, w io.Writer) (int, error) {
	rows, err := Load(ctx, st, entityID)
	if err != nil {
		return 0, err
	}
	if err := WriteXLSX(w, rows); err != nil {
		return 0, err
	}
	zap.L().Info("price sheet exported",
		zap.Int64("entity_id", entityID),
		zap.Int("rows", len(rows)),
	)
	return len(rows), nil
}

func addHeader(sheet *xlsx.Sheet, cols []string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}

func addPrice(row *xlsx.Row, r store.PriceSheetRow) {
	f, _ := r.UnitPrice.Float64()
	row.AddCell().SetFloatWithFormat(f, "#,##0.00")
}
