package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/commit"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/staging"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatSummary(w io.Writer, sum *model.SessionSummary) {
	fmt.Fprintf(w, "Session:     %s (%s)\n", sum.Session.ID, sum.Session.Status)
	if sum.Session.RestaurantName != "" {
		fmt.Fprintf(w, "Restaurant:  %s, %s\n", sum.Session.RestaurantName, sum.Session.City)
	}
	fmt.Fprintf(w, "Products:    %d\n", sum.Products)
	fmt.Fprintf(w, "Prices:      %d\n", sum.Prices)
	fmt.Fprintf(w, "Preferences: %d\n", sum.Preferences)
	fmt.Fprintf(w, "Total spend: %s\n", sum.TotalSpend.StringFixed(2))
	if len(sum.Suppliers) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUPPLIER\tTAX ID\tINVOICES\tSPEND")
	for _, s := range sum.Suppliers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, s.TaxID, s.InvoiceCount, s.TotalSpend.StringFixed(2))
	}
	tw.Flush()
}

func formatAnalysis(w io.Writer, a *staging.Analysis) {
	fmt.Fprintf(w, "staged %d inferred candidate(s)\n", a.Staged)
	if len(a.Prices) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PRODUCT\tLINES\tMIN\tMAX\tAVG\tSPREAD\tCEILING")
		for _, r := range a.Prices {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s%%\t%s\n", r.Product, r.Lines,
				r.Min.StringFixed(2), r.Max.StringFixed(2), r.Avg.StringFixed(2), r.VariancePct.StringFixed(1), r.SuggestedMax.StringFixed(2))
		}
		tw.Flush()
	}
	if len(a.Brands) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FAMILY\tBRAND\tSHARE\tPRODUCT")
		for _, b := range a.Brands {
			fmt.Fprintf(tw, "%s\t%s\t%.0f%%\t%s\n", b.Family, b.Brand, b.Share*100, b.Product)
		}
		tw.Flush()
	}
}

func formatCommit(w io.Writer, res *commit.Result) {
	reused := ""
	if res.EntityReused {
		reused = " (existing)"
	}
	fmt.Fprintf(w, "Entity:      %d%s\n", res.EntityID, reused)
	fmt.Fprintf(w, "Suppliers:   %d created, %d matched\n", res.SuppliersCreated, res.SuppliersMatched)
	fmt.Fprintf(w, "Products:    %d created, %d reused\n", res.ProductsCreated, res.ProductsReused)
	fmt.Fprintf(w, "Mappings:    %d\n", res.MappingsCreated)
	fmt.Fprintf(w, "Prices:      %d\n", res.PricesRecorded)
	if res.PricesSkipped > 0 {
		fmt.Fprintf(w, "Superseded:  %d\n", res.PricesSkipped)
	}
	fmt.Fprintf(w, "Preferences: %d applied, %d skipped\n", res.PreferencesApplied, res.PreferencesSkipped)
	fmt.Fprintf(w, "Queue:       %d seeded\n", res.QueueSeeded)
	fmt.Fprintf(w, "Engagement:  %s\n", res.Level)
}

func formatQueue(w io.Writer, items []model.QueueItem) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRODUCT\tTIER\tSTATUS\tSPEND\tASKED\tSKIPPED")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%d\t%d\n",
			it.ID, it.ProductID, it.Tier, it.Status, it.TotalSpend.StringFixed(2), it.AskedCount, it.SkipCount)
	}
	tw.Flush()
}

func formatQuestions(w io.Writer, qs []model.Question) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tPRODUCT\tASK ABOUT\tTIER")
	for _, q := range qs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", q.Item.ID, q.ProductName, q.Dimension, q.Item.Tier)
	}
	tw.Flush()
}

func formatPrices(w io.Writer, recs []model.PriceRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUPPLIER\tPRICE\tUNIT\tFROM\tTO\tSOURCE")
	for _, r := range recs {
		to := "open"
		if r.EffectiveTo != nil {
			to = r.EffectiveTo.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%d\t%s %s\t%s\t%s\t%s\t%s\n",
			r.SupplierID, r.Currency, r.UnitPrice.StringFixed(2), r.Unit, r.EffectiveFrom.Format("2006-01-02"), to, r.Source)
	}
	tw.Flush()
}

func formatSearch(w io.Writer, results []catalog.SearchResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRODUCT\tSIMILARITY\tBAND")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%s\n", r.Product.ID, r.Product.Name, r.Similarity, r.Band)
	}
	tw.Flush()
}

func formatProfile(w io.Writer, p *model.EngagementProfile) {
	fmt.Fprintf(w, "Entity:       %d\n", p.EntityID)
	fmt.Fprintf(w, "Level:        %s (score %.3f)\n", p.Level, p.Score)
	fmt.Fprintf(w, "Drip/session: %d\n", p.DripPerSession)
	fmt.Fprintf(w, "Sessions:     %d in window\n", p.SessionsLast30d)
	fmt.Fprintf(w, "Corrections:  %d (%d with reason)\n", p.TotalCorrections, p.CorrectionsWithReason)
	fmt.Fprintf(w, "Drip:         %d answered, %d skipped\n", p.DripAnswered, p.DripSkipped)
	fmt.Fprintf(w, "Configured:   %d products\n", p.ConfiguredProducts)
}
