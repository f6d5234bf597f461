package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/frepi/frepi-core/internal/catalog"
	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/pricing"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Record and inspect supplier prices",
}

// -- price submit --

var priceSubmitCmd = &cobra.Command{
	Use:   "submit <entity-id> <supplier-id> <product-id> <unit-price>",
	Short: "Record a new current price for a mapped supplier-product pair",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ids [3]int64
		for i, kind := range []string{"entity", "supplier", "product"} {
			id, err := parseID(kind, args[i])
			if err != nil {
				return err
			}
			ids[i] = id
		}
		price, err := decimal.NewFromString(args[3])
		if err != nil {
			return eris.Wrapf(err, "invalid unit price %q", args[3])
		}
		unit, _ := cmd.Flags().GetString("unit")
		currency, _ := cmd.Flags().GetString("currency")
		source, _ := cmd.Flags().GetString("source")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			rec, err := env.Ledger.Submit(ctx, pricing.Submission{
				EntityID:   ids[0],
				SupplierID: ids[1],
				ProductID:  ids[2],
				UnitPrice:  price,
				Unit:       unit,
				Currency:   currency,
				Source:     model.PriceSource(source),
			})
			if err != nil {
				return err
			}
			formatPrices(cmd.OutOrStdout(), []model.PriceRecord{*rec})
			return nil
		})
	},
}

// -- price current --

var priceCurrentCmd = &cobra.Command{
	Use:   "current <entity-id> <product-id>",
	Short: "List a product's open prices, cheapest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		productID, err := parseID("product", args[1])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			recs, err := env.Ledger.Current(ctx, entityID, productID)
			if err != nil {
				return err
			}
			formatPrices(cmd.OutOrStdout(), recs)
			return nil
		})
	},
}

// -- price history --

var priceHistoryCmd = &cobra.Command{
	Use:   "history <supplier-id> <product-id>",
	Short: "List every price a supplier has had for a product",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		supplierID, err := parseID("supplier", args[0])
		if err != nil {
			return err
		}
		productID, err := parseID("product", args[1])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			recs, err := env.Ledger.History(ctx, supplierID, productID)
			if err != nil {
				return err
			}
			formatPrices(cmd.OutOrStdout(), recs)
			return nil
		})
	},
}

// -- price register --

var priceRegisterCmd = &cobra.Command{
	Use:   "register <entity-id> <supplier-id> <product-id>",
	Short: "Map a supplier to one of the entity's products",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ids [3]int64
		for i, kind := range []string{"entity", "supplier", "product"} {
			id, err := parseID(kind, args[i])
			if err != nil {
				return err
			}
			ids[i] = id
		}
		name, _ := cmd.Flags().GetString("name")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			m, created, err := catalog.Register(ctx, env.Store, catalog.Registration{
				EntityID:            ids[0],
				SupplierID:          ids[1],
				ProductID:           ids[2],
				SupplierProductName: name,
			})
			if err != nil {
				return err
			}
			if !created {
				cmd.Printf("mapping %d already exists\n", m.ID)
				return nil
			}
			cmd.Printf("mapping %d created\n", m.ID)
			return nil
		})
	},
}

func init() {
	priceSubmitCmd.Flags().String("unit", "", "unit of measure")
	priceSubmitCmd.Flags().String("currency", "", "3-letter currency code (default BRL)")
	priceSubmitCmd.Flags().String("source", string(model.PriceFromSupplier), "who reported the price")
	priceRegisterCmd.Flags().String("name", "", "the supplier's own name for the product")
	priceCmd.AddCommand(priceSubmitCmd, priceCurrentCmd, priceHistoryCmd, priceRegisterCmd)
	rootCmd.AddCommand(priceCmd)
}
