package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/frepi/frepi-core/internal/staging"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Stage onboarding data into a session",
}

// -- stage file --

var stageFileCmd = &cobra.Command{
	Use:   "file <session-id> <document>",
	Short: "Stage a YAML or JSON document of info, invoices and preferences",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[1])
		if err != nil {
			return eris.Wrap(err, "open document")
		}
		defer f.Close() //nolint:errcheck

		doc, err := staging.ReadDocument(f)
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			res, err := env.Staging.Import(ctx, args[0], doc)
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "staged %d invoice(s), %d preference(s)\n", len(res.Invoices), res.Preferences)
			}
			return err
		})
	},
}

// -- stage image --

var stageImageCmd = &cobra.Command{
	Use:   "image <session-id> <photo>",
	Short: "Extract an invoice photo with the vision model and stage it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return eris.Wrap(err, "read photo")
		}
		mediaType, _ := cmd.Flags().GetString("media-type")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			if env.Extractor == nil {
				return eris.New("invoice extraction is not configured (FREPI_ANTHROPIC_KEY)")
			}
			ex, err := env.Extractor.Extract(ctx, data, mediaType)
			if err != nil {
				return err
			}
			res, err := env.Staging.StageExtraction(ctx, args[0], ex)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d line(s), %d new product(s), spend %s\n",
				ex.SupplierName, ex.InvoiceDate, res.Lines, res.NewProducts, res.Spend.StringFixed(2))
			return nil
		})
	},
}

func init() {
	stageImageCmd.Flags().String("media-type", "", "image media type (sniffed when empty)")
	stageCmd.AddCommand(stageFileCmd, stageImageCmd)
	rootCmd.AddCommand(stageCmd)
}
