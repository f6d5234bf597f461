package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/frepi/frepi-core/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export <entity-id>",
	Short: "Write an entity's current price sheet as XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			f, err := os.Create(out)
			if err != nil {
				return eris.Wrap(err, "create export file")
			}
			n, err := export.PriceSheet(ctx, env.Store, entityID, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(out) //nolint:errcheck
				return err
			}
			cmd.Printf("wrote %d price(s) to %s\n", n, out)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().String("out", "prices.xlsx", "output file")
	rootCmd.AddCommand(exportCmd)
}
