package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/frepi/frepi-core/internal/model"
	"github.com/frepi/frepi-core/internal/preference"
)

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Inspect and correct preferences",
}

// -- prefs list --

var prefsListCmd = &cobra.Command{
	Use:   "list <entity-id>",
	Short: "Print an entity's merged preferences with provenance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			prefs, err := env.Preferences.List(ctx, entityID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), prefs)
		})
	},
}

// -- prefs correct --

var prefsCorrectCmd = &cobra.Command{
	Use:   "correct <entity-id> <product-id> <dimension> <value>",
	Short: "Apply a user correction",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		productID, err := parseID("product", args[1])
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		actor, _ := cmd.Flags().GetString("actor")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			p, err := env.Learner.ApplyCorrection(ctx, preference.Correction{
				EntityID:  entityID,
				ProductID: productID,
				Dimension: model.Dimension(args[2]),
				Value:     args[3],
				Reason:    reason,
				Actor:     actor,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		})
	},
}

// -- prefs history --

var prefsHistoryCmd = &cobra.Command{
	Use:   "history <entity-id>",
	Short: "Print an entity's correction log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			hist, err := env.Learner.History(ctx, entityID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), hist)
		})
	},
}

func init() {
	prefsCorrectCmd.Flags().String("reason", "", "why the user corrected it")
	prefsCorrectCmd.Flags().String("actor", "user", "who made the correction")
	prefsCmd.AddCommand(prefsListCmd, prefsCorrectCmd, prefsHistoryCmd)
	rootCmd.AddCommand(prefsCmd)
}
