package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/frepi/frepi-core/internal/store"
)

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Entity administration",
}

// -- entity show --

var entityShowCmd = &cobra.Command{
	Use:   "show <entity-id>",
	Short: "Show an entity, including any halt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			return env.Store.InTx(ctx, func(tx *store.Tx) error {
				e, err := tx.GetEntity(ctx, entityID)
				if err != nil {
					return err
				}
				if e == nil {
					return eris.Errorf("entity %d not found", entityID)
				}
				return printJSON(cmd.OutOrStdout(), e)
			})
		})
	},
}

// -- entity unhalt --

var entityUnhaltCmd = &cobra.Command{
	Use:   "unhalt <entity-id>",
	Short: "Resume processing for an entity after its data was repaired",
	Long:  "Consistency violations halt an entity and are never repaired automatically. Run this once the data has been fixed by hand.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			if err := env.Store.InTx(ctx, func(tx *store.Tx) error {
				return tx.ClearHalt(ctx, entityID)
			}); err != nil {
				return err
			}
			zap.L().Info("entity halt cleared", zap.Int64("entity_id", entityID))
			return nil
		})
	},
}

func init() {
	entityCmd.AddCommand(entityShowCmd, entityUnhaltCmd)
	rootCmd.AddCommand(entityCmd)
}
