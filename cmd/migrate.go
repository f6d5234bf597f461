package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runWithEnv opens the environment for the duration of fn.
func runWithEnv(cmd *cobra.Command, fn func(ctx context.Context, env *appEnv) error) error {
	ctx := cmd.Context()
	env, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
