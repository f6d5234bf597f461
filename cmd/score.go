package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/frepi/frepi-core/internal/model"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Inspect and update engagement scores",
}

func profileCmd(use, short string, fn func(context.Context, *appEnv, int64) (*model.EngagementProfile, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <entity-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entityID, err := parseID("entity", args[0])
			if err != nil {
				return err
			}
			return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
				p, err := fn(ctx, env, entityID)
				if err != nil {
					return err
				}
				formatProfile(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}
}

func init() {
	scoreCmd.AddCommand(
		profileCmd("show", "Show the stored engagement profile", func(ctx context.Context, env *appEnv, id int64) (*model.EngagementProfile, error) {
			return env.Scorer.Get(ctx, id)
		}),
		profileCmd("recompute", "Recount signals and rescore", func(ctx context.Context, env *appEnv, id int64) (*model.EngagementProfile, error) {
			return env.Scorer.Recompute(ctx, id)
		}),
		profileCmd("session", "Record a conversation session now and rescore", func(ctx context.Context, env *appEnv, id int64) (*model.EngagementProfile, error) {
			return env.Scorer.RecordSession(ctx, id, time.Now())
		}),
	)
	rootCmd.AddCommand(scoreCmd)
}
