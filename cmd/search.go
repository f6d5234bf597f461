package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <entity-id> <text...>",
	Short: "Find an entity's products by meaning",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			s, err := env.searcher()
			if err != nil {
				return err
			}
			results, err := s.SearchText(ctx, entityID, strings.Join(args[1:], " "), limit)
			if err != nil {
				return err
			}
			formatSearch(cmd.OutOrStdout(), results)
			return nil
		})
	},
}

func init() {
	searchCmd.Flags().Int("limit", 0, "maximum results (default from config)")
	rootCmd.AddCommand(searchCmd)
}
