package main

import (
	"context"

	"github.com/spf13/cobra"
)

var commitCmd = &cobra.Command{
	Use:   "commit <session-id>",
	Short: "Commit a ready session into the production model",
	Long:  "Runs every commit step in one transaction. Nothing is written unless all steps succeed. Requires --yes as the user's confirmation.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirmed, _ := cmd.Flags().GetBool("yes")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			orch, err := env.orchestrator()
			if err != nil {
				return err
			}
			res, err := orch.Commit(ctx, args[0], confirmed)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			formatCommit(cmd.OutOrStdout(), res)
			return nil
		})
	},
}

func init() {
	commitCmd.Flags().Bool("yes", false, "confirm the commit")
	commitCmd.Flags().Bool("json", false, "print the result as JSON")
	rootCmd.AddCommand(commitCmd)
}
