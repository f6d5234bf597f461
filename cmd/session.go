package main

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/frepi/frepi-core/internal/model"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage onboarding sessions",
	Long:  "Open, inspect and move onboarding sessions through open, ready and abandoned.",
}

// -- session open --

var sessionOpenCmd = &cobra.Command{
	Use:   "open <chat-id>",
	Short: "Return the chat's active session, creating one if needed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "invalid chat id %q", args[0])
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			sess, err := env.Staging.GetOrCreate(ctx, chatID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sess)
		})
	},
}

// -- session show --

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session and what it has staged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			sum, err := env.Staging.Summary(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), sum)
			}
			formatSummary(cmd.OutOrStdout(), sum)
			return nil
		})
	},
}

// -- session info --

var sessionInfoCmd = &cobra.Command{
	Use:   "info <session-id>",
	Short: "Set the restaurant and contact details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var info model.BasicInfo
		info.RestaurantName, _ = cmd.Flags().GetString("name")
		info.City, _ = cmd.Flags().GetString("city")
		info.RestaurantType, _ = cmd.Flags().GetString("type")
		info.ContactName, _ = cmd.Flags().GetString("contact")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			return env.Staging.SetBasicInfo(ctx, args[0], info)
		})
	},
}

// -- session analyze --

var sessionAnalyzeCmd = &cobra.Command{
	Use:   "analyze <session-id>",
	Short: "Stage price ceilings and usual brands inferred from the invoices",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			a, err := env.Staging.Analyze(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), a)
			}
			formatAnalysis(cmd.OutOrStdout(), a)
			return nil
		})
	},
}

// -- session ready / reopen / abandon --

func transitionCmd(use, short string, fn func(*appEnv) func(context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
				if err := fn(env)(ctx, args[0]); err != nil {
					return err
				}
				sess, err := env.Staging.Get(ctx, args[0])
				if err != nil {
					return err
				}
				cmd.Printf("session %s is %s\n", sess.ID, sess.Status)
				return nil
			})
		},
	}
}

func init() {
	sessionShowCmd.Flags().Bool("json", false, "print the summary as JSON")
	sessionAnalyzeCmd.Flags().Bool("json", false, "print the analysis as JSON")

	sessionInfoCmd.Flags().String("name", "", "restaurant name")
	sessionInfoCmd.Flags().String("city", "", "city")
	sessionInfoCmd.Flags().String("type", "", "restaurant type")
	sessionInfoCmd.Flags().String("contact", "", "contact name")
	_ = sessionInfoCmd.MarkFlagRequired("name")
	_ = sessionInfoCmd.MarkFlagRequired("contact")

	sessionCmd.AddCommand(sessionOpenCmd, sessionShowCmd, sessionInfoCmd, sessionAnalyzeCmd,
		transitionCmd("ready", "Mark a session ready for commit", func(e *appEnv) func(context.Context, string) error { return e.Staging.MarkReady }),
		transitionCmd("reopen", "Move a ready session back to open", func(e *appEnv) func(context.Context, string) error { return e.Staging.Reopen }),
		transitionCmd("abandon", "Abandon a session", func(e *appEnv) func(context.Context, string) error { return e.Staging.Abandon }),
	)
	rootCmd.AddCommand(sessionCmd)
}
