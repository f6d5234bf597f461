package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frepi/frepi-core/internal/model"
)

var dripCmd = &cobra.Command{
	Use:   "drip",
	Short: "Work the preference question queue",
}

// -- drip next --

var dripNextCmd = &cobra.Command{
	Use:   "next <entity-id>",
	Short: "Select the next questions for a conversation session",
	Long:  "Marks up to the engagement level's allowance of queue items as asked and prints them.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			qs, err := env.Queue.NextQuestions(ctx, entityID)
			if err != nil {
				return err
			}
			if len(qs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No questions for this session.")
				return nil
			}
			formatQuestions(cmd.OutOrStdout(), qs)
			return nil
		})
	},
}

// -- drip queue --

var dripQueueCmd = &cobra.Command{
	Use:   "queue <entity-id>",
	Short: "List an entity's queue items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityID, err := parseID("entity", args[0])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			items, err := env.Queue.Queue(ctx, entityID)
			if err != nil {
				return err
			}
			formatQueue(cmd.OutOrStdout(), items)
			return nil
		})
	},
}

// -- drip answer --

var dripAnswerCmd = &cobra.Command{
	Use:   "answer <item-id> <value>",
	Short: "Record the answer to a queue item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := parseID("queue item", args[0])
		if err != nil {
			return err
		}
		dim, _ := cmd.Flags().GetString("dimension")
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			p, err := env.Queue.RecordAnswer(ctx, itemID, model.Dimension(dim), args[1])
			if err != nil {
				return err
			}
			formatProfile(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

// -- drip skip --

var dripSkipCmd = &cobra.Command{
	Use:   "skip <item-id>",
	Short: "Record that a queue item was skipped",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := parseID("queue item", args[0])
		if err != nil {
			return err
		}
		return runWithEnv(cmd, func(ctx context.Context, env *appEnv) error {
			p, err := env.Queue.RecordSkip(ctx, itemID)
			if err != nil {
				return err
			}
			formatProfile(cmd.OutOrStdout(), p)
			return nil
		})
	},
}

func init() {
	dripAnswerCmd.Flags().String("dimension", "", "dimension answered (default: the item's next open dimension)")
	dripCmd.AddCommand(dripNextCmd, dripQueueCmd, dripAnswerCmd, dripSkipCmd)
	rootCmd.AddCommand(dripCmd)
}
