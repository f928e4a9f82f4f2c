package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatagent/checkpoint"
)

// withSaver opens the configured checkpoint store for the duration of fn.
func withSaver(ctx context.Context, flags *globalFlags, fn func(*checkpoint.Saver) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	store := checkpoint.NewSQLite(cfg.Agent.CheckpointStoragePath)
	saver, err := store.Start(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Stop() }()

	return fn(saver)
}

// newCheckpointCmd creates the "chatagent checkpoint" command group.
func newCheckpointCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and manage pipeline checkpoints",
	}

	cmd.AddCommand(
		newCheckpointListCmd(flags),
		newCheckpointShowCmd(flags),
		newCheckpointClearCmd(flags),
	)

	return cmd
}

func newCheckpointListCmd(flags *globalFlags) *cobra.Command {
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the latest checkpoint of every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSaver(cmd.Context(), flags, func(s *checkpoint.Saver) error {
				list := s.List
				if pendingOnly {
					list = s.Pending
				}
				states, err := list(cmd.Context())
				if err != nil {
					return fmt.Errorf("checkpoint list: %w", err)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CONVERSATION\tMESSAGE\tSTAGE\tMODE\tUPDATED\tINVOCATION")
				for _, st := range states {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
						st.Event.ConversationID, st.Event.MessageID, st.Stage, st.Mode,
						st.Updated.Format(time.RFC3339), st.InvocationID)
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "only show unfinished invocations")

	return cmd
}

func newCheckpointShowCmd(flags *globalFlags) *cobra.Command {
	var withWrites bool

	cmd := &cobra.Command{
		Use:   "show <conversation_id>",
		Short: "Print a conversation's latest checkpoint as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("checkpoint show: invalid conversation id %q: %w", args[0], err)
			}

			return withSaver(cmd.Context(), flags, func(s *checkpoint.Saver) error {
				st, err := s.Get(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("checkpoint show: %w", err)
				}
				if st == nil {
					return fmt.Errorf("checkpoint show: no checkpoint for conversation %d", id)
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(st); err != nil {
					return err
				}

				if !withWrites {
					return nil
				}
				writes, err := s.Writes(cmd.Context(), st.InvocationID)
				if err != nil {
					return fmt.Errorf("checkpoint show: %w", err)
				}
				for _, w := range writes {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s %s\n", w.Created.Format(time.RFC3339Nano), w.Stage, w.ID)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&withWrites, "writes", false, "also list the write log of the invocation")

	return cmd
}

func newCheckpointClearCmd(flags *globalFlags) *cobra.Command {
	var conversation int64

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete checkpoints",
		Long:  "Delete the checkpoint of one conversation, or every checkpoint and the write log when no conversation is given.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSaver(cmd.Context(), flags, func(s *checkpoint.Saver) error {
				if conversation != 0 {
					if err := s.Delete(cmd.Context(), conversation); err != nil {
						return fmt.Errorf("checkpoint clear: %w", err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared checkpoint for conversation %d\n", conversation)
					return nil
				}
				if err := s.Clear(cmd.Context()); err != nil {
					return fmt.Errorf("checkpoint clear: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Cleared all checkpoints")
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&conversation, "conversation", 0, "only clear this conversation")

	return cmd
}
