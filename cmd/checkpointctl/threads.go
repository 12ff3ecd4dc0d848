package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudihinds/langgraph-agent-sub011/graph/interrupt"
	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

func newThreadsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List, inspect, resume and remove workflow threads",
	}
	cmd.AddCommand(
		newThreadsLsCmd(flags),
		newThreadsInspectCmd(flags),
		newThreadsResumeCmd(flags),
		newThreadsRmCmd(flags),
	)
	return cmd
}

func newThreadsLsCmd(flags *rootFlags) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List threads with their latest checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, done, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer done()

			ids, err := st.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}
			sort.Strings(ids)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "THREAD\tSTATUS\tVERSION\tSTEP\tNODE\tUPDATED")
			for _, id := range ids {
				cp, err := st.Get(cmd.Context(), id)
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				if err != nil {
					return fmt.Errorf("load thread %s: %w", id, err)
				}
				if status != "" && string(cp.Metadata.Status) != status {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
					id, cp.Metadata.Status, cp.Version, cp.Metadata.Step, cp.Metadata.Node,
					cp.Metadata.Timestamp.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only show threads with this status")
	return cmd
}

func newThreadsInspectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <thread-id>",
		Short: "Print the latest checkpoint of a thread as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, done, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer done()

			cp, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load thread %s: %w", args[0], err)
			}
			out := json.NewEncoder(cmd.OutOrStdout())
			out.SetIndent("", "  ")
			return out.Encode(cp)
		},
	}
}

func newThreadsResumeCmd(flags *rootFlags) *cobra.Command {
	var (
		in     interrupt.ResumeInput
		routes interrupt.Routes
	)
	cmd := &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Answer the pending interrupt of a thread",
		Long: `Consumes the pending interrupt of a thread and records the decision.

The workflow process continues the thread from the recorded decision the next
time it picks the thread up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, logger, done, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer done()

			coord := interrupt.NewCoordinator[json.RawMessage](st,
				interrupt.WithRoutes(routes),
				interrupt.WithLogger(logger),
			)
			dec, err := coord.Resume(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}

			outcome := "resumed"
			switch {
			case dec.Terminated:
				outcome = "terminated"
			case dec.Reinterrupted:
				outcome = "reinterrupted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread %s %s (intent %s, version %d)\n", dec.ThreadID, outcome, dec.Intent, dec.Version)
			if dec.Next != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "next node: %s\n", dec.Next)
			}
			if dec.Reinterrupted {
				fmt.Fprintf(cmd.OutOrStdout(), "question: %s\n", dec.Interrupt.Question)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Action, "action", "", "approve, modify, reject or question")
	cmd.Flags().StringVar(&in.Feedback, "feedback", "", "free-form reviewer feedback")
	cmd.Flags().StringVar(&routes.Approve, "approve-route", "", "node to continue with on approve")
	cmd.Flags().StringVar(&routes.Modify, "modify-route", "", "node to continue with on modify")
	cmd.Flags().StringVar(&routes.Reject, "reject-route", "", "node to continue with on reject")
	cmd.Flags().StringVar(&routes.Question, "question-route", "", "node to continue with on question")
	return cmd
}

func newThreadsRmCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <thread-id>...",
		Short: "Remove one or more threads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, done, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer done()

			var errs []error
			for _, id := range args {
				if err := st.Delete(cmd.Context(), id); err != nil {
					errs = append(errs, fmt.Errorf("remove %s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", id)
			}
			return errors.Join(errs...)
		},
	}
}
