package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

func newSessionsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect run-tracking sessions",
	}

	var status string
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, _, done, err := openStore(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer done()

			ss, ok := st.(store.SessionStore)
			if !ok {
				return errors.New("backend does not keep sessions")
			}
			sessions, err := ss.ListSessions(cmd.Context(), store.ThreadStatus(status))
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "THREAD\tUSER\tSTATUS\tSTARTED\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.ThreadID, s.UserID, s.Status,
					s.StartTime.Format(time.RFC3339), s.LastActivity.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	ls.Flags().StringVar(&status, "status", "", "only show sessions with this status")
	cmd.AddCommand(ls)
	return cmd
}
