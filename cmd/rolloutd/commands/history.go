package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rolloutd/rolloutd/pkg/store"
)

var historyLimit int

// newHistoryCommand builds the "history" subcommand tree for reading back
// the SQLite-backed run ledger written by every rollout invocation.
func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "inspect past rollout runs recorded in the history store",
	}
	cmd.PersistentFlags().IntVar(&historyLimit, "limit", 20, "maximum number of rows to print")

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	return cmd
}

func openReadOnlyStore(ctx context.Context) (*store.Store, error) {
	s, err := store.New(store.Config{Path: resolveHistoryDB()})
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func newHistoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openReadOnlyStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			runs, err := s.ListRuns(ctx, historyLimit, 0)
			if err != nil {
				return err
			}
			for _, r := range runs {
				status := string(r.Status)
				completed := "-"
				if r.CompletedAt != nil {
					completed = r.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
				}
				fmt.Printf("%s\t%s\t%s\t%s\tstarted=%s\tcompleted=%s\n",
					r.ID, r.Host, r.Mode, status,
					r.StartedAt.Format("2006-01-02T15:04:05Z07:00"), completed)
			}
			return nil
		},
	}
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "show one run's step events and audited side effects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openReadOnlyStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			runID := args[0]
			run, err := s.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Printf("run %s  host=%s mode=%s status=%s\n", run.ID, run.Host, run.Mode, run.Status)
			if run.Error != nil && *run.Error != "" {
				fmt.Printf("  error: %s\n", *run.Error)
			}

			events, err := s.ListEvents(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Println("events:")
			for _, e := range events {
				fmt.Printf("  [%s] %s %s %s\n", e.CreatedAt.Format("15:04:05"), e.Step, e.Kind, e.Message)
			}

			entries, err := s.ListAuditEntries(ctx, runID)
			if err != nil {
				return err
			}
			fmt.Println("audit:")
			for _, a := range entries {
				fmt.Printf("  [%s] %s %s %s -> %s (%s)\n",
					a.CreatedAt.Format("15:04:05"), a.Step, a.Kind, a.Detail, a.Outcome,
					strconv.FormatInt(a.Duration.Milliseconds(), 10)+"ms")
			}
			return nil
		},
	}
}
