package list

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"capacityeval/internal/output"
	"capacityeval/internal/store"
)

func addStoreFlag(cmd *cobra.Command) {
	cmd.Flags().String("store", "", "SQLite file recording evaluation runs")
}

func openStore() (*store.Store, error) {
	path := viper.GetString("store.path")
	if path == "" {
		return nil, fmt.Errorf("no store configured (set --store or store.path)")
	}
	return store.Open(path)
}

// NewRunsCmd lists stored evaluation runs
func NewRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored evaluation runs",
		Example: `  # Show the ten most recent runs
  capacityeval list runs --store ~/.capacityeval/history.db --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return printRuns(contextOf(cmd), cmd.OutOrStdout(), s, limit)
		},
	}

	addStoreFlag(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

// NewRunCmd prints the report of one stored run
func NewRunCmd() *cobra.Command {
	var csvOutput bool

	cmd := &cobra.Command{
		Use:   "run <run-id>",
		Short: "Show the recommendations of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.LoadRun(contextOf(cmd), args[0])
			if err != nil {
				return err
			}
			if csvOutput {
				return output.WriteCSV(cmd.OutOrStdout(), report.Recommendations)
			}
			output.PrintSummary(cmd.OutOrStdout(), report)
			return nil
		},
	}

	addStoreFlag(cmd)
	cmd.Flags().BoolVar(&csvOutput, "csv", false, "Print the run as CSV")
	return cmd
}

// NewHistoryCmd shows how the recommendation of a resource changed across runs
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <resource-id>",
		Short: "Show the recommendation history of a table or index",
		Args:  cobra.ExactArgs(1),
		Example: `  capacityeval list history orders:by-customer --store history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return printHistory(contextOf(cmd), cmd.OutOrStdout(), s, args[0])
		},
	}

	addStoreFlag(cmd)
	return cmd
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printRuns(ctx context.Context, out io.Writer, s *store.Store, limit int) error {
	runs, err := s.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs stored")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tGENERATED\tREGION\tSOURCE\tEVALUATED\tFAILED\tMONTHLY SAVINGS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%.2f\n",
			r.RunID,
			r.GeneratedAt.Format(time.RFC3339),
			r.Region,
			r.Source,
			r.Summary.Evaluated,
			r.Summary.Failed,
			r.Summary.MonthlySavings)
	}
	return tw.Flush()
}

func printHistory(ctx context.Context, out io.Writer, s *store.Store, resourceID string) error {
	history, err := s.History(ctx, resourceID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintf(out, "No history for %s\n", resourceID)
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GENERATED\tRUN ID\tCURRENT\tRECOMMENDED\tSTATUS\tMONTHLY SAVINGS")
	for _, h := range history {
		rec := h.Recommendation
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\n",
			h.GeneratedAt.Format(time.RFC3339),
			h.RunID,
			rec.CurrentMode,
			rec.RecommendedMode,
			rec.Status,
			rec.MonthlySavings)
	}
	return tw.Flush()
}
