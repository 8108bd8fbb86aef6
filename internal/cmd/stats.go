package cmd

import (
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats [ID...]",
	Short: "Poll the scheduler and summarise job status",
	Long: `Poll every job of the given records (all active records when none are
given), write the rolled-up status back onto each record and print a
dashboard with per-status totals.

The dashboard checks that the per-status counts add up to the number of
sub-jobs the scheduler reported, and flags a mismatch.

Examples:
  hepgrid stats
  hepgrid stats 12 13 --backend local
  hepgrid stats --json`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("json", false, "Output as JSON lines")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ids := make([]int64, 0, len(args))
	for _, raw := range args {
		id, err := parseRecordID(raw)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid record id", err)
		}
		ids = append(ids, id)
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	agg, err := a.aggregator(ctx)
	if err != nil {
		return err
	}
	start := time.Now()
	dash, err := agg.StatsJob(ctx, ids...)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Interrupted", ctx.Err())
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to reconcile records", err)
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		w := a.jsonl(os.Stdout)
		defer func() { _ = w.Close() }()
		return output.WriteDashboard(ctx, w, dash, time.Since(start))
	}
	if err := dash.WriteTable(os.Stdout); err != nil {
		return err
	}
	if !dash.Consistent() {
		observability.CLILogger.Warn("Status counts do not cover every sub-job",
			zap.Int("counted", dash.Counts.Total()),
			zap.Int("total", dash.Total))
	}
	return nil
}
