package cmd

import (
	"context"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/output"
	"github.com/3leaps/hepgrid/pkg/status"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile active records on a schedule",
	Long: `Run the status sweep of stats for every active record of the backend on
a cron schedule (watch.schedule, default "@every 10m") until interrupted.
Completed warmups advance the pipeline so production can be staged.

A sweep that is still running when the next one is due is skipped.

Examples:
  hepgrid watch --backend grid
  hepgrid watch --schedule "*/5 * * * *"
  hepgrid watch --once
  hepgrid watch --json > sweeps.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("schedule", "", "Cron expression or descriptor (default watch.schedule)")
	watchCmd.Flags().Bool("once", false, "Run a single sweep and exit")
	watchCmd.Flags().Bool("json", false, "Stream every sweep to stdout as JSON lines")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	agg, err := a.aggregator(ctx)
	if err != nil {
		return err
	}
	var stream output.Writer
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		w := a.jsonl(os.Stdout)
		defer func() { _ = w.Close() }()
		stream = w
	}
	sweep := func() { runSweep(ctx, agg, stream) }

	if once, _ := cmd.Flags().GetBool("once"); once {
		sweep()
		return nil
	}

	schedule, _ := cmd.Flags().GetString("schedule")
	if schedule == "" {
		schedule = a.cfg.Watch.Schedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, sweep); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid watch schedule", err)
	}

	observability.CLILogger.Info("Watching records",
		zap.String("backend", string(a.kind)),
		zap.String("schedule", schedule))
	sweep()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	observability.CLILogger.Info("Watch stopped")
	return nil
}

// runSweep reconciles every active record. stream may be nil.
func runSweep(ctx context.Context, agg *status.Aggregator, stream output.Writer) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	dash, err := agg.StatsJob(ctx)
	if err != nil {
		observability.CLILogger.Error("Status sweep failed", zap.Error(err))
		if stream != nil {
			_ = stream.WriteError(ctx, &output.ErrorRecord{Code: output.ErrCodeUnavailable, Message: err.Error()})
		}
		return
	}
	if stream != nil {
		if err := output.WriteDashboard(ctx, stream, dash, time.Since(start)); err != nil {
			observability.CLILogger.Warn("Could not write sweep", zap.Error(err))
		}
	}
	c := dash.Counts
	observability.CLILogger.Info("Status sweep finished",
		zap.Int("records", len(dash.Rows)),
		zap.Int("done", c.Done),
		zap.Int("waiting", c.Waiting),
		zap.Int("running", c.Running),
		zap.Int("failed", c.Fail),
		zap.Int("unknown", c.Unknown),
		zap.Duration("elapsed", time.Since(start)))
	if !dash.Consistent() {
		observability.CLILogger.Warn("Status counts do not cover every sub-job",
			zap.Int("counted", c.Total()),
			zap.Int("total", dash.Total))
	}
}
