package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/output"
	"github.com/3leaps/hepgrid/pkg/pipeline"
)

var getCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Download the results of a record",
	Long: `Download the results of a warmup or production record.

A warmup record retrieves and validates the warmup grid, falling back to
per-worker backups when the primary archive is missing or corrupt.

With --from-stdout a warmup record instead rebuilds its grid from the grid
block the warmup printed to its stdout.

A production record fetches one output archive per seed and extracts logs
into <dest>/log and data files into <dest>/dat. Missing seeds are skipped
and reported.

Examples:
  hepgrid get 12
  hepgrid get 13 --seeds 400-449 --dest ./results
  hepgrid get 13 --json
  hepgrid get 12 --from-stdout`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

var checkWarmupCmd = &cobra.Command{
	Use:   "check-warmup ID",
	Short: "Report whether the warmup of a record is present and valid",
	Long: `Report whether the warmup archive of a record is present and valid.

With --resubmit a missing or corrupted warmup is submitted again, but only
when none of the record's jobs is still running or waiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckWarmup,
}

func init() {
	rootCmd.AddCommand(getCmd, checkWarmupCmd)
	getCmd.Flags().String("seeds", "", "Seed or seed range A-B (default: the record's seeds)")
	getCmd.Flags().String("dest", "", "Destination directory (default: <base_dir>/<runfolder>)")
	getCmd.Flags().Bool("json", false, "Report per-seed results as JSON lines")
	getCmd.Flags().Bool("from-stdout", false, "Rebuild a warmup grid from the job stdout")
	checkWarmupCmd.Flags().Bool("resubmit", false, "Resubmit the warmup when it is missing or corrupted and no job is active")
}

func loadRecord(cmd *cobra.Command, a *app, rawID string) (*jobstore.Record, error) {
	id, err := parseRecordID(rawID)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid record id", err)
	}
	mgr, err := a.manager(cmd.Context())
	if err != nil {
		return nil, err
	}
	rec, err := mgr.Record(cmd.Context(), id)
	if err != nil {
		return nil, actionError(err)
	}
	return rec, nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := loadRecord(cmd, a, args[0])
	if err != nil {
		return err
	}
	pipe, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	dest, _ := cmd.Flags().GetString("dest")

	if rec.JobType == jobstore.JobTypeWarmup {
		if dest == "" {
			dest = a.warmupDir(*rec)
		}
		if fromStdout, _ := cmd.Flags().GetBool("from-stdout"); fromStdout {
			mgr, err := a.manager(ctx)
			if err != nil {
				return err
			}
			path, err := pipe.GridFromStdout(ctx, mgr.Adapter(), *rec, dest)
			if err != nil {
				return exitError(foundry.ExitExternalServiceUnavailable, "Failed to rebuild grid from stdout", err)
			}
			observability.CLILogger.Info("Warmup grid rebuilt from stdout", zap.String("path", path))
			return nil
		}
		fetch, err := pipe.RetrieveWarmup(ctx, rec.Runcard, rec.RunFolder, dest)
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Failed to retrieve warmup", err)
		}
		observability.CLILogger.Info("Warmup retrieved",
			zap.String("source", fetch.Source),
			zap.Bool("backup", fetch.Backup),
			zap.Strings("files", fetch.Files()),
			zap.String("dest", dest))
		return nil
	}

	seeds := pipeline.SeedsRange(rec.Seed, rec.NoRuns)
	if raw, _ := cmd.Flags().GetString("seeds"); raw != "" {
		if seeds, err = parseSeedRange(raw); err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --seeds", err)
		}
	}
	if len(seeds) == 0 {
		return exitError(foundry.ExitInvalidArgument, "No seeds to fetch", fmt.Errorf("record %d has no seed range; pass --seeds", rec.ID))
	}
	if dest == "" {
		dest = a.productionDir(*rec)
	}
	report, err := pipe.FetchProduction(ctx, pipeline.FetchRequest{
		Runcard:   rec.Runcard,
		RunFolder: rec.RunFolder,
		Seeds:     seeds,
		Dest:      dest,
	})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to fetch production output", err)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		w := a.jsonl(os.Stdout)
		defer func() { _ = w.Close() }()
		for _, r := range report.Results {
			if err := w.WriteFetch(ctx, output.FetchFromSeed(r)); err != nil {
				return err
			}
		}
	} else {
		_, _ = fmt.Fprintf(os.Stdout, "fetched %d, missing %d, failed %d of %d seed(s) into %s\n",
			len(report.Fetched()), len(report.Missing()), len(report.Failed()), len(seeds), dest)
	}
	if n := len(report.Failed()); n > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Some seeds failed", fmt.Errorf("%d seed(s) failed", n))
	}
	return nil
}

func runCheckWarmup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := loadRecord(cmd, a, args[0])
	if err != nil {
		return err
	}
	pipe, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	presence, err := pipe.CheckWarmup(ctx, rec.Runcard, rec.RunFolder)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to check warmup", err)
	}
	_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\n", rec.Identity(), presence)
	if presence == pipeline.PresencePresent {
		return nil
	}
	if resubmit, _ := cmd.Flags().GetBool("resubmit"); resubmit {
		next, err := resubmitWarmup(ctx, a, *rec, presence)
		if errors.Is(err, errJobsActive) {
			observability.CLILogger.Warn("Warmup jobs still active; not resubmitting", zap.Int64("record_id", rec.ID), zap.Error(err))
			return exitError(foundry.ExitFileNotFound, "Warmup not usable", err)
		}
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Warmup resubmission failed", err)
		}
		observability.CLILogger.Info("Warmup resubmitted",
			zap.Int64("record_id", next.ID),
			zap.Strings("job_ids", next.JobIDs))
		return nil
	}
	return exitError(foundry.ExitFileNotFound, "Warmup not usable", fmt.Errorf("warmup is %s", presence))
}

var errJobsActive = errors.New("warmup jobs still running or waiting")

// resubmitWarmup submits a new warmup record for rec once none of its jobs
// is running or waiting. The staged input bundle is reused.
func resubmitWarmup(ctx context.Context, a *app, rec jobstore.Record, presence pipeline.Presence) (*jobstore.Record, error) {
	agg, err := a.aggregator(ctx)
	if err != nil {
		return nil, err
	}
	if c := agg.RecordStatus(ctx, rec).Breakdown.Counts; c.Running+c.Waiting > 0 {
		return nil, fmt.Errorf("%w: record %d has %d running and %d waiting", errJobsActive, rec.ID, c.Running, c.Waiting)
	}
	pipe, err := a.pipeline(ctx)
	if err != nil {
		return nil, err
	}
	if err := pipe.RearmWarmup(rec.Runcard, rec.RunFolder, fmt.Sprintf("warmup %s; resubmitting record %d", presence, rec.ID)); err != nil {
		return nil, err
	}
	mgr, err := a.manager(ctx)
	if err != nil {
		return nil, err
	}
	sel := selectedRun{}
	sel.Runcard, sel.RunFolder = rec.Runcard, rec.RunFolder
	req := buildSubmitRequest(a.cfg, sel, jobstore.JobTypeWarmup)
	req.Queue = rec.Queue
	return mgr.Submit(ctx, req)
}
