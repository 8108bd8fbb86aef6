package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/config"
	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/runs"
)

var submitCmd = &cobra.Command{
	Use:   "submit warmup|production [RUNCARD...]",
	Short: "Submit staged runs to the scheduler",
	Long: `Create a job record for each selected run and submit it to the
configured backend. The record is written before the scheduler is called,
so a failed submission stays visible with status fail.

Production submissions fan out to --jobs seeds starting at the next free
seed for the run, never below the configured base seed.

Examples:
  hepgrid submit warmup --run runs.yaml --backend grid
  hepgrid submit production ZJ.run --runfolder r1 --jobs 200 --backend local`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	addRunFlags(submitCmd)
	submitCmd.Flags().Int("jobs", 0, "Production jobs per run (default production.jobs)")
	submitCmd.Flags().Int("base-seed", 0, "Lowest production seed (default production.base_seed)")
	submitCmd.Flags().String("queue", "", "Queue or partition to record with the submission")
	submitCmd.Flags().Int("threads", 0, "Threads per job (default warmup.threads for warmups)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobType, err := parseJobType(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Unknown phase", err)
	}

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	selected, err := resolveRuns(a.cfg, cmd, args[1:])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid run selection", err)
	}
	mgr, err := a.manager(ctx)
	if err != nil {
		return err
	}

	jobs, _ := cmd.Flags().GetInt("jobs")
	baseSeed, _ := cmd.Flags().GetInt("base-seed")
	queue, _ := cmd.Flags().GetString("queue")
	threads, _ := cmd.Flags().GetInt("threads")

	failed := 0
	for _, sel := range selected {
		req := buildSubmitRequest(a.cfg, sel, jobType)
		if jobs > 0 {
			req.Jobs = jobs
		}
		if baseSeed > 0 {
			req.BaseSeed = baseSeed
		}
		if threads > 0 {
			req.Threads = threads
		}
		req.Queue = queue

		rec, err := mgr.Submit(ctx, req)
		if err != nil {
			failed++
			observability.CLILogger.Error("Submission failed",
				zap.String("runcard", sel.Runcard),
				zap.String("runfolder", sel.RunFolder),
				zap.Error(err))
			continue
		}
		observability.CLILogger.Info("Submitted",
			zap.Int64("record_id", rec.ID),
			zap.String("runcard", rec.Runcard),
			zap.String("runfolder", rec.RunFolder),
			zap.Int("jobs", len(rec.JobIDs)))
	}
	if failed > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Submission incomplete",
			fmt.Errorf("%d of %d run(s) failed", failed, len(selected)))
	}
	return nil
}

func parseJobType(raw string) (jobstore.JobType, error) {
	jt, err := jobstore.ParseJobType(raw)
	if err != nil || jt == jobstore.JobTypeSocket {
		return "", fmt.Errorf("want warmup or production, got %q", raw)
	}
	return jt, nil
}

// buildSubmitRequest fills a request from config and the manifest entry.
// The wrapper receives the runcard, run folder and program name; the seed
// and thread count are appended per job by the scheduler.
func buildSubmitRequest(cfg *config.Config, sel selectedRun, jobType jobstore.JobType) runs.SubmitRequest {
	req := runs.SubmitRequest{
		Runcard:    sel.Runcard,
		RunFolder:  sel.RunFolder,
		JobType:    jobType,
		Executable: cfg.Executable.Wrapper,
		WorkDir:    cfg.WorkDir,
		Args: []string{
			"-r", sel.Runcard,
			"-j", sel.RunFolder,
			"-n", filepath.Base(cfg.ExecutablePath()),
		},
	}
	if jobType == jobstore.JobTypeWarmup {
		req.PathFolder = cfg.Warmup.BaseDir
		req.Threads = cfg.Warmup.Threads
		req.Args = append(req.Args, "--warmup")
		return req
	}
	req.PathFolder = cfg.Production.BaseDir
	req.BaseSeed = cfg.Production.BaseSeed
	req.Jobs = cfg.Production.Jobs
	if sel.BaseSeed > 0 {
		req.BaseSeed = sel.BaseSeed
	}
	if sel.Jobs > 0 {
		req.Jobs = sel.Jobs
	}
	req.Args = append(req.Args, "--production")
	return req
}
