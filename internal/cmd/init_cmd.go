package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/runcard"
)

var initCmd = &cobra.Command{
	Use:   "init warmup|production [RUNCARD...]",
	Short: "Stage warmup or production bundles",
	Long: `Pack the executable, the runcard and (for production) the warmup grid
into an input bundle and upload it to the storage provider.

Production requires a completed warmup of the same runcard and run folder,
unless --warmup points at a local grid file or directory.

Examples:
  hepgrid init warmup --run runs.yaml
  hepgrid init production ZJ.run --runfolder r1 --warmup ./grids/`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"warmup", "production"},
	RunE:      runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	addRunFlags(initCmd)
	initCmd.Flags().String("warmup", "", "Local warmup grid file or directory to pack")
	initCmd.Flags().Bool("continue", false, "Stage a continuation warmup")
	initCmd.Flags().Bool("overwrite-warmup", false, "Pack the existing remote warmup into the new warmup bundle")
	initCmd.Flags().Bool("reset", false, "Discard the stored lifecycle before staging")
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	phase := args[0]
	if phase != "warmup" && phase != "production" {
		return exitError(foundry.ExitInvalidArgument, "Unknown phase", fmt.Errorf("want warmup or production, got %q", phase))
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
	pipe, err := a.pipeline(ctx)
	if err != nil {
		return err
	}

	opts := pipeline.StageOptions{}
	opts.ProvidedWarmup, _ = cmd.Flags().GetString("warmup")
	opts.Continue, _ = cmd.Flags().GetBool("continue")
	opts.OverwriteWarmup, _ = cmd.Flags().GetBool("overwrite-warmup")
	opts.Reset, _ = cmd.Flags().GetBool("reset")

	failed, rejected := 0, 0
	for _, sel := range selected {
		if err := stageOne(cmd, pipe, phase, sel, opts); err != nil {
			failed++
			reason := "transfer"
			switch {
			case pipeline.IsValidation(err):
				reason = "validation"
				rejected++
			case pipeline.IsDependency(err):
				reason = "missing warmup"
				rejected++
			}
			observability.CLILogger.Error("Staging failed",
				zap.String("runcard", sel.Runcard),
				zap.String("runfolder", sel.RunFolder),
				zap.String("reason", reason),
				zap.Error(err))
			continue
		}
		observability.CLILogger.Info("Staged",
			zap.String("phase", phase),
			zap.String("runcard", sel.Runcard),
			zap.String("runfolder", sel.RunFolder))
	}
	if failed > 0 && failed == rejected {
		return exitError(foundry.ExitInvalidArgument, "Staging rejected",
			fmt.Errorf("%d of %d run(s) failed validation", failed, len(selected)))
	}
	if failed > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Staging incomplete",
			fmt.Errorf("%d of %d run(s) failed", failed, len(selected)))
	}
	return nil
}

func stageOne(cmd *cobra.Command, pipe *pipeline.Pipeline, phase string, sel selectedRun, opts pipeline.StageOptions) error {
	def, err := runcard.Open(sel.RuncardPath)
	if err != nil {
		return err
	}
	run := pipeline.Run{
		Runcard:     sel.Runcard,
		RunFolder:   sel.RunFolder,
		RuncardPath: sel.RuncardPath,
		Definition:  def,
	}
	if phase == "warmup" {
		return pipe.StageWarmup(cmd.Context(), run, opts)
	}
	return pipe.StageProduction(cmd.Context(), run, opts)
}
