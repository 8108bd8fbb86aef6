package cmd

import (
	"io"
	"os"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Show or reset stored warmup/production lifecycles",
	Long: `Print the stored lifecycle of every run identity as YAML.

With --state only runs currently in that state are shown. With --reset
RUNCARD (and --runfolder) the stored lifecycle of that run is discarded so
it can be staged from scratch, for example after a failure.

Examples:
  hepgrid pipeline
  hepgrid pipeline --state warmup_complete
  hepgrid pipeline --reset ZJ.run --runfolder r1`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.Flags().String("reset", "", "Runcard whose lifecycle to discard")
	pipelineCmd.Flags().String("runfolder", "", "Run folder of the runcard to reset")
	pipelineCmd.Flags().String("state", "", "Only runs in this state (e.g. warmup_complete, failed)")
}

type stateView struct {
	Runcard   string           `yaml:"runcard"`
	RunFolder string           `yaml:"runfolder"`
	State     string           `yaml:"state"`
	Session   string           `yaml:"session,omitempty"`
	UpdatedAt time.Time        `yaml:"updated_at"`
	History   []transitionView `yaml:"history,omitempty"`
}

type transitionView struct {
	From   string    `yaml:"from"`
	To     string    `yaml:"to"`
	Reason string    `yaml:"reason,omitempty"`
	At     time.Time `yaml:"at"`
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	states := pipeline.NewStateStore(appConfig.StateDir)
	observability.CLILogger.Debug("Pipeline state", zap.String("dir", states.RootDir()))

	if runcard, _ := cmd.Flags().GetString("reset"); runcard != "" {
		runFolder, _ := cmd.Flags().GetString("runfolder")
		if runFolder == "" {
			return exitError(foundry.ExitInvalidArgument, "--runfolder is required with --reset", nil)
		}
		if err := states.Reset(runcard, runFolder); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to reset lifecycle", err)
		}
		observability.CLILogger.Info("Lifecycle reset", zap.String("runcard", runcard), zap.String("runfolder", runFolder))
		return nil
	}

	list, err := states.List()
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read pipeline state", err)
	}
	if raw, _ := cmd.Flags().GetString("state"); raw != "" {
		want, err := pipeline.ParseState(raw)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --state", err)
		}
		list = filterStates(list, want)
	}
	return writeStatesYAML(os.Stdout, list)
}

func filterStates(list []pipeline.RunState, want pipeline.State) []pipeline.RunState {
	out := list[:0:0]
	for _, st := range list {
		if st.State == want {
			out = append(out, st)
		}
	}
	return out
}

func writeStatesYAML(w io.Writer, list []pipeline.RunState) error {
	views := make([]stateView, 0, len(list))
	for _, st := range list {
		v := stateView{
			Runcard:   st.Runcard,
			RunFolder: st.RunFolder,
			State:     string(st.State),
			Session:   st.Session,
			UpdatedAt: st.UpdatedAt,
		}
		for _, t := range st.History {
			v.History = append(v.History, transitionView{From: string(t.From), To: string(t.To), Reason: t.Reason, At: t.At})
		}
		views = append(views, v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"pipeline": views}); err != nil {
		return err
	}
	return enc.Close()
}
