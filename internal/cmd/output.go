package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/runs"
)

var stdoutCmd = &cobra.Command{
	Use:   "stdout ID",
	Short: "Print the stdout (or stderr) of a record's jobs",
	Long: `Fetch and print the standard output of every job of a record, or only
the jobs at the positions given with --job (0-based, repeatable).

Examples:
  hepgrid stdout 12
  hepgrid stdout 12 --job 3 --stderr`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := runs.OutputStdout
		if stderr, _ := cmd.Flags().GetBool("stderr"); stderr {
			kind = runs.OutputStderr
		}
		return runOutput(cmd, args[0], kind)
	},
}

var logCmd = &cobra.Command{
	Use:   "log ID",
	Short: "Print the program log of a record's jobs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOutput(cmd, args[0], runs.OutputLog)
	},
}

func init() {
	rootCmd.AddCommand(stdoutCmd, logCmd)
	stdoutCmd.Flags().Bool("stderr", false, "Print stderr instead of stdout")
	for _, c := range []*cobra.Command{stdoutCmd, logCmd} {
		c.Flags().IntSlice("job", nil, "Job position within the record (repeatable)")
	}
}

func runOutput(cmd *cobra.Command, rawID string, kind runs.OutputKind) error {
	ctx := cmd.Context()
	id, err := parseRecordID(rawID)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid record id", err)
	}
	positions, _ := cmd.Flags().GetIntSlice("job")

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()
	mgr, err := a.manager(ctx)
	if err != nil {
		return err
	}

	outputs, err := mgr.Output(ctx, id, kind, positions...)
	if err != nil && len(outputs) == 0 {
		return actionError(err)
	}
	writeOutputs(os.Stdout, outputs)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job position", err)
	}
	return nil
}

func writeOutputs(w io.Writer, outputs []runs.JobOutput) {
	for _, o := range outputs {
		_, _ = fmt.Fprintf(w, "==> job %d (%s) <==\n", o.Position, o.JobID)
		if o.Err != nil {
			observability.CLILogger.Warn("Could not fetch output",
				zap.Int("position", o.Position),
				zap.String("job_id", o.JobID),
				zap.Error(o.Err))
			continue
		}
		_, _ = fmt.Fprintln(w, o.Text)
	}
}
