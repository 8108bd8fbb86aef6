package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/hepgrid/internal/config"
	"github.com/3leaps/hepgrid/pkg/manifest"
)

// selectedRun is one run resolved from the manifest or the command line.
type selectedRun struct {
	manifest.Run
	RuncardPath string
}

// resolveRuns picks the runs a command acts on. With --run the named
// runcards are selected from the manifest (all of them when none are
// named). Without it every argument is a runcard and --runfolder names the
// run folder.
func resolveRuns(cfg *config.Config, cmd *cobra.Command, args []string) ([]selectedRun, error) {
	runFolder, _ := cmd.Flags().GetString("runfolder")

	if runFile != "" {
		m, err := manifest.Load(runFile)
		if err != nil {
			return nil, err
		}
		list, err := m.Select(args...)
		if err != nil {
			return nil, err
		}
		out := make([]selectedRun, 0, len(list))
		for _, r := range list {
			if runFolder != "" {
				r.RunFolder = runFolder
			}
			out = append(out, selectedRun{Run: r, RuncardPath: m.RuncardPath(r, cfg.RuncardDir)})
		}
		return out, nil
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("name at least one runcard or pass a run manifest with --run")
	}
	if runFolder == "" {
		return nil, fmt.Errorf("--runfolder is required without a run manifest")
	}
	out := make([]selectedRun, 0, len(args))
	for _, name := range args {
		out = append(out, selectedRun{
			Run:         manifest.Run{Runcard: name, RunFolder: runFolder},
			RuncardPath: filepath.Join(cfg.RuncardDir, name),
		})
	}
	return out, nil
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("runfolder", "", "Run folder (overrides the manifest)")
}

// parseRecordID parses a positional record id.
func parseRecordID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q", raw)
	}
	return id, nil
}

// parseSeedRange accepts "N" or "A-B" (inclusive).
func parseSeedRange(raw string) ([]int, error) {
	lo, hi, isRange := strings.Cut(strings.TrimSpace(raw), "-")
	start, err := strconv.Atoi(lo)
	if err != nil {
		return nil, fmt.Errorf("invalid seed range %q", raw)
	}
	end := start
	if isRange {
		if end, err = strconv.Atoi(hi); err != nil || end < start {
			return nil, fmt.Errorf("invalid seed range %q", raw)
		}
	}
	seeds := make([]int, 0, end-start+1)
	for s := start; s <= end; s++ {
		seeds = append(seeds, s)
	}
	return seeds, nil
}
