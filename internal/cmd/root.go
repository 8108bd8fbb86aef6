// Package cmd implements the hepgrid command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/config"
	"github.com/3leaps/hepgrid/internal/observability"
)

const binaryName = "hepgrid"

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo is called from main with linker-provided values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile     string
	runFile     string
	envFile     string
	backendFlag string
	verbose     bool
	assumeYes   bool
	setFlags    []string

	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Manage warmup and production Monte-Carlo runs across batch schedulers",
	Long: `hepgrid stages, submits and tracks warmup/production physics runs on
grid (ARC), workload-management (DIRAC) and local (Slurm) schedulers.

Job records live in one SQLite/libsql database with a table per backend.
Run bundles and outputs are exchanged through a storage provider: a local
directory, S3, MinIO or a gfal2 storage element.

Configuration layers, lowest first: built-in defaults, the site file
(--config or HEPGRID_CONFIG), the run manifest (--run), HEPGRID_*
environment variables, then --set key=value overrides.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Site config file")
	pf.StringVarP(&runFile, "run", "r", "", "Run manifest (also merged as a config layer)")
	pf.StringVar(&envFile, "env-file", "", "dotenv file loaded before environment binding")
	pf.StringVarP(&backendFlag, "backend", "b", "", "Scheduler backend: grid, wms or local")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to every confirmation")
	pf.StringArrayVar(&setFlags, "set", nil, "Override a config value (key=value, repeatable)")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func initApp(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger(binaryName, verbose)
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	overrides, err := config.ParseSetFlags(setFlags)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --set value", err)
	}
	if backendFlag != "" {
		overrides["backend"] = backendFlag
	}
	if verbose {
		overrides["logging.verbose"] = true
	}

	cfg, err := config.Load(cmd.Context(), config.LoadOptions{
		ConfigFile: cfgFile,
		RunFile:    runFile,
		EnvFile:    envFile,
	}, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	if cfg.Logging.Verbose && !verbose {
		observability.InitCLILogger(binaryName, true)
	}
	appConfig = cfg

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("backend", cfg.Backend),
		zap.String("program", cfg.Program),
		zap.String("storage", cfg.Storage.Provider),
		zap.String("data_dir", cfg.DataDir))
	return nil
}

// ExitCodeError carries the process exit code for a failed command.
type ExitCodeError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

type exitCode interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8
}

func exitError[C exitCode](code C, message string, err error) error {
	return &ExitCodeError{Code: int(code), Message: message, Err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.Code
	}
	if errors.Is(err, context.Canceled) {
		return int(foundry.ExitSignalInt)
	}
	return 1
}
