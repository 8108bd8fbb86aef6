package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/internal/observability"
	"github.com/3leaps/hepgrid/pkg/provider"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration, the job database, the
storage provider and the scheduler client tools of the selected backend.

Examples:
  hepgrid doctor
  hepgrid doctor --backend local`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// schedulerTools are the client commands each backend shells out to.
var schedulerTools = map[scheduler.Kind][]string{
	scheduler.KindGrid:  {"arcsub", "arcstat", "arckill", "arcclean", "arccat", "arcrenew"},
	scheduler.KindWMS:   {"dirac-wms-job-submit", "dirac-wms-job-status", "dirac-wms-select-jobs", "dirac-wms-job-kill"},
	scheduler.KindLocal: {"sbatch", "squeue", "scancel"},
}

var lookPath = exec.LookPath

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := observability.CLILogger
	log.Info("=== " + binaryName + " doctor ===")

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.close()

	totalChecks := 5
	if provider.ProviderType(a.cfg.Storage.Provider) == provider.ProviderS3 {
		totalChecks = 6
	}
	checkNum := 1
	allChecks := true
	step := func(ok bool, label, detail string, fields ...zap.Field) {
		if ok {
			log.Info(fmt.Sprintf("[%d/%d] %s... ✅ %s", checkNum, totalChecks, label, detail), fields...)
		} else {
			log.Error(fmt.Sprintf("[%d/%d] %s... ❌ %s", checkNum, totalChecks, label, detail), fields...)
			allChecks = false
		}
		checkNum++
	}

	step(true, "Checking Go version", runtime.Version(), zap.String("os", runtime.GOOS), zap.String("arch", runtime.GOARCH))
	step(true, "Checking configuration", fmt.Sprintf("backend %s, program %s", a.kind, a.cfg.Program),
		zap.String("data_dir", a.cfg.DataDir), zap.String("state_dir", a.cfg.StateDir))

	if _, err := a.jobStore(ctx); err != nil {
		step(false, "Checking job database", "cannot open", zap.Error(err))
	} else {
		step(true, "Checking job database", a.cfg.Database.Path+a.cfg.Database.URL)
	}

	if p, err := a.storageProvider(ctx); err != nil {
		step(false, "Checking storage provider", a.cfg.Storage.Provider, zap.Error(err))
	} else if err := (storageChecker{p: p}).CheckHealth(ctx); err != nil {
		step(false, "Checking storage provider", a.cfg.Storage.Provider+" unreachable", zap.Error(err))
	} else {
		step(true, "Checking storage provider", a.cfg.Storage.Provider)
	}

	missing := missingTools(a.kind)
	if len(missing) > 0 {
		step(false, "Checking scheduler clients", "not on PATH", zap.Strings("missing", missing))
	} else {
		step(true, "Checking scheduler clients", fmt.Sprintf("%d found", len(schedulerTools[a.kind])))
	}

	if totalChecks == 6 {
		ok, detail, fields := checkAWSCredentials(ctx)
		step(ok, "Checking AWS credentials", detail, fields...)
	}

	if !allChecks {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", nil)
	}
	log.Info("✅ All checks passed!")
	return nil
}

func missingTools(kind scheduler.Kind) []string {
	var missing []string
	for _, tool := range schedulerTools[kind] {
		if _, err := lookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}

func checkAWSCredentials(ctx context.Context) (bool, string, []zap.Field) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return false, "cannot load AWS config", []zap.Field{zap.Error(err)}
	}
	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return false, "cannot retrieve credentials", []zap.Field{zap.Error(err)}
	}
	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	return true, "found credentials", []zap.Field{
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", source),
	}
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
