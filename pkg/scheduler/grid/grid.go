// Package grid drives a distributed grid meta-scheduler through its arc*
// command line clients.
package grid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/shell"
)

const DefaultKillBatchSize = 150

const (
	cmdSubmit = "arcsub"
	cmdStat   = "arcstat"
	cmdKill   = "arckill"
	cmdClean  = "arcclean"
	cmdCat    = "arccat"
	cmdLs     = "arcls"
	cmdCp     = "arccp"
	cmdRenew  = "arcrenew"
)

type Config struct {
	// CE is the computing element jobs are submitted to.
	CE string

	// JobDatabase is the client-side job list passed as -j.
	JobDatabase string

	KillBatchSize int

	// Memory is the per-job memory request in MB.
	Memory int

	// WallTime is passed through to the job description when set.
	WallTime string

	// ScratchDir receives copied log files. Defaults to os.TempDir().
	ScratchDir string
}

// Adapter implements scheduler.Adapter for the grid backend.
type Adapter struct {
	scheduler.Base

	cfg    Config
	runner shell.Runner
	prompt confirm.Prompt
	logger *zap.Logger
}

var (
	_ scheduler.Adapter       = (*Adapter)(nil)
	_ scheduler.StderrFetcher = (*Adapter)(nil)
	_ scheduler.ProxyRenewer  = (*Adapter)(nil)
)

func New(store *jobstore.Store, table string, cfg Config, runner shell.Runner, prompt confirm.Prompt, logger *zap.Logger) (*Adapter, error) {
	base, err := scheduler.NewBase(store, table)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	if prompt == nil {
		prompt = confirm.Deny{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KillBatchSize <= 0 {
		cfg.KillBatchSize = DefaultKillBatchSize
	}
	if cfg.Memory <= 0 {
		cfg.Memory = 100
	}
	return &Adapter{Base: base, cfg: cfg, runner: runner, prompt: prompt, logger: logger}, nil
}

func (a *Adapter) Kind() scheduler.Kind { return scheduler.KindGrid }

func (a *Adapter) dbArgs() []string {
	if a.cfg.JobDatabase == "" {
		return nil
	}
	return []string{"-j", a.cfg.JobDatabase}
}

var jobIDPattern = regexp.MustCompile(`jobid:\s*(\S+)`)

// Submit writes one job description per seed and submits each in turn. A
// failure stops the loop; identities submitted so far are returned with it.
func (a *Adapter) Submit(ctx context.Context, req scheduler.SubmitRequest) ([]string, error) {
	if a.cfg.CE == "" {
		return nil, &scheduler.CommandError{Op: "Submit", Scheduler: a.Kind(), Err: fmt.Errorf("computing element is not configured")}
	}
	workDir := req.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	var ids []string
	for _, seed := range req.JobSeeds() {
		desc := RenderDescription(req, seed, a.cfg)
		path := filepath.Join(workDir, descriptionName(req.Record, seed))
		if err := os.WriteFile(path, []byte(desc), 0o644); err != nil {
			return ids, fmt.Errorf("write job description: %w", err)
		}

		args := append([]string{"-c", a.cfg.CE}, a.dbArgs()...)
		args = append(args, path)
		out, err := a.runner.Run(ctx, cmdSubmit, args...)
		_ = os.Remove(path)
		if err != nil {
			return ids, scheduler.Unavailable("Submit", a.Kind(), "", err)
		}
		m := jobIDPattern.FindStringSubmatch(out)
		if m == nil {
			return ids, &scheduler.CommandError{Op: "Submit", Scheduler: a.Kind(), Err: scheduler.ErrSubmitParse}
		}
		ids = append(ids, m[1])
		a.logger.Debug("Submitted grid job", zap.String("job_id", m[1]), zap.Int("seed", seed))
	}
	return ids, nil
}

func descriptionName(rec jobstore.Record, seed int) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(rec.Runcard + "-" + rec.RunFolder)
	if seed > 0 {
		return fmt.Sprintf("%s-%d.xrsl", name, seed)
	}
	return name + "-warmup.xrsl"
}

// RenderDescription builds the xRSL job description for one seed.
func RenderDescription(req scheduler.SubmitRequest, seed int, cfg Config) string {
	exe := filepath.Base(req.Executable)
	quoted := make([]string, 0, len(req.JobArgs(seed)))
	for _, arg := range req.JobArgs(seed) {
		quoted = append(quoted, fmt.Sprintf("%q", arg))
	}

	lines := []string{
		"&",
		fmt.Sprintf("(executable   = %q)", exe),
		fmt.Sprintf("(arguments    = %s)", strings.Join(quoted, " ")),
		fmt.Sprintf("(jobName      = %q)", req.Record.RunFolder),
		fmt.Sprintf("(inputFiles   = (%q %q))", exe, req.Executable),
		`(outputFiles  = ("outfile.out" ""))`,
		`(stdout       = "stdout")`,
		`(stderr       = "stderr")`,
		`(gmlog        = "testjob.log")`,
		fmt.Sprintf("(memory       = \"%d\")", cfg.Memory),
	}
	if req.Threads > 1 {
		lines = append(lines, fmt.Sprintf("(count        = %d)", req.Threads))
	}
	if cfg.WallTime != "" {
		lines = append(lines, fmt.Sprintf("(wallTime     = %q)", cfg.WallTime))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (a *Adapter) PollStatus(ctx context.Context, jobID string) (scheduler.RawState, error) {
	args := append(a.dbArgs(), strings.TrimSpace(jobID))
	out, err := a.runner.Run(ctx, cmdStat, args...)
	if err != nil {
		return scheduler.RawState{JobID: jobID}, scheduler.Unavailable("PollStatus", a.Kind(), jobID, err)
	}
	return scheduler.RawState{JobID: jobID, Text: out}, nil
}

func (a *Adapter) Classify(raw scheduler.RawState) jobstore.Status {
	return scheduler.ClassifyText(raw.Text, scheduler.TextRules)
}

// Cancel kills jobs in batches after a single confirmation.
func (a *Adapter) Cancel(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return &scheduler.CommandError{Op: "Cancel", Scheduler: a.Kind(), Err: scheduler.ErrNoJobs}
	}
	if err := a.prompt.Confirm(ctx, fmt.Sprintf("You are about to kill %d grid job(s). Continue?", len(jobIDs))); err != nil {
		return err
	}
	for _, batch := range scheduler.Batches(trimAll(jobIDs), a.cfg.KillBatchSize) {
		a.logger.Debug("Killing grid job batch", zap.Int("batch_len", len(batch)))
		args := append(a.dbArgs(), batch...)
		if _, err := a.runner.Run(ctx, cmdKill, args...); err != nil {
			return scheduler.Unavailable("Cancel", a.Kind(), "", err)
		}
	}
	return nil
}

func (a *Adapter) FetchStdout(ctx context.Context, _ jobstore.Record, jobID string) (string, error) {
	return a.cat(ctx, "FetchStdout", jobID, false)
}

func (a *Adapter) FetchStderr(ctx context.Context, _ jobstore.Record, jobID string) (string, error) {
	return a.cat(ctx, "FetchStderr", jobID, true)
}

func (a *Adapter) cat(ctx context.Context, op, jobID string, stderr bool) (string, error) {
	args := append(a.dbArgs(), strings.TrimSpace(jobID))
	if stderr {
		args = append(args, "-e")
	}
	out, err := a.runner.Run(ctx, cmdCat, args...)
	if err != nil {
		return "", scheduler.Unavailable(op, a.Kind(), jobID, err)
	}
	return out, nil
}

// FetchLog copies every .log file from the job session directory and
// returns their concatenated contents.
func (a *Adapter) FetchLog(ctx context.Context, _ jobstore.Record, jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	listing, err := a.runner.Run(ctx, cmdLs, jobID)
	if err != nil {
		return "", scheduler.Unavailable("FetchLog", a.Kind(), jobID, err)
	}

	scratch := a.cfg.ScratchDir
	if scratch == "" {
		scratch = os.TempDir()
	}
	dir, err := os.MkdirTemp(scratch, "hepgrid-log-*")
	if err != nil {
		return "", fmt.Errorf("create log scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	var b strings.Builder
	for _, name := range strings.Fields(listing) {
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		src := strings.TrimSuffix(jobID, "/") + "/" + name
		if _, err := a.runner.Run(ctx, cmdCp, "-i", src, "file://"+dir+"/"); err != nil {
			return b.String(), scheduler.Unavailable("FetchLog", a.Kind(), jobID, err)
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return b.String(), fmt.Errorf("read copied log: %w", err)
		}
		b.Write(data)
	}
	return b.String(), nil
}

// CleanRemoteSandbox removes the job session directories, stdout included.
func (a *Adapter) CleanRemoteSandbox(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	if err := a.prompt.Confirm(ctx, fmt.Sprintf("You are about to clean %d grid job sandbox(es). Continue?", len(jobIDs))); err != nil {
		return err
	}
	for _, id := range trimAll(jobIDs) {
		args := append(a.dbArgs(), id)
		if _, err := a.runner.Run(ctx, cmdClean, args...); err != nil {
			return scheduler.Unavailable("CleanRemoteSandbox", a.Kind(), id, err)
		}
	}
	return nil
}

func (a *Adapter) RenewProxy(ctx context.Context, jobIDs []string) error {
	for _, id := range trimAll(jobIDs) {
		if _, err := a.runner.Run(ctx, cmdRenew, id); err != nil {
			return scheduler.Unavailable("RenewProxy", a.Kind(), id, err)
		}
	}
	return nil
}

func trimAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
