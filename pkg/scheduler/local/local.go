// Package local drives a local batch scheduler through sbatch, squeue and
// scancel. One record maps to one array job.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/shell"
)

const (
	cmdSubmit = "sbatch"
	cmdQueue  = "squeue"
	cmdCancel = "scancel"
)

type Config struct {
	// RunDir holds one directory per run identity; job stdout lands in its
	// stdout subdirectory.
	RunDir string

	Partition string
}

type Adapter struct {
	scheduler.Base

	cfg    Config
	runner shell.Runner
	prompt confirm.Prompt
	logger *zap.Logger
}

var (
	_ scheduler.Adapter       = (*Adapter)(nil)
	_ scheduler.RecordCounter = (*Adapter)(nil)
	_ scheduler.StderrFetcher = (*Adapter)(nil)
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
	return &Adapter{Base: base, cfg: cfg, runner: runner, prompt: prompt, logger: logger}, nil
}

func (a *Adapter) Kind() scheduler.Kind { return scheduler.KindLocal }

// RunDir is where a run identity executes.
func RunDir(base string, rec jobstore.Record) string {
	return filepath.Join(base, strings.TrimSuffix(rec.Runcard, ".run")+"-"+rec.RunFolder)
}

// StdoutDir is where the scheduler writes job stdout and stderr.
func StdoutDir(runDir string) string {
	return filepath.Join(runDir, "stdout")
}

var submitPattern = regexp.MustCompile(`(?:Submitted batch job\s+)?(\d+)`)

// Submit writes one batch script and submits it as an array over the
// request seeds.
func (a *Adapter) Submit(ctx context.Context, req scheduler.SubmitRequest) ([]string, error) {
	runDir := RunDir(a.cfg.RunDir, req.Record)
	if err := os.MkdirAll(StdoutDir(runDir), 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	script := filepath.Join(runDir, "job.sh")
	if err := os.WriteFile(script, []byte(RenderScript(req, a.cfg)), 0o755); err != nil {
		return nil, fmt.Errorf("write batch script: %w", err)
	}

	args := []string{"--parsable"}
	if n := len(req.Seeds); n > 0 {
		args = append(args, fmt.Sprintf("--array=1-%d", n))
	}
	args = append(args, script)
	out, err := a.runner.Run(ctx, cmdSubmit, args...)
	if err != nil {
		return nil, scheduler.Unavailable("Submit", a.Kind(), "", err)
	}
	m := submitPattern.FindStringSubmatch(shell.LastLine(out))
	if m == nil {
		return nil, &scheduler.CommandError{Op: "Submit", Scheduler: a.Kind(), Err: scheduler.ErrSubmitParse}
	}
	return []string{m[1]}, nil
}

// RenderScript builds the sbatch script. Array tasks derive their seed from
// the first seed plus the task index.
func RenderScript(req scheduler.SubmitRequest, cfg Config) string {
	runDir := RunDir(cfg.RunDir, req.Record)
	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", req.Record.RunFolder)
	if cfg.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", cfg.Partition)
	}
	if req.Threads > 1 {
		fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", req.Threads)
	}
	out := filepath.Join(StdoutDir(runDir), "slurm-%A")
	if len(req.Seeds) > 0 {
		out += "_%a"
	}
	fmt.Fprintf(&b, "#SBATCH --output=%s.out\n", out)
	fmt.Fprintf(&b, "#SBATCH --error=%s.err\n", out)
	fmt.Fprintf(&b, "cd %q\n", runDir)

	args := req.JobArgs(0)
	if len(req.Seeds) > 0 {
		fmt.Fprintf(&b, "SEED=$((%d + SLURM_ARRAY_TASK_ID - 1))\n", req.Seeds[0])
		args = append(args, "-s", "$SEED")
	}
	fmt.Fprintf(&b, "%s %s\n", req.Executable, strings.Join(args, " "))
	return b.String()
}

func (a *Adapter) PollStatus(ctx context.Context, jobID string) (scheduler.RawState, error) {
	out, err := a.runner.Run(ctx, cmdQueue, "-j"+strings.TrimSpace(jobID), "-r", "-h", "-t", "all", "-o", "%t")
	if err != nil {
		return scheduler.RawState{JobID: jobID}, scheduler.Unavailable("PollStatus", a.Kind(), jobID, err)
	}
	return scheduler.RawState{JobID: jobID, Text: out}, nil
}

// Classify rolls the per-task state codes of an array job up to one status.
func (a *Adapter) Classify(raw scheduler.RawState) jobstore.Status {
	var c jobstore.Counts
	for _, code := range strings.Fields(raw.Text) {
		c.Add(stateCode(code))
	}
	return c.Rollup()
}

func stateCode(code string) jobstore.Status {
	switch strings.ToUpper(code) {
	case "R", "RUNNING", "CG", "COMPLETING":
		return jobstore.StatusRunning
	case "PD", "PENDING", "CF", "CONFIGURING", "S", "SUSPENDED":
		return jobstore.StatusWaiting
	case "CD", "COMPLETED":
		return jobstore.StatusDone
	case "F", "FAILED", "CA", "CANCELLED", "TO", "TIMEOUT", "NF", "NODE_FAIL", "OOM", "OUT_OF_MEMORY":
		return jobstore.StatusFail
	}
	return jobstore.StatusUnknown
}

// DerivedDone computes finished tasks for a scheduler that has no success
// counter. Never negative.
func DerivedDone(total, failed, pending, running int) int {
	done := total - failed - pending - running
	if done < 0 {
		return 0
	}
	return done
}

// CountRecord counts array tasks per state with one squeue call per state.
func (a *Adapter) CountRecord(ctx context.Context, rec jobstore.Record) (scheduler.Breakdown, error) {
	var bd scheduler.Breakdown
	for i, id := range rec.JobIDs {
		running, err := a.countState(ctx, id, "R")
		if err != nil {
			return bd, err
		}
		pending, err := a.countState(ctx, id, "PD")
		if err != nil {
			return bd, err
		}
		failed, err := a.countState(ctx, id, "F")
		if err != nil {
			return bd, err
		}
		cancelled, err := a.countState(ctx, id, "CA")
		if err != nil {
			return bd, err
		}
		total, err := a.countState(ctx, id, "all")
		if err != nil {
			return bd, err
		}

		c := jobstore.Counts{
			Running: running,
			Waiting: pending,
			Fail:    failed + cancelled,
		}
		c.Done = DerivedDone(total, c.Fail, c.Waiting, c.Running)
		bd.Counts.Merge(c)
		bd.Total += total
		bd.PerJob = append(bd.PerJob, jobstore.JobState{Position: i, JobID: id, Status: c.Rollup()})
	}
	return bd, nil
}

func (a *Adapter) countState(ctx context.Context, jobID, state string) (int, error) {
	out, err := a.runner.Run(ctx, cmdQueue, "-j"+jobID, "-r", "-h", "-t", state)
	if err != nil {
		return 0, scheduler.Unavailable("CountRecord", a.Kind(), jobID, err)
	}
	n := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "error") {
			continue
		}
		n++
	}
	return n, nil
}

func (a *Adapter) Cancel(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return &scheduler.CommandError{Op: "Cancel", Scheduler: a.Kind(), Err: scheduler.ErrNoJobs}
	}
	if err := a.prompt.Confirm(ctx, fmt.Sprintf("You are about to cancel %d array job(s). Continue?", len(jobIDs))); err != nil {
		return err
	}
	for _, id := range jobIDs {
		if _, err := a.runner.Run(ctx, cmdCancel, id); err != nil {
			return scheduler.Unavailable("Cancel", a.Kind(), id, err)
		}
	}
	return nil
}

func (a *Adapter) FetchStdout(ctx context.Context, rec jobstore.Record, jobID string) (string, error) {
	return a.readOutput(rec, jobID, ".out")
}

func (a *Adapter) FetchStderr(ctx context.Context, rec jobstore.Record, jobID string) (string, error) {
	return a.readOutput(rec, jobID, ".err")
}

// readOutput concatenates slurm-<id>.<ext> or slurm-<id>_<n>.<ext> files in
// task order.
func (a *Adapter) readOutput(rec jobstore.Record, jobID, ext string) (string, error) {
	dir := StdoutDir(RunDir(a.cfg.RunDir, rec))
	var matches []string
	for _, pattern := range []string{
		fmt.Sprintf("slurm-%s%s", jobID, ext),
		fmt.Sprintf("slurm-%s_*%s", jobID, ext),
	} {
		m, err := doublestar.Glob(os.DirFS(dir), pattern)
		if err != nil {
			return "", fmt.Errorf("glob %s: %w", pattern, err)
		}
		matches = append(matches, m...)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no %s files for job %s in %s: %w", ext, jobID, dir, os.ErrNotExist)
	}
	sort.Slice(matches, func(i, j int) bool { return taskIndex(matches[i]) < taskIndex(matches[j]) })

	var b strings.Builder
	for _, m := range matches {
		data, err := os.ReadFile(filepath.Join(dir, m))
		if err != nil {
			return b.String(), err
		}
		b.Write(data)
	}
	return b.String(), nil
}

func taskIndex(name string) int {
	base := strings.TrimSuffix(strings.TrimSuffix(name, ".out"), ".err")
	_, idx, ok := strings.Cut(base, "_")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(idx)
	return n
}

var logSeedPattern = regexp.MustCompile(`\.s([0-9]+)\.[^.]+$`)

// FetchLog prints one log per seed the record expects, plus any other seeded
// log found in the run directory.
func (a *Adapter) FetchLog(ctx context.Context, rec jobstore.Record, _ string) (string, error) {
	dir := RunDir(a.cfg.RunDir, rec)
	logs, err := doublestar.Glob(os.DirFS(dir), "*.log")
	if err != nil {
		return "", err
	}

	first := rec.Seed
	if first <= 0 {
		first = 1
	}
	wanted := map[int]bool{}
	for s := first; s < first+rec.NoRuns; s++ {
		wanted[s] = true
	}

	var picked []string
	seen := map[int]bool{}
	for _, name := range logs {
		m := logSeedPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		seed, _ := strconv.Atoi(m[1])
		if seen[seed] {
			continue
		}
		seen[seed] = true
		picked = append(picked, name)
	}
	sort.Strings(picked)

	var b strings.Builder
	for _, name := range picked {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return b.String(), err
		}
		b.Write(data)
	}
	for s := range wanted {
		if !seen[s] {
			a.logger.Debug("No log for seed yet", zap.Int("seed", s))
		}
	}
	return b.String(), nil
}

// CleanRemoteSandbox is a no-op; local runs have no remote sandbox.
func (a *Adapter) CleanRemoteSandbox(context.Context, []string) error {
	return nil
}
