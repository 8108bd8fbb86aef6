// Package wms drives a workload management system through its dirac-wms-*
// command line clients.
//
// Status for a whole record is computed from owner-wide state queries
// intersected with the record's identities, since the client has no batch
// per-id status call.
package wms

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

const (
	cmdSubmit  = "dirac-wms-job-submit"
	cmdStatus  = "dirac-wms-job-status"
	cmdSelect  = "dirac-wms-select-jobs"
	cmdKill    = "dirac-wms-job-kill"
	cmdPeek    = "dirac-wms-job-peek"
	cmdLogging = "dirac-wms-job-logging-info"
)

type Config struct {
	// Owner is the WMS user name the state queries filter on.
	Owner string

	Platform    string
	BannedSites []string
}

// Rules extends the text precedence with the extra WMS state names.
var Rules = []scheduler.Rule{
	{Status: jobstore.StatusDone, Markers: []string{"Done", "Finished"}},
	{Status: jobstore.StatusWaiting, Markers: []string{"Waiting", "Queuing", "Received", "Checking", "Matched", "Staging"}},
	{Status: jobstore.StatusRunning, Markers: []string{"Running", "Completing"}},
	{Status: jobstore.StatusFail, Markers: []string{"Failed", "Killed", "Stalled", "Deleted"}},
}

// queryStates are the remote state names queried by CountRecord.
var queryStates = []struct {
	name   string
	status jobstore.Status
}{
	{"Waiting", jobstore.StatusWaiting},
	{"Done", jobstore.StatusDone},
	{"Running", jobstore.StatusRunning},
	{"Failed", jobstore.StatusFail},
	{"Unknown", jobstore.StatusUnknown},
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

func (a *Adapter) Kind() scheduler.Kind { return scheduler.KindWMS }

var jobIDPattern = regexp.MustCompile(`JobID\s*=\s*(\d+)`)

func (a *Adapter) Submit(ctx context.Context, req scheduler.SubmitRequest) ([]string, error) {
	workDir := req.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	var ids []string
	for _, seed := range req.JobSeeds() {
		path := filepath.Join(workDir, jdlName(req.Record, seed))
		if err := os.WriteFile(path, []byte(RenderJDL(req, seed, a.cfg)), 0o644); err != nil {
			return ids, fmt.Errorf("write jdl: %w", err)
		}
		out, err := a.runner.Run(ctx, cmdSubmit, path)
		_ = os.Remove(path)
		if err != nil {
			return ids, scheduler.Unavailable("Submit", a.Kind(), "", err)
		}
		m := jobIDPattern.FindStringSubmatch(out)
		if m == nil {
			return ids, &scheduler.CommandError{Op: "Submit", Scheduler: a.Kind(), Err: scheduler.ErrSubmitParse}
		}
		ids = append(ids, m[1])
	}
	return ids, nil
}

func jdlName(rec jobstore.Record, seed int) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(rec.Runcard + "-" + rec.RunFolder)
	if seed > 0 {
		return fmt.Sprintf("%s-%d.jdl", name, seed)
	}
	return name + "-warmup.jdl"
}

// RenderJDL builds the job description for one seed.
func RenderJDL(req scheduler.SubmitRequest, seed int, cfg Config) string {
	exe := filepath.Base(req.Executable)
	lines := []string{
		fmt.Sprintf("JobName    = %q;", req.Record.RunFolder),
		fmt.Sprintf("Executable = %q;", exe),
		fmt.Sprintf("Arguments  = %q;", strings.Join(req.JobArgs(seed), " ")),
		`StdOutput  = "StdOut";`,
		`StdError   = "StdErr";`,
		fmt.Sprintf("InputSandbox  = {%q};", req.Executable),
		`OutputSandbox = {"StdOut","StdErr"};`,
	}
	if cfg.Platform != "" {
		lines = append(lines, fmt.Sprintf("Platform = %q;", cfg.Platform))
	}
	if req.Threads > 1 {
		lines = append(lines, fmt.Sprintf("NumberOfProcessors = %d;", req.Threads))
	}
	if len(cfg.BannedSites) > 0 {
		lines = append(lines, fmt.Sprintf("BannedSites = {\"%s\"};", strings.Join(cfg.BannedSites, "\",\"")))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (a *Adapter) PollStatus(ctx context.Context, jobID string) (scheduler.RawState, error) {
	out, err := a.runner.Run(ctx, cmdStatus, strings.TrimSpace(jobID))
	if err != nil {
		return scheduler.RawState{JobID: jobID}, scheduler.Unavailable("PollStatus", a.Kind(), jobID, err)
	}
	return scheduler.RawState{JobID: jobID, Text: out}, nil
}

var statusTokenPattern = regexp.MustCompile(`Status=([A-Za-z]+)`)

// Classify reads the Status= token when present so minor status text
// cannot shadow the major state.
func (a *Adapter) Classify(raw scheduler.RawState) jobstore.Status {
	if m := statusTokenPattern.FindStringSubmatch(raw.Text); m != nil {
		return scheduler.ClassifyText(m[1], Rules)
	}
	return scheduler.ClassifyText(raw.Text, Rules)
}

// CountRecord intersects the record's identities with the owner-wide job
// sets for each state, queried from the record's submission date. A failed
// state query leaves its set empty. Identities found in no set are unknown.
func (a *Adapter) CountRecord(ctx context.Context, rec jobstore.Record) (scheduler.Breakdown, error) {
	if a.cfg.Owner == "" {
		return scheduler.Breakdown{}, &scheduler.CommandError{Op: "CountRecord", Scheduler: a.Kind(), Err: fmt.Errorf("owner is not configured")}
	}
	date := rec.Date.Format("2006-01-02")

	assigned := make(map[string]jobstore.Status, len(rec.JobIDs))
	for _, qs := range queryStates {
		set, err := a.selectJobs(ctx, qs.name, date)
		if err != nil {
			a.logger.Warn("WMS state query failed", zap.String("state", qs.name), zap.Error(err))
			continue
		}
		for _, id := range rec.JobIDs {
			if _, done := assigned[id]; done {
				continue
			}
			if _, ok := set[id]; ok {
				assigned[id] = qs.status
			}
		}
	}

	var bd scheduler.Breakdown
	for i, id := range rec.JobIDs {
		st, ok := assigned[id]
		if !ok {
			st = jobstore.StatusUnknown
		}
		bd.Counts.Add(st)
		bd.PerJob = append(bd.PerJob, jobstore.JobState{Position: i, JobID: id, Status: st})
	}
	bd.Total = len(rec.JobIDs)
	return bd, nil
}

// selectJobs returns the ids in state for the owner since date. The client
// prints the id list comma separated on its last line.
func (a *Adapter) selectJobs(ctx context.Context, state, date string) (map[string]struct{}, error) {
	out, err := a.runner.Run(ctx, cmdSelect,
		"--Status="+state,
		"--Owner="+a.cfg.Owner,
		"--Maximum=0",
		"--Date="+date,
	)
	if err != nil {
		return nil, scheduler.Unavailable("CountRecord", a.Kind(), "", err)
	}
	set := map[string]struct{}{}
	line := shell.LastLine(out)
	if !strings.Contains(line, ",") && !isNumeric(line) {
		return set, nil
	}
	for _, id := range strings.Split(line, ",") {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (a *Adapter) Cancel(ctx context.Context, jobIDs []string) error {
	if len(jobIDs) == 0 {
		return &scheduler.CommandError{Op: "Cancel", Scheduler: a.Kind(), Err: scheduler.ErrNoJobs}
	}
	if err := a.prompt.Confirm(ctx, fmt.Sprintf("You are about to kill all %d job(s) for this run. Continue?", len(jobIDs))); err != nil {
		return err
	}
	if _, err := a.runner.Run(ctx, cmdKill, jobIDs...); err != nil {
		return scheduler.Unavailable("Cancel", a.Kind(), "", err)
	}
	return nil
}

// FetchStdout peeks at the tail of the job's stdout.
func (a *Adapter) FetchStdout(ctx context.Context, _ jobstore.Record, jobID string) (string, error) {
	out, err := a.runner.Run(ctx, cmdPeek, strings.TrimSpace(jobID))
	if err != nil {
		return "", scheduler.Unavailable("FetchStdout", a.Kind(), jobID, err)
	}
	return out, nil
}

// FetchLog returns the scheduler's logging history for the job.
func (a *Adapter) FetchLog(ctx context.Context, _ jobstore.Record, jobID string) (string, error) {
	out, err := a.runner.Run(ctx, cmdLogging, strings.TrimSpace(jobID))
	if err != nil {
		return "", scheduler.Unavailable("FetchLog", a.Kind(), jobID, err)
	}
	return out, nil
}

// CleanRemoteSandbox is a no-op; sandboxes are purged by the WMS itself.
func (a *Adapter) CleanRemoteSandbox(context.Context, []string) error {
	return nil
}
