package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/internal/config"
	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/pipeline"
	"github.com/3leaps/hepgrid/pkg/provider/file"
	"github.com/3leaps/hepgrid/pkg/runs"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/shell/shelltest"
)

func loadTestConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("HEPGRID_CONFIG", "")

	base := map[string]any{"data_dir": t.TempDir(), "backend": "local"}
	for k, v := range overrides {
		base[k] = v
	}
	cfg, err := config.Load(context.Background(), config.LoadOptions{EnvFile: ""}, base)
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, overrides map[string]any) (*app, *shelltest.FakeRunner) {
	t.Helper()
	orig := assumeYes
	assumeYes = true
	t.Cleanup(func() { assumeYes = orig })

	a, err := newApp(loadTestConfig(t, overrides))
	require.NoError(t, err)
	t.Cleanup(a.close)

	runner := shelltest.NewFakeRunner()
	a.runner = runner
	return a, runner
}

func TestNewApp_RequiresConfig(t *testing.T) {
	_, err := newApp(nil)
	assert.Error(t, err)
}

func TestApp_LocalSubmitTracksPipeline(t *testing.T) {
	a, runner := newTestApp(t, nil)
	runner.On("sbatch", "Submitted batch job 77\n", nil)
	ctx := context.Background()

	assert.Equal(t, scheduler.KindLocal, a.kind)
	assert.IsType(t, confirm.PreAuthorized{}, a.prompt)

	pipe, err := a.pipeline(ctx)
	require.NoError(t, err)
	_, err = pipe.States().Transition("ZJ.run", "r1", pipeline.StateWarmupStaged, "staged")
	require.NoError(t, err)

	mgr, err := a.manager(ctx)
	require.NoError(t, err)
	rec, err := mgr.Submit(ctx, runs.SubmitRequest{
		Runcard:    "ZJ.run",
		RunFolder:  "r1",
		JobType:    jobstore.JobTypeWarmup,
		Executable: "/bin/true",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"77"}, rec.JobIDs)
	assert.Equal(t, jobstore.StatusWaiting, rec.Status)

	st, err := pipe.States().Load("ZJ.run", "r1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateWarmupSubmitted, st.State)

	stored, err := a.store.List(ctx, a.cfg.Table(scheduler.KindLocal), jobstore.ListFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	var buf bytes.Buffer
	require.NoError(t, writeRecordTable(&buf, stored))
	assert.Contains(t, buf.String(), "ZJ.run")
	assert.Contains(t, buf.String(), "warmup")
}

func TestApp_Adapters(t *testing.T) {
	a, _ := newTestApp(t, map[string]any{"grid": map[string]any{"ce": "ce1.example.org"}})
	ctx := context.Background()
	for _, kind := range []scheduler.Kind{scheduler.KindGrid, scheduler.KindWMS, scheduler.KindLocal} {
		ad, err := a.adapter(ctx, kind)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, ad.Kind())
		assert.Equal(t, a.cfg.Table(kind), ad.Table())
	}
	_, err := a.adapter(ctx, scheduler.Kind("pbs"))
	assert.Error(t, err)
}

func TestApp_StorageProviders(t *testing.T) {
	ctx := context.Background()

	a, _ := newTestApp(t, nil)
	p, err := a.storageProvider(ctx)
	require.NoError(t, err)
	assert.IsType(t, &file.Provider{}, p)
	assert.NoError(t, storageChecker{p: p}.CheckHealth(ctx))

	g, _ := newTestApp(t, map[string]any{"storage": map[string]any{"provider": "gfal", "gfal_base": "gsiftp://se.example.org/pheno"}})
	_, err = g.storageProvider(ctx)
	require.NoError(t, err)

	bad, _ := newTestApp(t, map[string]any{"storage": map[string]any{"provider": "minio"}})
	_, err = bad.storageProvider(ctx)
	assert.Error(t, err, "minio without endpoint and keys")
}

func TestApp_OutputDirs(t *testing.T) {
	a, _ := newTestApp(t, map[string]any{
		"warmup":     map[string]any{"base_dir": "/w"},
		"production": map[string]any{"base_dir": "/p"},
	})
	rec := jobstore.Record{RunFolder: "r1"}
	assert.Equal(t, filepath.Join("/w", "r1"), a.warmupDir(rec))
	assert.Equal(t, filepath.Join("/p", "r1"), a.productionDir(rec))

	rec.PathFolder = "/custom"
	assert.Equal(t, filepath.Join("/custom", "r1"), a.productionDir(rec))
}

func TestMissingTools(t *testing.T) {
	orig := lookPath
	defer func() { lookPath = orig }()
	lookPath = func(name string) (string, error) {
		if name == "squeue" {
			return "", os.ErrNotExist
		}
		return "/usr/bin/" + name, nil
	}
	assert.Equal(t, []string{"squeue"}, missingTools(scheduler.KindLocal))
	assert.Empty(t, missingTools(scheduler.KindGrid))
}

func TestMaskAccessKey(t *testing.T) {
	assert.Equal(t, "****", maskAccessKey("abc"))
	assert.Equal(t, "****WXYZ", maskAccessKey("AKIAWXYZ"))
}

func TestWriteStatesYAML(t *testing.T) {
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := writeStatesYAML(&buf, []pipeline.RunState{{
		Runcard:   "ZJ.run",
		RunFolder: "r1",
		State:     pipeline.StateWarmupComplete,
		UpdatedAt: at,
		History: []pipeline.Transition{
			{From: pipeline.StateUninitialized, To: pipeline.StateWarmupStaged, At: at},
		},
	}})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "pipeline:"))
	assert.Contains(t, out, "runcard: ZJ.run")
	assert.Contains(t, out, "state: warmup_complete")
	assert.Contains(t, out, "to: warmup_staged")
}

func TestWriteOutputs(t *testing.T) {
	var buf bytes.Buffer
	writeOutputs(&buf, []runs.JobOutput{
		{Position: 0, JobID: "77_1", Text: "hello"},
		{Position: 1, JobID: "77_2", Err: os.ErrNotExist},
	})
	out := buf.String()
	assert.Contains(t, out, "==> job 0 (77_1) <==\nhello")
	assert.Contains(t, out, "==> job 1 (77_2) <==")
}

func TestFilterStates(t *testing.T) {
	list := []pipeline.RunState{
		{Runcard: "a.run", RunFolder: "r1", State: pipeline.StateFailed},
		{Runcard: "b.run", RunFolder: "r1", State: pipeline.StateWarmupComplete},
	}
	got := filterStates(list, pipeline.StateWarmupComplete)
	require.Len(t, got, 1)
	assert.Equal(t, "b.run", got[0].Runcard)
	assert.Empty(t, filterStates(nil, pipeline.StateFailed))
}

func TestResubmitWarmup_WaitsForActiveJobs(t *testing.T) {
	a, runner := newTestApp(t, nil)
	ctx := context.Background()
	runner.On("squeue", "", nil)
	runner.On("squeue -j77 -r -h -t R", "77_1\n", nil)
	runner.On("sbatch", "Submitted batch job 78\n", nil)

	store, err := a.jobStore(ctx)
	require.NoError(t, err)
	table := a.cfg.Table(scheduler.KindLocal)
	id, err := store.Create(ctx, table, jobstore.Record{
		Runcard:   "ZJ.run",
		RunFolder: "r1",
		JobType:   jobstore.JobTypeWarmup,
		JobIDs:    []string{"77"},
		Status:    jobstore.StatusRunning,
	})
	require.NoError(t, err)
	rec, err := store.Get(ctx, table, id)
	require.NoError(t, err)

	_, err = resubmitWarmup(ctx, a, *rec, pipeline.PresenceMissing)
	require.ErrorIs(t, err, errJobsActive)
	assert.Empty(t, runner.CallsTo("sbatch"))

	runner.On("squeue -j77 -r -h -t R", "", nil)
	next, err := resubmitWarmup(ctx, a, *rec, pipeline.PresenceCorrupted)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, next.ID)
	assert.Equal(t, []string{"78"}, next.JobIDs)
	assert.Len(t, runner.CallsTo("sbatch"), 1)

	pipe, err := a.pipeline(ctx)
	require.NoError(t, err)
	st, err := pipe.States().Load("ZJ.run", "r1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateWarmupSubmitted, st.State)

	all, err := store.List(ctx, table, jobstore.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
