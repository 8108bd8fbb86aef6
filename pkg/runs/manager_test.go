package runs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/scheduler/grid"
	"github.com/3leaps/hepgrid/pkg/shell/shelltest"
)

type fakeAdapter struct {
	scheduler.Base

	submitErr   error
	submitAfter int
	submitted   []scheduler.SubmitRequest
	cancelled   []string
	cleaned     []string
	prompt      confirm.Prompt
}

func (f *fakeAdapter) Kind() scheduler.Kind { return scheduler.KindLocal }

func (f *fakeAdapter) Submit(_ context.Context, req scheduler.SubmitRequest) ([]string, error) {
	f.submitted = append(f.submitted, req)
	var ids []string
	for i, seed := range req.JobSeeds() {
		if f.submitErr != nil && i >= f.submitAfter {
			return ids, f.submitErr
		}
		ids = append(ids, fmt.Sprintf("job-%d", seed))
	}
	return ids, nil
}

func (f *fakeAdapter) PollStatus(_ context.Context, jobID string) (scheduler.RawState, error) {
	return scheduler.RawState{JobID: jobID}, nil
}

func (f *fakeAdapter) Classify(scheduler.RawState) jobstore.Status { return jobstore.StatusUnknown }

func (f *fakeAdapter) Cancel(_ context.Context, ids []string) error {
	f.cancelled = append(f.cancelled, ids...)
	return nil
}

func (f *fakeAdapter) FetchStdout(_ context.Context, _ jobstore.Record, jobID string) (string, error) {
	if jobID == "job-0" {
		return "", errors.New("sandbox gone")
	}
	return "out of " + jobID, nil
}

func (f *fakeAdapter) FetchLog(_ context.Context, _ jobstore.Record, jobID string) (string, error) {
	return "log of " + jobID, nil
}

func (f *fakeAdapter) CleanRemoteSandbox(ctx context.Context, ids []string) error {
	prompt := f.prompt
	if prompt == nil {
		prompt = confirm.Deny{}
	}
	if err := prompt.Confirm(ctx, "clean?"); err != nil {
		return err
	}
	f.cleaned = append(f.cleaned, ids...)
	return nil
}

type trackerFunc func(runcard, runFolder string, jt jobstore.JobType) error

func (f trackerFunc) MarkSubmitted(runcard, runFolder string, jt jobstore.JobType) error {
	return f(runcard, runFolder, jt)
}

func newTestManager(t *testing.T, opts Options) (*Manager, *fakeAdapter, *jobstore.Store) {
	t.Helper()
	store, err := jobstore.Open(context.Background(), jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	base, err := scheduler.NewBase(store, jobstore.TableLocal)
	require.NoError(t, err)
	adapter := &fakeAdapter{Base: base}
	m, err := New(store, adapter, opts)
	require.NoError(t, err)
	return m, adapter, store
}

func TestSubmit_WarmupRecordsIdentitiesAndTracks(t *testing.T) {
	ctx := context.Background()
	var tracked []string
	m, adapter, store := newTestManager(t, Options{Tracker: trackerFunc(func(rc, rf string, jt jobstore.JobType) error {
		tracked = append(tracked, rc+"/"+rf+":"+string(jt))
		return nil
	})})

	rec, err := m.Submit(ctx, SubmitRequest{Runcard: "Ra_Wm.run", RunFolder: "WM_VAL_Ra", JobType: jobstore.JobTypeWarmup, Executable: "run.sh"})
	require.NoError(t, err)
	assert.Equal(t, []string{"job-0"}, rec.JobIDs)
	assert.Equal(t, []string{"Ra_Wm.run/WM_VAL_Ra:Warmup"}, tracked)
	require.Len(t, adapter.submitted, 1)
	assert.Equal(t, rec.ID, adapter.submitted[0].Record.ID, "record exists before submission")

	stored, err := store.Get(ctx, jobstore.TableLocal, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusWaiting, stored.Status)
	assert.Equal(t, []string{"job-0"}, stored.JobIDs)
}

func TestSubmit_ProductionContinuesSeeds(t *testing.T) {
	ctx := context.Background()
	m, adapter, _ := newTestManager(t, Options{})

	req := SubmitRequest{Runcard: "Ra_Wm.run", RunFolder: "WM_VAL_Ra", JobType: jobstore.JobTypeProduction, BaseSeed: 400, Jobs: 3}
	first, err := m.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 400, first.Seed)
	assert.Equal(t, []string{"job-400", "job-401", "job-402"}, first.JobIDs)

	second, err := m.Submit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 403, second.Seed)
	assert.Equal(t, []int{403, 404, 405}, adapter.submitted[1].Seeds)

	_, err = m.Submit(ctx, SubmitRequest{Runcard: "x.run", RunFolder: "X", JobType: jobstore.JobTypeProduction})
	assert.Error(t, err)
}

func TestSubmit_FailureKeepsRecordAsFailed(t *testing.T) {
	ctx := context.Background()
	tracked := false
	m, adapter, store := newTestManager(t, Options{Tracker: trackerFunc(func(string, string, jobstore.JobType) error {
		tracked = true
		return nil
	})})
	adapter.submitErr = scheduler.ErrSchedulerUnavailable
	adapter.submitAfter = 2

	rec, err := m.Submit(ctx, SubmitRequest{Runcard: "Ra_Wm.run", RunFolder: "WM_VAL_Ra", JobType: jobstore.JobTypeProduction, BaseSeed: 1, Jobs: 5})
	require.ErrorIs(t, err, scheduler.ErrSchedulerUnavailable)
	require.NotNil(t, rec)
	assert.False(t, tracked)

	stored, err := store.Get(ctx, jobstore.TableLocal, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFail, stored.Status)
	assert.Equal(t, []string{"job-1", "job-2"}, stored.JobIDs)
}

func TestKillAndClean(t *testing.T) {
	ctx := context.Background()
	prompt := &confirm.Recorder{Prompt: confirm.PreAuthorized{}}
	m, adapter, store := newTestManager(t, Options{})
	adapter.prompt = prompt

	rec, err := m.Submit(ctx, SubmitRequest{Runcard: "a.run", RunFolder: "A", JobType: jobstore.JobTypeProduction, BaseSeed: 1, Jobs: 2})
	require.NoError(t, err)

	require.NoError(t, m.Kill(ctx, rec.ID))
	assert.Equal(t, []string{"job-1", "job-2"}, adapter.cancelled)
	stored, err := store.Get(ctx, jobstore.TableLocal, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFail, stored.Status)

	require.NoError(t, m.Clean(ctx, rec.ID))
	assert.Equal(t, []string{"job-1", "job-2"}, adapter.cleaned)
	require.Len(t, prompt.Messages(), 1)
	active, err := m.List(ctx, jobstore.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, m.Reactivate(ctx, rec.ID))
	active, err = m.List(ctx, jobstore.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestClean_DeclinedLeavesRecord(t *testing.T) {
	ctx := context.Background()
	m, adapter, _ := newTestManager(t, Options{})
	rec, err := m.Submit(ctx, SubmitRequest{Runcard: "a.run", RunFolder: "A", JobType: jobstore.JobTypeWarmup})
	require.NoError(t, err)

	err = m.Clean(ctx, rec.ID)
	assert.True(t, confirm.IsDeclined(err))
	assert.Empty(t, adapter.cleaned)

	active, err := m.List(ctx, jobstore.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestClean_GridAsksOnce(t *testing.T) {
	ctx := context.Background()
	store, err := jobstore.Open(ctx, jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := shelltest.NewFakeRunner()
	runner.On("arcclean", "", nil)
	prompt := &confirm.Recorder{Prompt: confirm.PreAuthorized{}}
	adapter, err := grid.New(store, jobstore.TableGrid, grid.Config{CE: "ce1.example.org"}, runner, prompt, nil)
	require.NoError(t, err)
	m, err := New(store, adapter, Options{})
	require.NoError(t, err)

	id, err := store.Create(ctx, jobstore.TableGrid, jobstore.Record{
		Runcard:   "a.run",
		RunFolder: "A",
		JobType:   jobstore.JobTypeWarmup,
		JobIDs:    []string{"gsiftp://ce1.example.org:2811/jobs/a", "gsiftp://ce1.example.org:2811/jobs/b"},
	})
	require.NoError(t, err)

	require.NoError(t, m.Clean(ctx, id))
	assert.Len(t, prompt.Messages(), 1)
	assert.Len(t, runner.CallsTo("arcclean"), 2)
}

func TestKill_NoJobs(t *testing.T) {
	ctx := context.Background()
	m, _, store := newTestManager(t, Options{})
	id, err := store.Create(ctx, jobstore.TableLocal, jobstore.Record{Runcard: "a.run", RunFolder: "A", JobType: jobstore.JobTypeWarmup})
	require.NoError(t, err)

	assert.ErrorIs(t, m.Kill(ctx, id), scheduler.ErrNoJobs)
	assert.ErrorIs(t, m.Kill(ctx, id+100), jobstore.ErrNotFound)
}

func TestOutput(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, Options{})
	rec, err := m.Submit(ctx, SubmitRequest{Runcard: "a.run", RunFolder: "A", JobType: jobstore.JobTypeWarmup})
	require.NoError(t, err)

	out, err := m.Output(ctx, rec.ID, OutputStdout)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.EqualError(t, out[0].Err, "sandbox gone")

	out, err = m.Output(ctx, rec.ID, OutputLog, 0)
	require.NoError(t, err)
	assert.Equal(t, "log of job-0", out[0].Text)

	_, err = m.Output(ctx, rec.ID, OutputLog, 3)
	assert.ErrorContains(t, err, "out of range")

	_, err = m.Output(ctx, rec.ID, OutputStderr)
	assert.ErrorIs(t, err, scheduler.ErrUnsupported)

	assert.ErrorIs(t, m.RenewProxy(ctx, rec.ID), scheduler.ErrUnsupported)
}
