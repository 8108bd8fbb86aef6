package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/shell/shelltest"
)

func newTestAdapter(t *testing.T, prompt confirm.Prompt) (*Adapter, *shelltest.FakeRunner) {
	t.Helper()
	store, err := jobstore.Open(context.Background(), jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := shelltest.NewFakeRunner()
	a, err := New(store, jobstore.TableGrid, Config{CE: "ce1.example.org", JobDatabase: "/home/u/jobs.dat", ScratchDir: t.TempDir()}, runner, prompt, nil)
	require.NoError(t, err)
	return a, runner
}

func TestAdapter_SubmitParsesJobIDs(t *testing.T) {
	a, runner := newTestAdapter(t, confirm.PreAuthorized{})
	runner.On("arcsub", "Job submitted with jobid: gsiftp://ce1.example.org:2811/jobs/abc\n", nil)

	ids, err := a.Submit(context.Background(), scheduler.SubmitRequest{
		Record:     jobstore.Record{Runcard: "Ra_Wm.run", RunFolder: "WM_VAL_Ra"},
		Executable: "/opt/run.sh",
		Seeds:      []int{400, 401},
		WorkDir:    t.TempDir(),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Equal(t, "gsiftp://ce1.example.org:2811/jobs/abc", ids[0])

	calls := runner.CallsTo("arcsub")
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"-c", "ce1.example.org", "-j", "/home/u/jobs.dat"}, calls[0].Args[:4])
}

func TestAdapter_SubmitUnparseable(t *testing.T) {
	a, runner := newTestAdapter(t, confirm.PreAuthorized{})
	runner.On("arcsub", "ERROR: no matching targets\n", nil)

	_, err := a.Submit(context.Background(), scheduler.SubmitRequest{
		Record:     jobstore.Record{Runcard: "r.run", RunFolder: "RF"},
		Executable: "run.sh",
		WorkDir:    t.TempDir(),
	})
	assert.ErrorIs(t, err, scheduler.ErrSubmitParse)
}

func TestAdapter_PollAndClassify(t *testing.T) {
	a, runner := newTestAdapter(t, nil)
	runner.On("arcstat -j /home/u/jobs.dat job-1", "Job: job-1\n State: Finished\n", nil)
	runner.On("arcstat -j /home/u/jobs.dat job-2", "", errors.New("exit status 1"))

	raw, err := a.PollStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusDone, a.Classify(raw))

	_, err = a.PollStatus(context.Background(), "job-2")
	assert.True(t, scheduler.IsUnavailable(err))
}

func TestAdapter_CancelBatchesAfterConfirmation(t *testing.T) {
	rec := &confirm.Recorder{Prompt: confirm.PreAuthorized{}}
	a, runner := newTestAdapter(t, rec)
	runner.On("arckill", "", nil)

	ids := make([]string, 320)
	for i := range ids {
		ids[i] = fmt.Sprintf("job-%d", i)
	}
	require.NoError(t, a.Cancel(context.Background(), ids))

	calls := runner.CallsTo("arckill")
	require.Len(t, calls, 3)
	assert.Len(t, calls[0].Args, 2+150)
	assert.Len(t, calls[2].Args, 2+20)
	assert.Len(t, rec.Messages(), 1)
}

func TestAdapter_CancelDeclined(t *testing.T) {
	a, runner := newTestAdapter(t, confirm.Deny{})
	err := a.Cancel(context.Background(), []string{"job-1"})
	assert.True(t, confirm.IsDeclined(err))
	assert.Empty(t, runner.CallsTo("arckill"))
}

func TestAdapter_FetchStderrAddsFlag(t *testing.T) {
	a, runner := newTestAdapter(t, nil)
	runner.On("arccat", "boom", nil)

	out, err := a.FetchStderr(context.Background(), jobstore.Record{}, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "boom", out)
	calls := runner.CallsTo("arccat")
	require.Len(t, calls, 1)
	assert.Equal(t, "-e", calls[0].Args[len(calls[0].Args)-1])
}

func TestRenderDescription(t *testing.T) {
	desc := RenderDescription(scheduler.SubmitRequest{
		Record:     jobstore.Record{RunFolder: "WM_VAL_Ra"},
		Executable: "/opt/hepgrid/run.sh",
		Args:       []string{"-r", "Ra_Wm.run"},
		Threads:    8,
	}, 405, Config{Memory: 100, WallTime: "3 days"})

	assert.True(t, strings.HasPrefix(desc, "&\n"))
	assert.Contains(t, desc, `(executable   = "run.sh")`)
	assert.Contains(t, desc, `"-s" "405"`)
	assert.Contains(t, desc, `(count        = 8)`)
	assert.Contains(t, desc, `(wallTime     = "3 days")`)
}
