package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/hepgrid/pkg/artifact"
	"github.com/3leaps/hepgrid/pkg/confirm"
	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
	"github.com/3leaps/hepgrid/pkg/scheduler/grid"
	"github.com/3leaps/hepgrid/pkg/shell/shelltest"
	"github.com/3leaps/hepgrid/pkg/status"
)

// arcState is the text the fake arcstat reports for every job.
type arcState struct {
	mu   sync.Mutex
	text string
}

func (s *arcState) set(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

func (s *arcState) get() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

func TestWarmupToProduction_ThroughReconcile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	store, err := jobstore.Open(ctx, jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := shelltest.NewFakeRunner()
	runner.On("arcsub", "Job submitted with jobid: gsiftp://ce1.example.org:2811/jobs/w1\n", nil)
	arc := &arcState{}
	runner.Handle("arcstat", func(c shelltest.Call) (string, error) {
		return "Job: " + c.Args[len(c.Args)-1] + "\n State: " + arc.get() + "\n", nil
	})
	adapter, err := grid.New(store, jobstore.TableGrid, grid.Config{CE: "ce1.example.org"}, runner, confirm.PreAuthorized{}, nil)
	require.NoError(t, err)
	agg, err := status.New(store, adapter, status.Options{Observer: h.p})
	require.NoError(t, err)

	require.NoError(t, h.p.StageWarmup(ctx, h.run(warmupDef), StageOptions{}))

	rec := jobstore.Record{Runcard: testRuncard, RunFolder: testFolder, JobType: jobstore.JobTypeWarmup}
	id, err := store.Create(ctx, jobstore.TableGrid, rec)
	require.NoError(t, err)
	ids, err := adapter.Submit(ctx, scheduler.SubmitRequest{Record: rec, Executable: h.p.cfg.Executable, WorkDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.SetJobIDs(ctx, jobstore.TableGrid, id, ids))
	require.NoError(t, h.p.MarkSubmitted(testRuncard, testFolder, jobstore.JobTypeWarmup))

	arc.set("Queuing")
	res, err := agg.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusWaiting, res.Status)
	assertState(t, h, StateWarmupSubmitted)

	arc.set("Running")
	_, err = agg.Reconcile(ctx, id)
	require.NoError(t, err)
	assertState(t, h, StateWarmupSubmitted)

	h.putArchive(t, artifact.DirWarmup, h.p.Naming().WarmupArchive(testRuncard, testFolder), goodWarmup())
	err = h.p.StageProduction(ctx, h.run(productionDef), StageOptions{})
	assert.True(t, IsDependency(err), "production waits for the warmup to finish")

	arc.set("Finished")
	res, err = agg.Reconcile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusDone, res.Status)
	assertState(t, h, StateWarmupComplete)

	require.NoError(t, h.p.StageProduction(ctx, h.run(productionDef), StageOptions{}))
	assertState(t, h, StateProductionStaged)

	stored, err := store.Get(ctx, jobstore.TableGrid, id)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusDone, stored.Status)
}

func TestRecordReconciled_FailIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.p.StageWarmup(ctx, h.run(warmupDef), StageOptions{}))

	rec := jobstore.Record{ID: 1, Runcard: testRuncard, RunFolder: testFolder, JobType: jobstore.JobTypeWarmup}
	require.NoError(t, h.p.RecordReconciled(ctx, status.RecordResult{Record: rec, Status: jobstore.StatusFail}))
	assertState(t, h, StateFailed)

	require.NoError(t, h.p.RecordReconciled(ctx, status.RecordResult{Record: rec, Status: jobstore.StatusDone}))
	assertState(t, h, StateFailed)

	err := h.p.StageWarmup(ctx, h.run(warmupDef), StageOptions{})
	var te *TransitionError
	require.ErrorAs(t, err, &te)

	require.NoError(t, h.p.StageWarmup(ctx, h.run(warmupDef), StageOptions{Reset: true}))
	assertState(t, h, StateWarmupStaged)
}

func TestRecordReconciled_IgnoresEarlierAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	store, err := jobstore.Open(ctx, jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runner := shelltest.NewFakeRunner()
	runner.Handle("arcstat", func(c shelltest.Call) (string, error) {
		id := c.Args[len(c.Args)-1]
		state := "Finished"
		if strings.HasSuffix(id, "/old") {
			state = "Failed"
		}
		return "Job: " + id + "\n State: " + state + "\n", nil
	})
	adapter, err := grid.New(store, jobstore.TableGrid, grid.Config{CE: "ce1.example.org"}, runner, confirm.PreAuthorized{}, nil)
	require.NoError(t, err)
	agg, err := status.New(store, adapter, status.Options{Observer: h.p})
	require.NoError(t, err)

	oldID, err := store.Create(ctx, jobstore.TableGrid, jobstore.Record{
		Runcard:   testRuncard,
		RunFolder: testFolder,
		JobType:   jobstore.JobTypeWarmup,
		JobIDs:    []string{"gsiftp://ce1.example.org:2811/jobs/old"},
		Date:      time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, h.p.StageWarmup(ctx, h.run(warmupDef), StageOptions{Reset: true}))
	newID, err := store.Create(ctx, jobstore.TableGrid, jobstore.Record{
		Runcard:   testRuncard,
		RunFolder: testFolder,
		JobType:   jobstore.JobTypeWarmup,
		JobIDs:    []string{"gsiftp://ce1.example.org:2811/jobs/new"},
	})
	require.NoError(t, err)
	require.NoError(t, h.p.MarkSubmitted(testRuncard, testFolder, jobstore.JobTypeWarmup))

	results, err := agg.ReconcileAll(ctx, oldID, newID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assertState(t, h, StateWarmupComplete)

	stale, err := store.Get(ctx, jobstore.TableGrid, oldID)
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusFail, stale.Status)

	h.putArchive(t, artifact.DirWarmup, h.p.Naming().WarmupArchive(testRuncard, testFolder), goodWarmup())
	require.NoError(t, h.p.StageProduction(ctx, h.run(productionDef), StageOptions{}))
	assertState(t, h, StateProductionStaged)
}

func TestRecordReconciled_FailFromCurrentAttempt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.p.StageWarmup(ctx, h.run(warmupDef), StageOptions{}))

	old := jobstore.Record{ID: 1, Runcard: testRuncard, RunFolder: testFolder, JobType: jobstore.JobTypeWarmup, Date: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, h.p.RecordReconciled(ctx, status.RecordResult{Record: old, Status: jobstore.StatusFail}))
	assertState(t, h, StateWarmupStaged)

	current := jobstore.Record{ID: 2, Runcard: testRuncard, RunFolder: testFolder, JobType: jobstore.JobTypeWarmup, Date: time.Now().UTC()}
	require.NoError(t, h.p.RecordReconciled(ctx, status.RecordResult{Record: current, Status: jobstore.StatusFail}))
	assertState(t, h, StateFailed)
}

func TestRecordReconciled_IgnoresOtherPhase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.p.StageWarmup(ctx, h.run(warmupDef), StageOptions{}))

	rec := jobstore.Record{Runcard: testRuncard, RunFolder: testFolder, JobType: jobstore.JobTypeProduction}
	require.NoError(t, h.p.RecordReconciled(ctx, status.RecordResult{Record: rec, Status: jobstore.StatusDone}))
	assertState(t, h, StateWarmupStaged)
}

func assertState(t *testing.T, h *harness, want State) {
	t.Helper()
	st, err := h.p.States().Load(testRuncard, testFolder)
	require.NoError(t, err)
	assert.Equal(t, want, st.State)
}
