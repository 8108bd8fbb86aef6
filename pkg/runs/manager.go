// Package runs manages the lifecycle of submission records on one
// scheduler backend: submit, kill, clean, enable/disable and output access.
package runs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

// SubmitTracker is told when a phase of a run identity has been handed to
// the scheduler. *pipeline.Pipeline implements it.
type SubmitTracker interface {
	MarkSubmitted(runcard, runFolder string, jobType jobstore.JobType) error
}

// Options configure a Manager. Destructive actions are confirmed by the
// adapter, so the manager holds no prompt of its own.
type Options struct {
	Tracker SubmitTracker
	Logger  *zap.Logger
}

// Manager drives records of one backend table.
type Manager struct {
	store   *jobstore.Store
	adapter scheduler.Adapter
	tracker SubmitTracker
	logger  *zap.Logger
}

func New(store *jobstore.Store, adapter scheduler.Adapter, opts Options) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("scheduler adapter is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		adapter: adapter,
		tracker: opts.Tracker,
		logger:  opts.Logger,
	}, nil
}

func (m *Manager) Adapter() scheduler.Adapter { return m.adapter }

// SubmitRequest describes one record to create and submit.
type SubmitRequest struct {
	Runcard    string
	RunFolder  string
	PathFolder string
	JobType    jobstore.JobType

	Executable string
	Args       []string
	Threads    int
	Queue      string
	WorkDir    string

	// BaseSeed is the lowest seed a production may use; the next free seed
	// for the identity is taken when earlier records exist. Jobs is the
	// number of production jobs. Both are ignored for warmups.
	BaseSeed int
	Jobs     int
}

// Submit writes the record first, then submits, then stores the returned
// identities. A submission failure leaves the record in place with status
// fail and any identities that were created before the failure.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*jobstore.Record, error) {
	if !req.JobType.Valid() {
		return nil, fmt.Errorf("invalid job type %q", req.JobType)
	}
	rec := jobstore.Record{
		Runcard:    req.Runcard,
		RunFolder:  req.RunFolder,
		PathFolder: req.PathFolder,
		JobType:    req.JobType,
		Queue:      req.Queue,
		Status:     jobstore.StatusUnknown,
	}

	var seeds []int
	if req.JobType == jobstore.JobTypeProduction {
		if req.Jobs <= 0 {
			return nil, fmt.Errorf("production needs at least one job")
		}
		first, err := m.store.NextSeed(ctx, m.adapter.Table(), req.Runcard, req.RunFolder, req.BaseSeed)
		if err != nil {
			return nil, err
		}
		rec.Seed, rec.NoRuns = first, req.Jobs
		for i := 0; i < req.Jobs; i++ {
			seeds = append(seeds, first+i)
		}
	} else {
		rec.NoRuns = 1
	}

	id, err := m.store.Create(ctx, m.adapter.Table(), rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	logger := m.logger.With(zap.Int64("record_id", id), zap.String("identity", rec.Identity()))

	ids, subErr := m.adapter.Submit(ctx, scheduler.SubmitRequest{
		Record:     rec,
		Executable: req.Executable,
		Args:       req.Args,
		Seeds:      seeds,
		Threads:    req.Threads,
		WorkDir:    req.WorkDir,
	})
	if len(ids) > 0 {
		if err := m.store.SetJobIDs(ctx, m.adapter.Table(), id, ids); err != nil {
			return &rec, errors.Join(subErr, err)
		}
		rec.JobIDs = ids
	}
	if subErr != nil {
		logger.Error("Submission failed", zap.Int("submitted", len(ids)), zap.Error(subErr))
		if err := m.store.Update(ctx, m.adapter.Table(), id, "status", jobstore.StatusFail); err != nil {
			return &rec, errors.Join(subErr, err)
		}
		rec.Status = jobstore.StatusFail
		return &rec, subErr
	}

	if err := m.store.Update(ctx, m.adapter.Table(), id, "status", jobstore.StatusWaiting); err != nil {
		return &rec, err
	}
	rec.Status = jobstore.StatusWaiting
	logger.Info("Submitted", zap.Strings("job_ids", ids))

	if m.tracker != nil {
		if err := m.tracker.MarkSubmitted(rec.Runcard, rec.RunFolder, rec.JobType); err != nil {
			logger.Warn("Pipeline state not advanced", zap.Error(err))
		}
	}
	return &rec, nil
}

// Record loads one record regardless of its active flag.
func (m *Manager) Record(ctx context.Context, id int64) (*jobstore.Record, error) {
	return m.adapter.Record(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter jobstore.ListFilter) ([]jobstore.Record, error) {
	return m.store.List(ctx, m.adapter.Table(), filter)
}

// Kill cancels every job of the record and marks it failed.
func (m *Manager) Kill(ctx context.Context, id int64) error {
	rec, err := m.withJobs(ctx, "Kill", id)
	if err != nil {
		return err
	}
	if err := m.adapter.Cancel(ctx, rec.JobIDs); err != nil {
		return err
	}
	m.logger.Info("Killed record jobs", zap.Int64("record_id", id), zap.Int("jobs", len(rec.JobIDs)))
	return m.store.Update(ctx, m.adapter.Table(), id, "status", jobstore.StatusFail)
}

// Clean removes remote sandboxes of the record's jobs and disables it. The
// adapter asks for confirmation; a declined prompt leaves the record active.
func (m *Manager) Clean(ctx context.Context, id int64) error {
	rec, err := m.withJobs(ctx, "Clean", id)
	if err != nil {
		return err
	}
	if err := m.adapter.CleanRemoteSandbox(ctx, rec.JobIDs); err != nil {
		return err
	}
	return m.store.Deactivate(ctx, m.adapter.Table(), id, false)
}

func (m *Manager) Deactivate(ctx context.Context, id int64) error {
	return m.store.Deactivate(ctx, m.adapter.Table(), id, false)
}

func (m *Manager) Reactivate(ctx context.Context, id int64) error {
	return m.store.Deactivate(ctx, m.adapter.Table(), id, true)
}

// RenewProxy refreshes delegated credentials of the record's jobs on
// backends that support it.
func (m *Manager) RenewProxy(ctx context.Context, id int64) error {
	renewer, ok := m.adapter.(scheduler.ProxyRenewer)
	if !ok {
		return &scheduler.CommandError{Op: "RenewProxy", Scheduler: m.adapter.Kind(), Err: scheduler.ErrUnsupported}
	}
	rec, err := m.withJobs(ctx, "RenewProxy", id)
	if err != nil {
		return err
	}
	return renewer.RenewProxy(ctx, rec.JobIDs)
}

func (m *Manager) withJobs(ctx context.Context, op string, id int64) (*jobstore.Record, error) {
	rec, err := m.adapter.Record(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(rec.JobIDs) == 0 {
		return nil, &scheduler.CommandError{Op: op, Scheduler: m.adapter.Kind(), Err: scheduler.ErrNoJobs}
	}
	return rec, nil
}
