// Package status polls scheduler jobs, reduces their reports to the closed
// status set and writes the result back onto job records.
package status

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

// DefaultConcurrency bounds the number of in-flight status polls.
const DefaultConcurrency = 10

// Observer is told about every reconciled record.
type Observer interface {
	RecordReconciled(ctx context.Context, res RecordResult) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, res RecordResult) error

func (f ObserverFunc) RecordReconciled(ctx context.Context, res RecordResult) error {
	return f(ctx, res)
}

type Options struct {
	Concurrency int
	Observer    Observer
	Logger      *zap.Logger
}

// Aggregator reconciles records of one scheduler table.
type Aggregator struct {
	store       *jobstore.Store
	adapter     scheduler.Adapter
	concurrency int
	observer    Observer
	logger      *zap.Logger
	now         func() time.Time
}

func New(store *jobstore.Store, adapter scheduler.Adapter, opts Options) (*Aggregator, error) {
	if store == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("scheduler adapter is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Aggregator{
		store:       store,
		adapter:     adapter,
		concurrency: opts.Concurrency,
		observer:    opts.Observer,
		logger:      opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// RecordResult is the outcome of polling one record.
type RecordResult struct {
	Table     string
	Record    jobstore.Record
	Status    jobstore.Status
	Breakdown scheduler.Breakdown
}

// PollIdentities polls every identity with at most Concurrency polls in
// flight. A failed poll yields unknown for that identity only. Results keep
// the input order.
func (a *Aggregator) PollIdentities(ctx context.Context, jobIDs []string) []jobstore.JobState {
	results := make([]jobstore.JobState, len(jobIDs))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, id := range jobIDs {
		g.Go(func() error {
			results[i] = a.pollOne(ctx, i, id)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *Aggregator) pollOne(ctx context.Context, pos int, jobID string) jobstore.JobState {
	st := jobstore.JobState{Position: pos, JobID: jobID, Status: jobstore.StatusUnknown, PolledAt: a.now()}
	raw, err := a.adapter.PollStatus(ctx, jobID)
	if err != nil {
		a.logger.Debug("Status poll failed", zap.String("job_id", jobID), zap.Error(err))
		return st
	}
	st.Status = a.adapter.Classify(raw)
	return st
}

// RecordStatus computes the breakdown and roll-up for rec without writing.
func (a *Aggregator) RecordStatus(ctx context.Context, rec jobstore.Record) RecordResult {
	res := RecordResult{Table: a.adapter.Table(), Record: rec}

	if counter, ok := a.adapter.(scheduler.RecordCounter); ok {
		bd, err := counter.CountRecord(ctx, rec)
		if err == nil {
			res.Breakdown = bd
			res.Status = bd.Counts.Rollup()
			return res
		}
		a.logger.Warn("Record count failed; marking identities unknown",
			zap.Int64("record_id", rec.ID), zap.Error(err))
		for i, id := range rec.JobIDs {
			res.Breakdown.PerJob = append(res.Breakdown.PerJob, jobstore.JobState{Position: i, JobID: id, Status: jobstore.StatusUnknown, PolledAt: a.now()})
		}
		res.Breakdown.Counts.Unknown = len(rec.JobIDs)
		res.Breakdown.Total = len(rec.JobIDs)
		res.Status = jobstore.StatusUnknown
		return res
	}

	states := a.PollIdentities(ctx, rec.JobIDs)
	for _, st := range states {
		res.Breakdown.Counts.Add(st.Status)
	}
	res.Breakdown.PerJob = states
	res.Breakdown.Total = len(states)
	res.Status = res.Breakdown.Counts.Rollup()
	return res
}

// Reconcile polls one record and stores its status, tally and per-identity
// breakdown. Records without identities are returned untouched.
func (a *Aggregator) Reconcile(ctx context.Context, id int64) (RecordResult, error) {
	rec, err := a.adapter.Record(ctx, id)
	if err != nil {
		return RecordResult{}, err
	}
	return a.reconcileRecord(ctx, *rec)
}

func (a *Aggregator) reconcileRecord(ctx context.Context, rec jobstore.Record) (RecordResult, error) {
	if len(rec.JobIDs) == 0 {
		return RecordResult{Table: a.adapter.Table(), Record: rec, Status: rec.Status}, nil
	}

	res := a.RecordStatus(ctx, rec)
	table := a.adapter.Table()
	if err := a.store.SetStatus(ctx, table, rec.ID, res.Status, res.Breakdown.Counts); err != nil {
		return res, err
	}
	if err := a.store.ReplaceJobStates(ctx, table, rec.ID, res.Breakdown.PerJob); err != nil {
		return res, err
	}
	res.Record.Status = res.Status
	res.Record.SubStatus = res.Breakdown.Counts.String()

	if a.observer != nil {
		if err := a.observer.RecordReconciled(ctx, res); err != nil {
			a.logger.Warn("Status observer failed", zap.Int64("record_id", rec.ID), zap.Error(err))
		}
	}
	return res, nil
}

// ReconcileAll reconciles every active record of the table, or only ids
// when given. A record that cannot be loaded or written aborts the sweep.
func (a *Aggregator) ReconcileAll(ctx context.Context, ids ...int64) ([]RecordResult, error) {
	recs, err := a.records(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]RecordResult, 0, len(recs))
	for _, rec := range recs {
		res, err := a.reconcileRecord(ctx, rec)
		if err != nil {
			return out, fmt.Errorf("reconcile record %d: %w", rec.ID, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func (a *Aggregator) records(ctx context.Context, ids []int64) ([]jobstore.Record, error) {
	if len(ids) == 0 {
		return a.store.List(ctx, a.adapter.Table(), jobstore.ListFilter{})
	}
	recs := make([]jobstore.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := a.adapter.Record(ctx, id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}
