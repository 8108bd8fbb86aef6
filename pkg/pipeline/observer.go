package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/status"
)

var _ status.Observer = (*Pipeline)(nil)

type phase struct {
	staged, submitted, complete State
}

var phases = map[jobstore.JobType]phase{
	jobstore.JobTypeWarmup:     {StateWarmupStaged, StateWarmupSubmitted, StateWarmupComplete},
	jobstore.JobTypeProduction: {StateProductionStaged, StateProductionSubmitted, StateProductionComplete},
}

// MarkSubmitted records that the staged bundle of jobType has been handed
// to a scheduler. It is a no-op when the phase is already submitted.
func (p *Pipeline) MarkSubmitted(runcard, runFolder string, jobType jobstore.JobType) error {
	ph, ok := phases[jobType]
	if !ok {
		return nil
	}
	st, err := p.states.Load(runcard, runFolder)
	if err != nil {
		return err
	}
	if st.State == ph.submitted {
		return nil
	}
	_, err = p.states.Transition(runcard, runFolder, ph.submitted, "submitted")
	return err
}

// RecordReconciled advances the lifecycle from a reconciled record: Waiting
// or Running marks the phase submitted, Done completes it, Fail fails the
// identity. Records whose identity is in another phase are ignored, and so
// are records created before the phase was last staged: they belong to an
// earlier attempt.
func (p *Pipeline) RecordReconciled(ctx context.Context, res status.RecordResult) error {
	_ = ctx
	ph, ok := phases[res.Record.JobType]
	if !ok {
		return nil
	}
	rec := res.Record
	st, err := p.states.Load(rec.Runcard, rec.RunFolder)
	if err != nil {
		return err
	}
	if st.State != ph.staged && st.State != ph.submitted {
		return nil
	}
	if staged := st.lastEntered(ph.staged); predates(rec.Date, staged) {
		p.logger.Debug("Ignoring record from an earlier attempt",
			zap.String("identity", rec.Identity()),
			zap.Int64("record_id", rec.ID),
			zap.Time("record_date", rec.Date),
			zap.Time("staged_at", staged))
		return nil
	}

	step := func(to State, reason string) error {
		_, err := p.states.Transition(rec.Runcard, rec.RunFolder, to, reason)
		var te *TransitionError
		if errors.As(err, &te) {
			return nil
		}
		if err == nil {
			p.logger.Info("Pipeline advanced",
				zap.String("identity", rec.Identity()),
				zap.Int64("record_id", rec.ID),
				zap.String("state", string(to)))
		}
		return err
	}

	switch res.Status {
	case jobstore.StatusWaiting, jobstore.StatusRunning:
		if st.State == ph.staged {
			return step(ph.submitted, "scheduler reports "+res.Status.String())
		}
	case jobstore.StatusDone:
		if st.State == ph.staged {
			if err := step(ph.submitted, "scheduler reports done"); err != nil {
				return err
			}
		}
		return step(ph.complete, "all jobs done")
	case jobstore.StatusFail:
		return step(StateFailed, res.Breakdown.Counts.String())
	}
	return nil
}

// lastEntered returns when the lifecycle last moved into s, or the zero
// time.
func (r *RunState) lastEntered(s State) time.Time {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].To == s {
			return r.History[i].At
		}
	}
	return time.Time{}
}

// predates compares at record-date precision, which is whole seconds. An
// unknown date on either side never predates.
func predates(created, staged time.Time) bool {
	if created.IsZero() || staged.IsZero() {
		return false
	}
	return created.Before(staged.Truncate(time.Second))
}
