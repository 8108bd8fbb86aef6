package runs

import (
	"context"
	"fmt"

	"github.com/3leaps/hepgrid/pkg/jobstore"
	"github.com/3leaps/hepgrid/pkg/scheduler"
)

// OutputKind selects which job output to fetch.
type OutputKind string

const (
	OutputStdout OutputKind = "stdout"
	OutputStderr OutputKind = "stderr"
	OutputLog    OutputKind = "log"
)

// JobOutput is the fetched output of one job identity.
type JobOutput struct {
	Position int
	JobID    string
	Text     string
	Err      error
}

// Output fetches kind for the jobs at positions of record id, or for every
// job when positions is empty. Per-job failures are reported in the result.
func (m *Manager) Output(ctx context.Context, id int64, kind OutputKind, positions ...int) ([]JobOutput, error) {
	rec, err := m.withJobs(ctx, "Output", id)
	if err != nil {
		return nil, err
	}
	fetch, err := m.fetcher(kind)
	if err != nil {
		return nil, err
	}

	if len(positions) == 0 {
		positions = make([]int, len(rec.JobIDs))
		for i := range positions {
			positions[i] = i
		}
	}
	out := make([]JobOutput, 0, len(positions))
	for _, pos := range positions {
		if pos < 0 || pos >= len(rec.JobIDs) {
			return out, fmt.Errorf("record %d has %d job(s); position %d is out of range", id, len(rec.JobIDs), pos)
		}
		jobID := rec.JobIDs[pos]
		text, err := fetch(ctx, *rec, jobID)
		out = append(out, JobOutput{Position: pos, JobID: jobID, Text: text, Err: err})
	}
	return out, nil
}

type fetchFunc func(ctx context.Context, rec jobstore.Record, jobID string) (string, error)

func (m *Manager) fetcher(kind OutputKind) (fetchFunc, error) {
	switch kind {
	case OutputStdout:
		return m.adapter.FetchStdout, nil
	case OutputLog:
		return m.adapter.FetchLog, nil
	case OutputStderr:
		if f, ok := m.adapter.(scheduler.StderrFetcher); ok {
			return f.FetchStderr, nil
		}
		return nil, &scheduler.CommandError{Op: "FetchStderr", Scheduler: m.adapter.Kind(), Err: scheduler.ErrUnsupported}
	}
	return nil, fmt.Errorf("unknown output kind %q", kind)
}
