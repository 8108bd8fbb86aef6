// Package scheduler defines the common surface over the batch systems jobs
// are submitted to.
//
// Each backend lives in its own subpackage (grid, wms, local) and is built
// with an explicit job store and table name. Destructive calls ask the
// injected confirm.Prompt before touching any job.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

// Kind names a scheduler backend.
type Kind string

const (
	KindGrid  Kind = "grid"
	KindWMS   Kind = "wms"
	KindLocal Kind = "local"
)

func (k Kind) String() string { return string(k) }

// ParseKind accepts the backend kind or its historical scheduler name.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "grid", "arc":
		return KindGrid, nil
	case "wms", "dirac":
		return KindWMS, nil
	case "local", "slurm":
		return KindLocal, nil
	}
	return "", fmt.Errorf("unknown scheduler %q (want grid, wms or local)", raw)
}

// RawState is what a scheduler reported for one native job identity.
type RawState struct {
	JobID string
	Text  string
}

// SubmitRequest describes the jobs to create for one record.
type SubmitRequest struct {
	Record jobstore.Record

	// Executable is the wrapper script run inside the job sandbox.
	Executable string

	// Args are passed to every job.
	Args []string

	// Seeds fans the record out to one job per seed. Empty submits a single
	// job, the usual shape for warmups.
	Seeds []int

	Threads int

	// WorkDir receives generated job description files.
	WorkDir string
}

// JobArgs returns the argument list for one seed. seed <= 0 omits it.
func (r SubmitRequest) JobArgs(seed int) []string {
	args := append([]string(nil), r.Args...)
	if seed > 0 {
		args = append(args, "-s", strconv.Itoa(seed))
	}
	if r.Threads > 1 {
		args = append(args, "-t", strconv.Itoa(r.Threads))
	}
	return args
}

// JobSeeds returns the seeds to submit, or a single zero seed for warmups.
func (r SubmitRequest) JobSeeds() []int {
	if len(r.Seeds) == 0 {
		return []int{0}
	}
	return r.Seeds
}

// Adapter is implemented by every scheduler backend.
type Adapter interface {
	Kind() Kind

	// Table is the record table this adapter reads and writes.
	Table() string

	// Record loads one row from Table.
	Record(ctx context.Context, id int64) (*jobstore.Record, error)

	// Submit creates the native jobs and returns their identities in
	// submission order.
	Submit(ctx context.Context, req SubmitRequest) ([]string, error)

	// PollStatus asks the scheduler about one identity.
	PollStatus(ctx context.Context, jobID string) (RawState, error)

	// Classify maps a raw report onto the closed status set.
	Classify(raw RawState) jobstore.Status

	// Cancel kills jobs after confirmation.
	Cancel(ctx context.Context, jobIDs []string) error

	FetchStdout(ctx context.Context, rec jobstore.Record, jobID string) (string, error)
	FetchLog(ctx context.Context, rec jobstore.Record, jobID string) (string, error)

	// CleanRemoteSandbox removes remote job sandboxes after confirmation.
	// Backends without remote sandboxes return nil without prompting.
	CleanRemoteSandbox(ctx context.Context, jobIDs []string) error
}

// Breakdown is a whole-record count plus the per-identity view it came from.
type Breakdown struct {
	Counts jobstore.Counts
	PerJob []jobstore.JobState

	// Total is the number of sub-jobs the scheduler knows about. It can
	// differ from the identity count for array jobs.
	Total int
}

// RecordCounter is implemented by backends that count a whole record in
// fewer calls than one poll per identity.
type RecordCounter interface {
	CountRecord(ctx context.Context, rec jobstore.Record) (Breakdown, error)
}

// StderrFetcher is implemented by backends that keep stderr apart from stdout.
type StderrFetcher interface {
	FetchStderr(ctx context.Context, rec jobstore.Record, jobID string) (string, error)
}

// ProxyRenewer is implemented by backends whose jobs carry a delegated
// credential that can be refreshed.
type ProxyRenewer interface {
	RenewProxy(ctx context.Context, jobIDs []string) error
}

// Batches splits ids into chunks of at most size.
func Batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
