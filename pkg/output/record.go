// Package output provides JSONL output for record listings and status
// sweeps.
//
// Each line is a typed envelope with a type-specific payload, so a stream
// from watch can be consumed line by line while it is still running.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

// Record type constants follow the pattern hepgrid.<type>.v<version>.
const (
	// TypeRecord identifies a job record listing.
	TypeRecord = "hepgrid.record.v1"

	// TypeStatus identifies the reconciled status of one record.
	TypeStatus = "hepgrid.status.v1"

	// TypeSummary identifies the totals of a status sweep.
	TypeSummary = "hepgrid.summary.v1"

	// TypeFetch identifies the outcome for one production seed.
	TypeFetch = "hepgrid.fetch.v1"

	// TypeError identifies error records.
	TypeError = "hepgrid.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`

	// Session correlates every line written by one command invocation.
	Session string `json:"session"`

	// Backend is the scheduler kind the command ran against.
	Backend string `json:"backend"`

	Data json.RawMessage `json:"data"`
}

// StatusRecord is the payload for one reconciled record.
type StatusRecord struct {
	ID        int64           `json:"id"`
	Runcard   string          `json:"runcard"`
	RunFolder string          `json:"runfolder"`
	JobType   string          `json:"jobtype"`
	Status    string          `json:"status"`
	Counts    jobstore.Counts `json:"counts"`

	// Total is the number of sub-jobs the scheduler reported.
	Total int `json:"total"`
}

// SummaryRecord is the payload closing a status sweep.
type SummaryRecord struct {
	Records int             `json:"records"`
	Counts  jobstore.Counts `json:"counts"`
	Total   int             `json:"total"`

	// Consistent is false when the per-status tally does not cover every
	// sub-job.
	Consistent bool `json:"consistent"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// FetchRecord is the payload for one production seed.
type FetchRecord struct {
	Seed    int      `json:"seed"`
	Archive string   `json:"archive"`
	Missing bool     `json:"missing,omitempty"`
	Logs    []string `json:"logs,omitempty"`
	Data    []string `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ErrorRecord is the payload for errors that do not stop the stream.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// RecordID is the job record related to this error, if any.
	RecordID int64 `json:"record_id,omitempty"`

	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeUnavailable = "SCHEDULER_UNAVAILABLE"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeTimeout     = "TIMEOUT"
	ErrCodeInternal    = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
