package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrSchedulerUnavailable indicates the scheduler client failed or could not be reached.
	ErrSchedulerUnavailable = errors.New("scheduler unavailable")

	// ErrUnsupported indicates the backend does not offer the operation.
	ErrUnsupported = errors.New("operation not supported by scheduler")

	// ErrNoJobs indicates a record carries no native identities yet.
	ErrNoJobs = errors.New("no job identities on record")

	// ErrSubmitParse indicates submission output did not contain a job identity.
	ErrSubmitParse = errors.New("could not parse job identity from submission output")
)

// CommandError wraps a failed scheduler interaction with context.
type CommandError struct {
	// Op is the adapter operation (e.g. "Submit", "Cancel").
	Op string

	Scheduler Kind

	// JobID is the native identity, if the call targeted one.
	JobID string

	Err error
}

func (e *CommandError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s %s: %s: %v", e.Scheduler, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Scheduler, e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Unavailable wraps a client failure so it matches ErrSchedulerUnavailable.
func Unavailable(op string, kind Kind, jobID string, err error) error {
	return &CommandError{Op: op, Scheduler: kind, JobID: jobID, Err: fmt.Errorf("%w: %w", ErrSchedulerUnavailable, err)}
}

// IsUnavailable returns true if the error indicates a failed scheduler call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrSchedulerUnavailable)
}
