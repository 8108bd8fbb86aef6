package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a run definition that fails a phase assertion.
	ErrValidation = errors.New("run definition validation failed")

	// ErrCorruptArtifact marks a warmup archive that is unreadable, lacks
	// grid files, or holds a zero-byte grid.
	ErrCorruptArtifact = errors.New("corrupt artifact")

	// ErrDependency marks a production request with no usable warmup.
	ErrDependency = errors.New("warmup dependency not satisfied")

	// ErrNoStdoutGrid marks job stdout that carries no printed warmup grid.
	ErrNoStdoutGrid = errors.New("no warmup grid in job stdout")

	// ErrInvalidTransition marks a state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid pipeline transition")
)

// ValidationError reports which assertion a runcard failed.
type ValidationError struct {
	Runcard string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Runcard, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError reports a rejected state change.
type TransitionError struct {
	Identity string
	From     State
	To       State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %s to %s", e.Identity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsCorruptArtifact(err error) bool { return errors.Is(err, ErrCorruptArtifact) }

func IsDependency(err error) bool { return errors.Is(err, ErrDependency) }
