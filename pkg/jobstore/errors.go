package jobstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidField indicates an update targeted a column that is not mutable.
	ErrInvalidField = errors.New("invalid field")

	// ErrInvalidStatus indicates a status outside the closed set.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTable indicates a table name that is not a plain identifier.
	ErrInvalidTable = errors.New("invalid table name")
)

// FieldError reports a rejected field write.
type FieldError struct {
	Field string
	Value any
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// IsNotFound returns true if the error indicates a record lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
