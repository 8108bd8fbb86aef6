package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrValidationFailed indicates the manifest failed validation.
var ErrValidationFailed = errors.New("manifest validation failed")

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path locates the problematic field (e.g., "/runs/2/runfolder").
	Path string

	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "manifest validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks version, run fields and identity uniqueness.
func (m *Manifest) Validate() error {
	var errs ValidationErrors
	if m.Version != CurrentVersion {
		errs = append(errs, ValidationError{Path: "/version", Message: fmt.Sprintf("unsupported version %q", m.Version)})
	}
	if len(m.Runs) == 0 {
		errs = append(errs, ValidationError{Path: "/runs", Message: "at least one run is required"})
	}

	seen := make(map[string]int, len(m.Runs))
	for i, r := range m.Runs {
		at := fmt.Sprintf("/runs/%d", i)
		switch {
		case strings.TrimSpace(r.Runcard) == "":
			errs = append(errs, ValidationError{Path: at + "/runcard", Message: "runcard is required"})
		case r.Runcard != filepath.Base(r.Runcard):
			errs = append(errs, ValidationError{Path: at + "/runcard", Message: "runcard must be a file name; set runcard_dir for its location"})
		}
		if strings.TrimSpace(r.RunFolder) == "" {
			errs = append(errs, ValidationError{Path: at + "/runfolder", Message: "run folder is required"})
		} else if strings.ContainsAny(r.RunFolder, `/\`) {
			errs = append(errs, ValidationError{Path: at + "/runfolder", Message: "run folder must not contain path separators"})
		}
		if r.BaseSeed < 0 || r.Jobs < 0 {
			errs = append(errs, ValidationError{Path: at, Message: "base_seed and jobs must not be negative"})
		}
		if prev, dup := seen[r.Identity()]; dup {
			errs = append(errs, ValidationError{Path: at, Message: fmt.Sprintf("duplicate of /runs/%d", prev)})
		} else {
			seen[r.Identity()] = i
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
