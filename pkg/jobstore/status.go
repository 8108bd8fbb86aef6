package jobstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the normalized job status persisted on a record.
//
// NOTE: These values are stored in the status column and are part of the
// on-disk contract shared with older databases.
type Status string

const (
	StatusDone    Status = "done"
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusFail    Status = "fail"
	StatusUnknown Status = "unknown"
)

// Statuses lists the closed status set in display order.
var Statuses = []Status{StatusDone, StatusWaiting, StatusRunning, StatusFail, StatusUnknown}

func (s Status) Valid() bool {
	switch s {
	case StatusDone, StatusWaiting, StatusRunning, StatusFail, StatusUnknown:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Label is the capitalised form used in tables.
func (s Status) Label() string {
	switch s {
	case StatusDone:
		return "Done"
	case StatusWaiting:
		return "Waiting"
	case StatusRunning:
		return "Running"
	case StatusFail:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ParseStatus accepts any case of the closed set plus the "failed" alias.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if s == "failed" {
		s = StatusFail
	}
	if !s.Valid() {
		return "", &FieldError{Field: "status", Value: raw, Err: ErrInvalidStatus}
	}
	return s, nil
}

// JobType distinguishes warmup, production and socketed runs.
type JobType string

const (
	JobTypeWarmup     JobType = "Warmup"
	JobTypeProduction JobType = "Production"
	JobTypeSocket     JobType = "Socket"
)

func (t JobType) Valid() bool {
	switch t {
	case JobTypeWarmup, JobTypeProduction, JobTypeSocket:
		return true
	}
	return false
}

// ParseJobType accepts a job type case-insensitively.
func ParseJobType(raw string) (JobType, error) {
	for _, t := range []JobType{JobTypeWarmup, JobTypeProduction, JobTypeSocket} {
		if strings.EqualFold(strings.TrimSpace(raw), string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: job type %q", ErrInvalidField, raw)
}

// Counts tallies job identities by status.
type Counts struct {
	Done    int `json:"done"`
	Waiting int `json:"waiting"`
	Running int `json:"running"`
	Fail    int `json:"fail"`
	Unknown int `json:"unknown"`
}

func (c *Counts) Add(s Status) {
	switch s {
	case StatusDone:
		c.Done++
	case StatusWaiting:
		c.Waiting++
	case StatusRunning:
		c.Running++
	case StatusFail:
		c.Fail++
	default:
		c.Unknown++
	}
}

// Merge adds every bucket of o into c.
func (c *Counts) Merge(o Counts) {
	c.Done += o.Done
	c.Waiting += o.Waiting
	c.Running += o.Running
	c.Fail += o.Fail
	c.Unknown += o.Unknown
}

func (c Counts) Total() int {
	return c.Done + c.Waiting + c.Running + c.Fail + c.Unknown
}

// Of returns the bucket for s.
func (c Counts) Of(s Status) int {
	switch s {
	case StatusDone:
		return c.Done
	case StatusWaiting:
		return c.Waiting
	case StatusRunning:
		return c.Running
	case StatusFail:
		return c.Fail
	default:
		return c.Unknown
	}
}

// Rollup reduces the tally to one record status.
//
// Done requires every identity to be done. Fail wins once nothing is still
// queued or running. Otherwise the larger of running and waiting wins, with
// running taking ties. An empty tally is unknown.
func (c Counts) Rollup() Status {
	n := c.Total()
	if n == 0 {
		return StatusUnknown
	}
	if c.Done == n {
		return StatusDone
	}
	if c.Fail > 0 && c.Running == 0 && c.Waiting == 0 {
		return StatusFail
	}
	if c.Running > 0 && c.Running >= c.Waiting {
		return StatusRunning
	}
	if c.Waiting > 0 {
		return StatusWaiting
	}
	return StatusUnknown
}

// String renders the tally in the sub_status column format.
func (c Counts) String() string {
	return fmt.Sprintf("done=%d waiting=%d running=%d fail=%d unknown=%d",
		c.Done, c.Waiting, c.Running, c.Fail, c.Unknown)
}

// ParseCounts reverses Counts.String. Unknown keys are ignored.
func ParseCounts(raw string) (Counts, error) {
	var c Counts
	for _, part := range strings.Fields(raw) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return Counts{}, fmt.Errorf("invalid count %q", part)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Counts{}, fmt.Errorf("invalid count %q: %w", part, err)
		}
		switch k {
		case "done":
			c.Done = n
		case "waiting":
			c.Waiting = n
		case "running":
			c.Running = n
		case "fail":
			c.Fail = n
		case "unknown":
			c.Unknown = n
		}
	}
	return c, nil
}
