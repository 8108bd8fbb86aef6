// Package runcard reads the phase switches of a physics runcard.
//
// Two layouts are understood. The positional layout puts the value first and
// a tag after a "!" comment marker:
//
//	WM_VAL      ! Job name id
//	Ra_Wm       ! Process name
//	.true.      ! Warmup
//	.false.     ! Production
//
// The block layout uses key = value pairs:
//
//	warmup = .true.
//	production = .false.
//	multi_channel = .true.
//
// Anything else in the file is ignored.
package runcard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	flagTrue  = ".true."
	flagFalse = ".false."
)

// File is a parsed runcard. It implements pipeline.RunDefinition.
type File struct {
	Name string
	Path string

	Warmup       bool
	Production   bool
	Continuation bool
	MultiChannel bool

	// ID is the job name id; Process is the process name. Either may be empty.
	ID      string
	Process string
}

// Open parses the runcard at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("runcard not found: %s", path)
		}
		return nil, fmt.Errorf("open runcard: %w", err)
	}
	defer func() { _ = f.Close() }()

	rc, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse runcard %s: %w", path, err)
	}
	rc.Name = filepath.Base(path)
	rc.Path = path
	return rc, nil
}

// Parse reads runcard text from r.
func Parse(r io.Reader) (*File, error) {
	rc := &File{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		value, tag, ok := splitLine(sc.Text())
		if !ok {
			continue
		}
		rc.apply(strings.ToLower(tag), value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rc, nil
}

// splitLine returns the value and tag of one line.
func splitLine(line string) (value, tag string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	if v, t, found := strings.Cut(line, "!"); found {
		return strings.TrimSpace(v), strings.TrimSpace(t), true
	}
	if k, v, found := strings.Cut(line, "="); found {
		return strings.TrimSpace(v), strings.TrimSpace(k), true
	}
	return "", "", false
}

func (rc *File) apply(tag, value string) {
	switch {
	case strings.Contains(tag, "continu"):
		rc.Continuation = isTrue(value)
	case strings.Contains(tag, "multi_channel"), strings.Contains(tag, "multichannel"):
		rc.MultiChannel = isTrue(value)
	case strings.Contains(tag, "warmup"):
		rc.Warmup = isTrue(value)
	case strings.Contains(tag, "production"):
		rc.Production = isTrue(value)
	case tag == "id", strings.Contains(tag, "job name"):
		rc.ID = firstField(value)
	case tag == "process", strings.Contains(tag, "process name"):
		rc.Process = firstField(value)
	}
}

func isTrue(value string) bool {
	v := strings.ToLower(value)
	return strings.Contains(v, flagTrue) && !strings.Contains(v, flagFalse)
}

func firstField(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (rc *File) IsWarmupActive() bool     { return rc.Warmup }
func (rc *File) IsProductionActive() bool { return rc.Production }
func (rc *File) IsContinuation() bool     { return rc.Continuation }

// WarmupArtifactBaseName is the stem shared by the grid files a warmup
// writes: "<process>.<id>", lower-cased, or the id alone without a process.
func (rc *File) WarmupArtifactBaseName() string {
	base := rc.ID
	if rc.Process != "" && rc.ID != "" {
		base = rc.Process + "." + rc.ID
	}
	return strings.ToLower(base)
}
