package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/hepgrid/pkg/jobstore"
)

// Markers of the grid a warmup prints to stdout when it cannot ship files.
const (
	stdoutGridName  = "Writing grid"
	stdoutGridStart = "vegas warmup to stdout"
	stdoutGridEnd   = "End"
)

// StdoutFetcher reads the stdout of one job. Every scheduler.Adapter
// implements it.
type StdoutFetcher interface {
	FetchStdout(ctx context.Context, rec jobstore.Record, jobID string) (string, error)
}

// ParseStdoutGrid extracts the grid file name and body from warmup stdout.
// The name is the last field of the first "Writing grid" line; the body is
// everything between the start marker and the last "End".
func ParseStdoutGrid(stdout string) (name, grid string, err error) {
	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, stdoutGridName) {
			continue
		}
		if f := strings.Fields(line); len(f) > 0 {
			name = f[len(f)-1]
		}
		break
	}
	if name == "" {
		return "", "", fmt.Errorf("%w: no grid file name", ErrNoStdoutGrid)
	}
	start := strings.Index(stdout, stdoutGridStart)
	if start < 0 {
		return "", "", fmt.Errorf("%w: no grid block", ErrNoStdoutGrid)
	}
	start += len(stdoutGridStart)
	end := strings.LastIndex(stdout, stdoutGridEnd)
	if end < start {
		return "", "", fmt.Errorf("%w: grid block is not terminated", ErrNoStdoutGrid)
	}
	return filepath.Base(name), stdout[start:end], nil
}

// GridFromStdout rebuilds the warmup grid of rec from the stdout of its
// first job and writes it into dest. An existing grid file is only
// overwritten after confirmation.
func (p *Pipeline) GridFromStdout(ctx context.Context, src StdoutFetcher, rec jobstore.Record, dest string) (string, error) {
	if len(rec.JobIDs) == 0 {
		return "", fmt.Errorf("record %d has no jobs", rec.ID)
	}
	stdout, err := src.FetchStdout(ctx, rec, rec.JobIDs[0])
	if err != nil {
		return "", err
	}
	name, grid, err := ParseStdoutGrid(stdout)
	if err != nil {
		return "", err
	}
	p.logger.Info("Grid found in stdout", zap.String("identity", rec.Identity()), zap.String("grid", name))

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}
	target := filepath.Join(dest, name)
	if _, err := os.Stat(target); err == nil {
		if err := p.prompt.Confirm(ctx, fmt.Sprintf("Grid file already exists at %s. Overwrite it?", target)); err != nil {
			return "", err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.WriteFile(target, []byte(grid), 0o644); err != nil {
		return "", err
	}
	p.logger.Info("Grid written", zap.String("path", target))
	return target, nil
}

// RearmWarmup puts an identity back to WarmupStaged so a resubmitted warmup
// drives the lifecycle again. Identities already in production are left
// alone.
func (p *Pipeline) RearmWarmup(runcard, runFolder, reason string) error {
	st, err := p.states.Load(runcard, runFolder)
	if err != nil {
		return err
	}
	switch st.State {
	case StateUninitialized, StateWarmupStaged, StateWarmupSubmitted, StateWarmupComplete, StateFailed:
	default:
		return &TransitionError{Identity: identity(runcard, runFolder), From: st.State, To: StateWarmupStaged}
	}
	_, err = p.states.Force(runcard, runFolder, StateWarmupStaged, reason)
	return err
}
