// Package shell runs scheduler and storage client commands.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExitError reports a command that could not start or exited non-zero.
type ExitError struct {
	Command string
	Output  string
	Err     error
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	if len(out) > 512 {
		out = out[:512] + "..."
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, out)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecRunner spawns real processes. A nil limiter disables pacing.
type ExecRunner struct {
	Dir     string
	Env     []string
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// NewExecRunner builds a runner that starts at most perSecond processes per
// second. perSecond <= 0 disables the limit.
func NewExecRunner(perSecond float64, logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ExecRunner{Logger: logger}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		r.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return r
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))
	if r.Logger != nil {
		r.Logger.Debug("exec", zap.String("command", command))
	}

	// #nosec G204 -- command names come from adapter code, not user input
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return buf.String(), &ExitError{Command: command, Output: buf.String(), Err: err}
	}
	return buf.String(), nil
}

// LastLine returns the last non-blank line of out.
func LastLine(out string) string {
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
