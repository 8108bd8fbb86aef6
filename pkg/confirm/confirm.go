// Package confirm gates destructive actions behind an explicit yes.
package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrDeclined is returned when the operator answers no.
var ErrDeclined = errors.New("declined by operator")

// Prompt asks for approval of a destructive action. A nil error means go ahead.
type Prompt interface {
	Confirm(ctx context.Context, message string) error
}

// IsDeclined returns true if err came from a refused confirmation.
func IsDeclined(err error) bool {
	return errors.Is(err, ErrDeclined)
}

// Terminal reads y/n answers line by line.
type Terminal struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out}
}

func (t *Terminal) Confirm(ctx context.Context, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(t.out, "%s [y/n] ", message); err != nil {
			return err
		}
		line, err := t.in.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		switch answer {
		case "y", "yes":
			return nil
		case "n", "no":
			return ErrDeclined
		}
		if err != nil {
			// EOF without an answer counts as no.
			return ErrDeclined
		}
		_, _ = fmt.Fprintln(t.out, "Please answer y or n.")
	}
}

// PreAuthorized approves everything. Used with --yes and by automated
// polling paths.
type PreAuthorized struct{}

func (PreAuthorized) Confirm(context.Context, string) error { return nil }

// Deny refuses everything.
type Deny struct{}

func (Deny) Confirm(context.Context, string) error { return ErrDeclined }

// Recorder wraps a Prompt and keeps the messages it was asked.
type Recorder struct {
	Prompt Prompt

	mu       sync.Mutex
	messages []string
}

func (r *Recorder) Confirm(ctx context.Context, message string) error {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
	if r.Prompt == nil {
		return nil
	}
	return r.Prompt.Confirm(ctx, message)
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
