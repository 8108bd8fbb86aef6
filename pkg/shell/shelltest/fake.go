// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/3leaps/hepgrid/pkg/shell"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Response is what a FakeRunner returns for a matched command.
type Response struct {
	Output string
	Err    error

	// Fn, when set, computes the response and may simulate side effects
	// such as a copy tool writing its destination file.
	Fn func(c Call) (string, error)
}

// FakeRunner answers commands from a table keyed by command prefix.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []Call
}

var _ shell.Runner = (*FakeRunner)(nil)

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: map[string]Response{}}
}

// On registers a response for any command line starting with prefix. The
// longest matching prefix wins.
func (f *FakeRunner) On(prefix string, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = Response{Output: out, Err: err}
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call := Call{Name: name, Args: append([]string(nil), args...)}
	line := call.String()

	f.mu.Lock()
	f.calls = append(f.calls, call)

	best := ""
	found := false
	for prefix := range f.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best = prefix
			found = true
		}
	}
	r := f.responses[best]
	f.mu.Unlock()
	if !found {
		return "", &shell.ExitError{Command: line, Err: fmt.Errorf("no fake response")}
	}
	if r.Fn != nil {
		return r.Fn(call)
	}
	return r.Output, r.Err
}

// Handle registers a callback for any command line starting with prefix.
func (f *FakeRunner) Handle(prefix string, fn func(c Call) (string, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[prefix] = Response{Fn: fn}
}

// Calls returns a copy of every recorded invocation.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the invocations of the named binary.
func (f *FakeRunner) CallsTo(name string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
