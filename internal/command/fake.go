package command

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// Call is one recorded invocation.
type Call struct {
	Name string
	Args []string
}

// String renders the call as a shell-like line.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Fake is a scripted Runner for tests. Handler decides the output and error
// of each call; a nil Handler succeeds silently.
type Fake struct {
	Handler func(call Call) (string, error)
	// Missing lists binaries LookPath should report as absent.
	Missing []string

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) record(name string, args []string) (string, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.Handler == nil {
		return "", nil
	}
	return f.Handler(call)
}

func (f *Fake) Run(_ context.Context, name string, args []string, out io.Writer) error {
	s, err := f.record(name, args)
	if out != nil && s != "" {
		_, _ = io.WriteString(out, s)
	}
	return err
}

func (f *Fake) Output(_ context.Context, name string, args ...string) (string, error) {
	return f.record(name, args)
}

func (f *Fake) LookPath(name string) (string, error) {
	for _, m := range f.Missing {
		if m == name {
			return "", errors.New(name + ": not found")
		}
	}
	return "/usr/bin/" + name, nil
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
