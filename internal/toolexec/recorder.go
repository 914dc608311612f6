package toolexec

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
)

// Invocation is a single recorded call to an Executor.
type Invocation struct {
	Name string
	Args []string
	Env  map[string]string
	Dir  string
}

// CommandLine renders the invocation as a shell-like line.
func (inv Invocation) CommandLine() string {
	parts := make([]string, 0, len(inv.Args)+1)
	parts = append(parts, inv.Name)
	parts = append(parts, inv.Args...)
	return strings.Join(parts, " ")
}

// Responder produces the result for a recorded invocation.
type Responder func(call int, inv Invocation) (*Result, error)

// Recorder is an Executor that records invocations instead of running them.
// With a nil Respond every call succeeds with empty output.
type Recorder struct {
	Respond Responder
	// Echo, when set, receives each command line as it is recorded.
	Echo io.Writer

	mu    sync.Mutex
	calls []Invocation
}

// Exec records the call and returns the responder's result.
func (r *Recorder) Exec(ctx context.Context, name string, args []string, opts *Options) (*Result, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	inv := Invocation{
		Name: name,
		Args: append([]string(nil), args...),
	}
	if opts != nil {
		inv.Env = maps.Clone(opts.Env)
		inv.Dir = opts.Dir
	}

	r.mu.Lock()
	call := len(r.calls)
	r.calls = append(r.calls, inv)
	r.mu.Unlock()

	if r.Echo != nil {
		if _, err := fmt.Fprintln(r.Echo, inv.CommandLine()); err != nil {
			return nil, fmt.Errorf("failed to print command: %w", err)
		}
	}

	var (
		res *Result
		err error
	)
	if r.Respond != nil {
		res, err = r.Respond(call, inv)
	}
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &Result{}
	}
	if opts != nil {
		res.SetFilenameTransform(opts.Transform)
	}
	return res, nil
}

// Calls returns a copy of the recorded invocations.
func (r *Recorder) Calls() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.calls...)
}
