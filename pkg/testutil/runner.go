// Package testutil provides test doubles and fixture helpers shared by
// package tests: a scripted shell.Runner and config-tree writers.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/sciencebuild/buildrules/pkg/shell"
)

// FakeRunner is a scripted shell.Runner. By default every command succeeds
// with empty output; tests script failures and outputs per substring match.
type FakeRunner struct {
	mu       sync.Mutex
	calls    []shell.Command
	failures map[string]error
	outputs  map[string]string
}

// NewFakeRunner returns an empty scripted runner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		failures: make(map[string]error),
		outputs:  make(map[string]string),
	}
}

// FailOn makes any command whose rendered argv contains match fail.
func (f *FakeRunner) FailOn(match string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[match] = err
}

// RespondWith sets the stdout returned for commands containing match.
func (f *FakeRunner) RespondWith(match, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[match] = output
}

// Run implements shell.Runner.
func (f *FakeRunner) Run(_ context.Context, cmd shell.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	return f.lookupErr(cmd)
}

// Output implements shell.Runner.
func (f *FakeRunner) Output(_ context.Context, cmd shell.Command) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	if err := f.lookupErr(cmd); err != nil {
		return "", err
	}
	for match, out := range f.outputs {
		if strings.Contains(cmd.String(), match) {
			return out, nil
		}
	}
	return "", nil
}

// Calls returns every command seen, in order.
func (f *FakeRunner) Calls() []shell.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]shell.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallStrings returns every command seen, rendered as strings.
func (f *FakeRunner) CallStrings() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Ran reports whether some command containing match was executed.
func (f *FakeRunner) Ran(match string) bool {
	for _, s := range f.CallStrings() {
		if strings.Contains(s, match) {
			return true
		}
	}
	return false
}

func (f *FakeRunner) lookupErr(cmd shell.Command) error {
	for match, err := range f.failures {
		if strings.Contains(cmd.String(), match) {
			return err
		}
	}
	return nil
}
