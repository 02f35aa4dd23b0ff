package task

import (
	"os/exec"
	"strings"
)

// fakeRunner records every command instead of spawning it, optionally
// failing commands whose argv starts with a scripted prefix.
type fakeRunner struct {
	calls []fakeCall
	fail  map[string]int // argv prefix -> exit status
}

type fakeCall struct {
	argv string
	dir  string
	root bool
}

func (f *fakeRunner) record(cmd *exec.Cmd, root bool) error {
	argv := strings.Join(cmd.Args, " ")
	f.calls = append(f.calls, fakeCall{argv: argv, dir: cmd.Dir, root: root})
	for prefix, status := range f.fail {
		if strings.HasPrefix(argv, prefix) {
			return &stepError{step: prefix, status: status, err: exec.ErrNotFound}
		}
	}
	return nil
}

func (f *fakeRunner) Run(cmd *exec.Cmd) error     { return f.record(cmd, false) }
func (f *fakeRunner) RunRoot(cmd *exec.Cmd) error { return f.record(cmd, true) }

func (f *fakeRunner) argvs() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.argv
	}
	return out
}

// indexOf returns the position of the first recorded call whose argv starts
// with prefix, or -1.
func (f *fakeRunner) indexOf(prefix string) int {
	for i, c := range f.calls {
		if strings.HasPrefix(c.argv, prefix) {
			return i
		}
	}
	return -1
}
