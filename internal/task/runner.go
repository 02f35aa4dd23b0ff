package task

import "os/exec"

// CommandRunner abstracts external command execution so that pipeline
// ordering, the image assembler and the fail-fast contract can be exercised
// in tests without spawning processes.
type CommandRunner interface {
	// Run executes cmd with user privileges.
	Run(cmd *exec.Cmd) error
	// RunRoot executes cmd with root privileges (sudo when not already root).
	RunRoot(cmd *exec.Cmd) error
}

// execRunner is the production CommandRunner, delegating to the two
// process-wide executors.
type execRunner struct {
	user *Executor
	root *Executor
}

func (r *execRunner) Run(cmd *exec.Cmd) error     { return r.user.Run(cmd) }
func (r *execRunner) RunRoot(cmd *exec.Cmd) error { return r.root.Run(cmd) }
