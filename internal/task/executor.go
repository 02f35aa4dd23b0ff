package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// Executor provides a consistent interface for executing external commands,
// abstracting away the privilege escalation (sudo) logic. Commands are
// always structured argv lists; nothing here ever passes through a shell.
type Executor struct {
	Context         context.Context // cancellation context
	ShouldRunAsRoot bool            // the command MUST be executed with root privileges
	Interactive     bool            // the command may prompt the user (no process-group isolation)
}

// transcript receives a copy of every echoed command line and, for
// non-interactive commands, their output. Nil until a pipeline opens it.
var transcript io.Writer

// echoCmd prints the exact command line before execution so that the
// operator gets a reproducible transcript. Failures are diagnosable by
// reading the lines immediately above them.
func echoCmd(cmd *exec.Cmd) {
	line := strings.Join(cmd.Args, " ")
	if cmd.Dir != "" && cmd.Dir != "." {
		line = fmt.Sprintf("%s  # in %s", line, cmd.Dir)
	}
	colCmd.Println(line)
	if transcript != nil {
		fmt.Fprintln(transcript, line)
	}
}

// runInteractiveCommand executes a command attached to the TTY for
// interactive prompts. It does not use process group isolation, making it
// suitable for commands like `sudo -v`.
func runInteractiveCommand(ctx context.Context, name string, arg ...string) error {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ensureSudo checks if the sudo ticket is still valid and re-prompts if
// necessary. No action needed if we are already root or the command doesn't
// require root.
func (e *Executor) ensureSudo() error {
	if os.Geteuid() == 0 || !e.ShouldRunAsRoot {
		return nil
	}
	// Non-interactive check first (`sudo -nv`): fast, and avoids any user
	// interaction while the ticket is fresh.
	checkCmd := exec.CommandContext(e.Context, "sudo", "-nv")
	checkCmd.Stdout = io.Discard
	checkCmd.Stderr = io.Discard
	if err := checkCmd.Run(); err == nil {
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Println("Sudo ticket has expired. Re-authenticating")
	if err := runInteractiveCommand(e.Context, "sudo", "-v"); err != nil {
		return fmt.Errorf("sudo re-authentication failed: %w", err)
	}
	return nil
}

// Run executes the given command, elevating via sudo -E only when needed.
// It echoes the command line, wires up stdio (teeing into the transcript
// when one is open), isolates the child in its own process group for
// cleanup, and waits for completion.
func (e *Executor) Run(cmd *exec.Cmd) error {
	echoCmd(cmd)

	// --- Phase 0: wire up stdio ---
	if cmd.Stdin == nil {
		cmd.Stdin = os.Stdin
	}
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
		if transcript != nil && !e.Interactive {
			cmd.Stdout = io.MultiWriter(os.Stdout, transcript)
		}
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
		if transcript != nil && !e.Interactive {
			cmd.Stderr = io.MultiWriter(os.Stderr, transcript)
		}
	}

	// --- Phase 1: maybe check privilege ---
	if err := e.ensureSudo(); err != nil {
		return err
	}

	// --- Phase 2: build the final command ---
	var finalCmd *exec.Cmd

	basePath := cmd.Path
	baseArgs := cmd.Args[1:]

	if e.ShouldRunAsRoot && os.Geteuid() != 0 {
		args := append([]string{"-E", basePath}, baseArgs...)
		finalCmd = exec.CommandContext(e.Context, "sudo", args...)
	} else {
		finalCmd = exec.CommandContext(e.Context, basePath, baseArgs...)
	}
	finalCmd.Dir = cmd.Dir

	// preserve or inherit the environment
	if len(cmd.Env) > 0 {
		finalCmd.Env = cmd.Env
	} else {
		finalCmd.Env = os.Environ()
	}

	finalCmd.Stdin = cmd.Stdin
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr

	// --- Phase 3: isolate process group for context-based cleanup ---
	if !e.Interactive {
		finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	// --- Phase 4: start and watch for cancel ---
	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	if !e.Interactive {
		pgid := finalCmd.Process.Pid

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-e.Context.Done():
				syscall.Kill(-pgid, syscall.SIGKILL)
			case <-done:
			}
		}()
	}

	// --- Phase 5: wait and return ---
	if waitErr := finalCmd.Wait(); waitErr != nil {
		if e.Context.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %v", e.Context.Err())
		}
		return waitErr
	}
	return nil
}

// statusOf extracts the process exit status carried by err. A nil error is
// status 0; an error with no exit status (spawn failure, cancellation)
// reports 1.
func statusOf(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	var se *stepError
	if errors.As(err, &se) {
		return se.status
	}
	return 1
}

// stepError carries a pipeline step failure together with the exit status
// the whole process must propagate (fail-fast contract).
type stepError struct {
	step   string
	status int
	err    error
}

func (e *stepError) Error() string {
	return fmt.Sprintf("step %s failed with status %d: %v", e.step, e.status, e.err)
}

func (e *stepError) Unwrap() error { return e.err }
