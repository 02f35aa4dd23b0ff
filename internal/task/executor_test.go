package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

func TestStatusOf(t *testing.T) {
	if got := statusOf(nil); got != 0 {
		t.Errorf("statusOf(nil) = %d, want 0", got)
	}

	err := exec.Command("sh", "-c", "exit 7").Run()
	if err == nil {
		t.Fatal("expected exit error from sh")
	}
	if got := statusOf(err); got != 7 {
		t.Errorf("statusOf(exit 7) = %d, want 7", got)
	}

	se := &stepError{step: "kernel", status: 42, err: errors.New("boom")}
	if got := statusOf(se); got != 42 {
		t.Errorf("statusOf(stepError) = %d, want 42", got)
	}
	if got := statusOf(fmt.Errorf("wrapped: %w", se)); got != 42 {
		t.Errorf("statusOf(wrapped stepError) = %d, want 42", got)
	}

	if got := statusOf(errors.New("no status")); got != 1 {
		t.Errorf("statusOf(plain error) = %d, want 1", got)
	}
}

func TestStepErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	se := &stepError{step: "font", status: 3, err: inner}
	if !errors.Is(se, inner) {
		t.Error("stepError should unwrap to its cause")
	}
}

func TestExecutorRunPropagatesExitStatus(t *testing.T) {
	e := &Executor{Context: context.Background()}
	err := e.Run(exec.Command("sh", "-c", "exit 5"))
	if err == nil {
		t.Fatal("expected failure")
	}
	if got := statusOf(err); got != 5 {
		t.Errorf("exit status = %d, want 5", got)
	}

	if err := e.Run(exec.Command("true")); err != nil {
		t.Errorf("true failed: %v", err)
	}
}

func TestExecutorRunHonorsWorkingDirectory(t *testing.T) {
	e := &Executor{Context: context.Background()}
	dir := t.TempDir()

	var out bytes.Buffer
	cmd := exec.Command("pwd")
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := e.Run(cmd); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != dir+"\n" {
		t.Errorf("pwd = %q, want %q", got, dir+"\n")
	}
}

func TestExecutorRunTeesTranscript(t *testing.T) {
	var buf bytes.Buffer
	transcript = &buf
	defer func() { transcript = nil }()

	e := &Executor{Context: context.Background()}
	if err := e.Run(exec.Command("echo", "marker-line")); err != nil {
		t.Fatal(err)
	}

	got := buf.String()
	if !bytes.Contains([]byte(got), []byte("echo marker-line")) {
		t.Errorf("transcript missing echoed command line: %q", got)
	}
	if !bytes.Contains([]byte(got), []byte("marker-line\n")) {
		t.Errorf("transcript missing command output: %q", got)
	}
}

func TestExecutorRunAbortsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := &Executor{Context: ctx}
	if err := e.Run(exec.Command("sleep", "10")); err == nil {
		t.Fatal("expected cancelled command to fail")
	}
}
