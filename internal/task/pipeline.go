package task

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrorPolicy decides what a step failure means for the rest of its
// pipeline. It is declared on the step up front so the fail-fast/tolerate
// distinction is auditable from the pipeline definition alone.
type ErrorPolicy int

const (
	// FailFast aborts the whole pipeline with the step's exit status.
	// Every later stage assumes all prior stages fully succeeded.
	FailFast ErrorPolicy = iota
	// BestEffort logs the failure and continues with the next step
	// (opportunistic downloads, interactive emulator sessions).
	BestEffort
)

// step is one named stage of a pipeline.
type step struct {
	name   string
	policy ErrorPolicy
	run    func() error
}

// Pipeline composes the artifact producers, the image assembler and the
// emulator harness into the named task sequences. The options are fixed at
// construction; a Pipeline carries no mutable mode state.
type Pipeline struct {
	ctx  context.Context
	cfg  *Config
	opts Options
	run  CommandRunner
}

// NewPipeline builds a pipeline over the given runner. initConfig must have
// resolved the directory layout already.
func NewPipeline(ctx context.Context, cfg *Config, opts Options, run CommandRunner) *Pipeline {
	return &Pipeline{ctx: ctx, cfg: cfg, opts: opts, run: run}
}

// runSteps executes steps strictly in order. The first FailFast failure
// stops the sequence and surfaces the step's exit status; BestEffort
// failures are reported and skipped over.
func (p *Pipeline) runSteps(steps []step) error {
	for _, s := range steps {
		if err := p.ctx.Err(); err != nil {
			return &stepError{step: s.name, status: 130, err: err}
		}
		if err := s.run(); err != nil {
			if s.policy == BestEffort {
				colArrow.Print("-> ")
				cPrintf(colWarn, "step %s failed (ignored): %v\n", s.name, err)
				continue
			}
			return &stepError{step: s.name, status: statusOf(err), err: err}
		}
	}
	return nil
}

// command builds a structured-argv command rooted in the project directory.
func (p *Pipeline) command(dir, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(p.ctx, name, args...)
	cmd.Dir = dir
	return cmd
}

// Build compiles everything: cache-guarded vendored components plus the
// always-rebuilt bootloader and kernel. Apps are skipped in test mode.
func (p *Pipeline) Build() error {
	steps := []step{}
	if !p.opts.KernelTest {
		steps = append(steps, step{"apps", FailFast, p.buildApps})
	}
	steps = append(steps,
		step{"init", FailFast, p.initDirs},
		step{"font", FailFast, p.buildFont},
		step{"qemu", FailFast, p.buildQemu},
		step{"bootloader", FailFast, p.buildBootloader},
		step{"kernel", FailFast, p.buildKernel},
	)
	return p.runSteps(steps)
}

// MakeImage runs the full build and assembles both filesystem images. The
// initramfs image always exists before the system image copies it in.
func (p *Pipeline) MakeImage() error {
	return p.runSteps([]step{
		{"build", FailFast, p.Build},
		{"initramfs-image", FailFast, p.makeInitramfsImage},
		{"system-image", FailFast, p.makeSystemImage},
	})
}

// MakeISO converts the system image into an optical-disc shaped artifact by
// raw block copy.
func (p *Pipeline) MakeISO() error {
	return p.runSteps([]step{
		{"image", FailFast, p.MakeImage},
		{"iso", FailFast, func() error {
			src := filepath.Join(outputDir, imgFile)
			dst := filepath.Join(outputDir, isoFile)
			return p.run.Run(p.command("", "dd",
				"if="+src, "of="+dst, "bs=1M"))
		}},
	})
}

// Dump disassembles the kernel and bootloader into the dump directory.
func (p *Pipeline) Dump() error {
	if err := p.Build(); err != nil {
		return err
	}
	targets := []struct{ bin, out string }{
		{filepath.Join(outputDir, kernelFile), filepath.Join(dumpDir, "dump_kernel.txt")},
		{filepath.Join(outputDir, bootloaderFile), filepath.Join(dumpDir, "dump_bootloader.txt")},
	}
	for _, t := range targets {
		f, err := os.Create(t.out)
		if err != nil {
			return fmt.Errorf("failed to create dump file %s: %w", t.out, err)
		}
		cmd := p.command("", "objdump", "-d", t.bin)
		cmd.Stdout = f
		err = p.run.Run(cmd)
		f.Close()
		if err != nil {
			return fmt.Errorf("objdump of %s failed: %w", t.bin, err)
		}
	}
	return nil
}

// Monitor attaches to the emulator's monitor endpoint.
func (p *Pipeline) Monitor() error {
	port := p.cfg.getInt("MYOS_MONITOR_PORT", qemuMonitorPort)
	return p.run.Run(p.command("", "telnet", "localhost", fmt.Sprint(port)))
}

// Gdb attaches rust-gdb to the emulator's debugger endpoint.
func (p *Pipeline) Gdb() error {
	port := p.cfg.getInt("MYOS_GDB_PORT", qemuGdbPort)
	return p.run.Run(p.command("", "rust-gdb",
		filepath.Join(outputDir, kernelFile),
		"-ex", fmt.Sprintf("target remote :%d", port)))
}

// MakeNetdev creates the bridge+tap pair the guest NIC is wired to.
func (p *Pipeline) MakeNetdev() error {
	return p.runSteps([]step{
		{"bridge", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "link", "add", "name", netdevBr, "type", "bridge"))
		}},
		{"bridge-addr", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "addr", "add", netdevIP, "dev", netdevBr))
		}},
		{"bridge-up", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "link", "set", netdevBr, "up"))
		}},
		{"tap", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "tuntap", "add", netdevTap, "mode", "tap"))
		}},
		{"tap-up", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "link", "set", netdevTap, "up"))
		}},
		{"tap-master", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "link", "set", netdevTap, "master", netdevBr))
		}},
	})
}

// DelNetdev tears the bridge+tap pair down again.
func (p *Pipeline) DelNetdev() error {
	return p.runSteps([]step{
		{"del-bridge", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "link", "del", netdevBr))
		}},
		{"del-tap", FailFast, func() error {
			return p.run.RunRoot(p.command("", "ip", "link", "del", netdevTap))
		}},
	})
}
