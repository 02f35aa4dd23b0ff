package task

import (
	"fmt"
	"path/filepath"
)

// Emulator launch configuration and the exit-code-based test protocol.

const (
	qemuMonitorPort = 5678
	qemuGdbPort     = 3333
)

// Debug-exit statuses the guest test runner signals through the
// isa-debug-exit device.
const (
	qemuExitSuccess = 33
	qemuExitFailure = 35
)

// Verdict classifies a test-mode emulator exit status.
type Verdict int

const (
	VerdictSuccess Verdict = iota
	VerdictFailure
	VerdictUnknown
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "EXIT_SUCCESS"
	case VerdictFailure:
		return "EXIT_FAILURE"
	default:
		return "Unknown"
	}
}

// classifyExit maps the emulator's raw exit status onto a verdict and the
// harness's own process exit code. The mapping is total: anything that is
// not an explicit success or failure signal is an unknown failure, which
// covers a guest that crashed before reaching the test runner (status 0)
// and an externally interrupted emulator alike.
func classifyExit(status int) (Verdict, int) {
	switch status {
	case qemuExitSuccess:
		return VerdictSuccess, 0
	case qemuExitFailure:
		return VerdictFailure, 1
	default:
		return VerdictUnknown, 1
	}
}

// displayMode selects the emulator's front end.
type displayMode int

const (
	displayDefault displayMode = iota
	displayNone                // test mode, headless
	displayNographic
)

// launchConfig is the immutable emulator argument set, constructed fresh
// per invocation.
type launchConfig struct {
	monitorPort int
	gdbPort     int
	display     displayMode
	haltAtStart bool // -S: wait for the debugger before executing
	// tolerateExit accepts a non-zero emulator exit in normal mode:
	// interactive sessions are commonly ended by the operator rather than
	// by a program-intended exit path.
	tolerateExit bool
}

func (p *Pipeline) defaultLaunchConfig() launchConfig {
	lc := launchConfig{
		monitorPort: p.cfg.getInt("MYOS_MONITOR_PORT", qemuMonitorPort),
		gdbPort:     p.cfg.getInt("MYOS_GDB_PORT", qemuGdbPort),
	}
	if p.opts.KernelTest {
		lc.display = displayNone
	} else {
		lc.tolerateExit = true
	}
	return lc
}

// args renders the full structured argv (excluding the program name).
func (lc launchConfig) args() []string {
	a := []string{
		"-accel", "kvm",
		"-cpu", "host",
		"-no-reboot",
		"-no-shutdown",
		"-m", "512M",
		"-serial", "mon:stdio",
		"-monitor", fmt.Sprintf("telnet::%d,server,nowait", lc.monitorPort),
		"-gdb", fmt.Sprintf("tcp::%d", lc.gdbPort),
	}

	// drives
	a = append(a,
		"-drive", fmt.Sprintf("id=disk,if=none,format=raw,file=%s", filepath.Join(outputDir, imgFile)),
		"-drive", fmt.Sprintf("if=pflash,format=raw,readonly=on,file=%s", filepath.Join(thirdPartyDir, ovmfCodeFile)),
	)

	// devices
	a = append(a,
		"-device", "ahci,id=ahci",
		"-device", "ide-cd,drive=disk,bus=ahci.0,bootindex=1",
		"-device", "isa-debug-exit,iobase=0xf4,iosize=0x04",
		"-audiodev", "pa,id=speaker",
		"-machine", "pcspk-audiodev=speaker",
		"-device", "rtl8139,netdev=net0",
		"-netdev", fmt.Sprintf("tap,id=net0,ifname=%s,script=no,downscript=no", netdevTap),
		"-object", fmt.Sprintf("filter-dump,id=f0,netdev=net0,file=%s", filepath.Join(dumpDir, "dump.pcap")),
	)

	switch lc.display {
	case displayNone:
		a = append(a, "-display", "none")
	case displayNographic:
		a = append(a, "-nographic")
	}
	if lc.haltAtStart {
		a = append(a, "-S")
	}
	return a
}

// launchQemu starts the emulator and blocks until the guest halts or the
// operator intervenes. In test mode the raw exit status is domain data, not
// a tool failure: it is classified into a verdict and returned as the
// harness exit code. In normal mode a non-zero exit is tolerated because
// interactive sessions commonly end by window close or forced stop.
func (p *Pipeline) launchQemu(lc launchConfig) error {
	cmd := p.command(rootDir, qemuBinary, lc.args()...)
	err := p.run.Run(cmd)

	if p.opts.KernelTest {
		status := statusOf(err)
		verdict, exitCode := classifyExit(status)
		colArrow.Print("-> ")
		if verdict == VerdictUnknown {
			colSuccess.Printf("Received QEMU exit code: Unknown(%d)\n", status)
		} else {
			colSuccess.Printf("Received QEMU exit code: %s\n", verdict)
		}
		if exitCode != 0 {
			return &stepError{step: "qemu-test", status: exitCode, err: fmt.Errorf("kernel test verdict: %s", verdict)}
		}
		return nil
	}

	if err != nil {
		if !lc.tolerateExit {
			return err
		}
		colArrow.Print("-> ")
		cPrintf(colWarn, "emulator exited with: %v (ignored)\n", err)
	}
	return nil
}

// Run packages everything and launches the emulator interactively (or
// headless with exit-code checking in test mode).
func (p *Pipeline) Run() error {
	return p.runSteps([]step{
		{"image", FailFast, p.MakeImage},
		{"qemu", FailFast, func() error { return p.launchQemu(p.defaultLaunchConfig()) }},
	})
}

// RunNographic assembles the image and launches the emulator without a
// display, serial on stdio.
func (p *Pipeline) RunNographic() error {
	lc := p.defaultLaunchConfig()
	lc.display = displayNographic
	return p.runSteps([]step{
		{"image", FailFast, p.MakeImage},
		{"qemu", FailFast, func() error { return p.launchQemu(lc) }},
	})
}

// RunWithGdb assembles the image and launches the emulator halted at start,
// waiting for a debugger on the gdb port.
func (p *Pipeline) RunWithGdb() error {
	lc := p.defaultLaunchConfig()
	lc.haltAtStart = true
	lc.tolerateExit = false
	return p.runSteps([]step{
		{"image", FailFast, p.MakeImage},
		{"qemu", FailFast, func() error { return p.launchQemu(lc) }},
	})
}
