package task

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the task table.
func printHelp() {
	colSuccess.Printf("myos task runner %s (%s)\n", version, buildDate)
	colSuccess.Println("Usage: task <task-name>")
	fmt.Println()
	color.Info.Println("Available Tasks:")

	// Find the longest usage string to calculate the first column width.
	maxLen := 0
	for _, t := range Tasks {
		length := len(t.Name) + len(t.Args)
		if t.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, t := range Tasks {
		var usage string
		if t.Args != "" {
			usage = fmt.Sprintf("  %s %s", t.Name, t.Args)
		} else {
			usage = fmt.Sprintf("  %s", t.Name)
		}

		fmt.Print("  ")
		color.Bold.Print(t.Name)
		if t.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(t.Args)
		}

		pad := columnWidth - len(usage)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(t.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for the task runner. It returns the process
// exit code: 0 on success, the failing tool's status on ordinary failure,
// the mapped verdict in test mode, and 2 for usage errors.
func Main() int {
	// 1. CONTEXT AND SIGNAL SETUP
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Printf("Received %v. Cancelling gracefully\n", sig)
				cancel()
				time.Sleep(100 * time.Millisecond)

				// A second signal forces an immediate exit.
				select {
				case <-sigs:
					colArrow.Print("\n-> ")
					color.Danger.Println("Second interrupt received. Forcing immediate exit.")
					os.Exit(130)
				case <-time.After(2 * time.Second):
					colArrow.Print("\n-> ")
					color.Danger.Println("Graceful shutdown timeout. Exiting.")
					os.Exit(130)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if len(os.Args) < 2 {
		printHelp()
		return 0
	}

	// 2. CONFIGURATION
	configPath := DefaultConfigFile
	if p := os.Getenv("MYOS_CONF"); p != "" {
		configPath = p
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to read %s: %v\n", configPath, err)
	}
	initConfig(cfg)

	// 3. MODE SELECTION, fixed for the remainder of the run
	opts := Options{}
	taskName := os.Args[1]
	if taskName == "test" {
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: task test <kernel-path>")
			return 2
		}
		opts.KernelTest = true
		opts.TestKernelPath = os.Args[2]
	}

	tsk, ok := lookupTask(taskName)
	if !ok {
		fmt.Fprintf(os.Stderr, "Invalid task name: %s\n", taskName)
		printHelp()
		return 2
	}

	// 4. EXECUTORS
	userExec := &Executor{Context: ctx}
	rootExec := &Executor{Context: ctx, ShouldRunAsRoot: true}
	p := NewPipeline(ctx, cfg, opts, &execRunner{user: userExec, root: rootExec})

	// 5. DISPATCH
	if tsk.Transcribed {
		openTranscript()
		defer closeTranscript()
	}

	var runErr error
	switch tsk.Name {
	case "log":
		return RunLogViewer()
	case "test":
		// Test mode reuses the run pipeline with exit-code checking.
		runErr = p.Run()
	default:
		runErr = tsk.Run(p)
	}

	if runErr != nil {
		colArrow.Print("-> ")
		colError.Println(runErr)
		return statusOf(runErr)
	}
	return 0
}
