package task

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/ulikunitz/xz"
)

// Log viewer over the dump directory: transcripts, disassembly dumps and
// anything else a pipeline left behind. Plain-text files are shown as-is,
// .xz entries are decompressed on the fly.

type logEntry struct {
	path    string
	content string
}

// readLogFile loads a dump-directory file, decompressing .xz transparently.
func readLogFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".xz") {
		xr, err := xz.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("failed to create xz reader for %s: %w", path, err)
		}
		r = xr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// collectLogs gathers the viewable files from the dump directory.
func collectLogs() ([]logEntry, error) {
	entries, err := os.ReadDir(dumpDir)
	if err != nil {
		return nil, fmt.Errorf("no dump directory at %s: %w", dumpDir, err)
	}

	var logs []logEntry
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".log") && !strings.HasSuffix(name, ".txt") && !strings.HasSuffix(name, ".xz") {
			continue
		}
		path := filepath.Join(dumpDir, name)
		content, err := readLogFile(path)
		if err != nil {
			content = fmt.Sprintf("error reading %s: %v", path, err)
		}
		logs = append(logs, logEntry{path: path, content: content})
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].path < logs[j].path })
	return logs, nil
}

// RunLogViewer opens a TUI over the dump-directory logs. Returns the
// process exit code.
func RunLogViewer() int {
	logs, err := collectLogs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(logs) == 0 {
		colArrow.Print("-> ")
		colWarn.Println("No logs in the dump directory yet.")
		return 0
	}

	app := tview.NewApplication()
	activeIdx := 0

	header := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	header.SetBorder(true)
	header.SetTitle("myos task log viewer")

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true)
	logView.SetBorder(true)

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	footer.SetBorder(true)
	footer.SetText("←/→ switch log   ↑/↓ scroll   Home/End jump   q/Esc quit")

	update := func() {
		entry := logs[activeIdx]
		header.SetText(fmt.Sprintf("[yellow]%s[-]  (%d/%d)", entry.path, activeIdx+1, len(logs)))
		logView.SetText(tview.Escape(entry.content))
		logView.ScrollToBeginning()
	}
	update()

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 3, 0, false).
		AddItem(logView, 0, 1, true).
		AddItem(footer, 3, 0, false)

	flex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyLeft:
			activeIdx--
			if activeIdx < 0 {
				activeIdx = len(logs) - 1
			}
			update()
			return nil
		case tcell.KeyRight:
			activeIdx++
			if activeIdx >= len(logs) {
				activeIdx = 0
			}
			update()
			return nil
		case tcell.KeyHome:
			logView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			logView.ScrollToEnd()
			return nil
		}
		if event.Rune() == 'q' {
			app.Stop()
			return nil
		}
		return event
	})

	if err := app.SetRoot(flex, true).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
