package task

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"
)

// Every pipeline run tees its command transcript into the dump directory;
// on completion the transcript is compressed so old runs stay inspectable
// via the `log` task without eating disk.

var transcriptFileHandle *os.File

// openTranscript starts capturing the command transcript. Best-effort: a
// failure here degrades to console-only output.
func openTranscript() {
	if err := os.MkdirAll(dumpDir, 0o755); err != nil {
		debugf("cannot create dump dir: %v\n", err)
		return
	}
	f, err := os.Create(filepath.Join(dumpDir, transcriptFile))
	if err != nil {
		debugf("cannot open transcript: %v\n", err)
		return
	}
	transcriptFileHandle = f
	transcript = f
}

// closeTranscript stops capturing and compresses the transcript to
// transcript.log.xz.
func closeTranscript() {
	if transcriptFileHandle == nil {
		return
	}
	transcript = nil
	transcriptFileHandle.Close()
	transcriptFileHandle = nil

	logPath := filepath.Join(dumpDir, transcriptFile)
	if err := compressXZ(logPath, logPath+".xz"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to compress transcript: %v\n", err)
	}
}

// compressXZ compresses a file using XZ.
func compressXZ(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return err
	}

	xw, err := xz.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(xw, src); err != nil {
		xw.Close()
		dst.Close()
		return fmt.Errorf("failed to compress %s: %w", srcPath, err)
	}
	if err := xw.Close(); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
