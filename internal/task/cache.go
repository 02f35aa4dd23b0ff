package task

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// The cache guard gates expensive, network- or compiler-bound steps on the
// existence of their output path. Owned components (bootloader, kernel,
// apps) are never guarded; they always rebuild.

// hashString returns the blake3 fingerprint of s.
func hashString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// stampPath is where a guarded step records the fingerprint of its pin.
func stampPath(outputPath string) string {
	return strings.TrimSuffix(outputPath, "/") + ".stamp"
}

// cachedStep skips build when outputPath already exists. When pin is
// non-empty (a version, tag or URL the step is pinned to), the decision
// additionally compares a fingerprint stamp written next to the output, so
// that bumping the pin invalidates the cache instead of silently keeping a
// stale build. With an empty pin the guard is a bare existence check, and
// the only invalidation path is deleting the output.
func cachedStep(outputPath, pin string, build func() error) (skipped bool, err error) {
	if _, statErr := os.Stat(outputPath); statErr == nil {
		if pin == "" {
			debugf("cache hit for %s\n", outputPath)
			return true, nil
		}
		want := hashString(pin)
		got, readErr := os.ReadFile(stampPath(outputPath))
		if readErr == nil && strings.TrimSpace(string(got)) == want {
			debugf("cache hit for %s (pin %s)\n", outputPath, pin)
			return true, nil
		}
		colArrow.Print("-> ")
		cPrintf(colWarn, "pin changed for %s, rebuilding\n", outputPath)
	}

	if err := build(); err != nil {
		return false, err
	}

	// The output must exist now; a guarded step that leaves nothing behind
	// would re-run forever.
	if _, statErr := os.Stat(outputPath); statErr != nil {
		return false, fmt.Errorf("guarded step left no output at %s: %w", outputPath, statErr)
	}
	if pin != "" {
		if err := os.WriteFile(stampPath(outputPath), []byte(hashString(pin)+"\n"), 0o644); err != nil {
			return false, fmt.Errorf("failed to write cache stamp for %s: %w", outputPath, err)
		}
	}
	return false, nil
}
