package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Clean removes all generated output, vendored build outputs and downloaded
// assets, and invokes each toolchain's own clean operation. Destructive, so
// it asks first when attached to a terminal.
func (p *Pipeline) Clean() error {
	if stdinIsTerminal() {
		colArrow.Print("-> ")
		cPrintf(colWarn, "This removes %s, %s and all vendored build output.\n", outputDir, dumpDir)
		if !askForConfirmation(colArrow, "Are you sure you want to proceed?") {
			colArrow.Print("-> ")
			colSuccess.Println("Clean canceled.")
			return nil
		}
	}

	for _, path := range []string{
		outputDir,
		dumpDir,
		filepath.Join(thirdPartyDir, doomWadFile),
		filepath.Join(thirdPartyDir, fontFile),
		filepath.Join(thirdPartyDir, fontFile+".stamp"),
		filepath.Join(thirdPartyDir, cozetteBDF),
		filepath.Join(doomSrcDir, "doomgeneric"),
		filepath.Join(qemuSrcDir, "build"),
	} {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}

	if err := p.run.Run(p.command(rootDir, "cargo", "clean")); err != nil {
		return err
	}

	// Each app cleans with its own toolchain: make when it has a Makefile,
	// cargo otherwise.
	entries, err := os.ReadDir(appsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to scan apps directory: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	for _, name := range dirs {
		dir := filepath.Join(appsDir, name)
		if _, err := os.Stat(filepath.Join(dir, "Makefile")); err == nil {
			if err := p.run.Run(p.command(dir, "make", "clean")); err != nil {
				return err
			}
		} else {
			if err := p.run.Run(p.command(dir, "cargo", "clean")); err != nil {
				return err
			}
		}
	}

	return os.RemoveAll(filepath.Join(appsDir, "bin"))
}
