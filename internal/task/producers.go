package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Artifact producers. Each one builds a single component with its own
// toolchain and deposits the result at a fixed destination path. The
// bootloader, kernel and apps are owned components and always rebuild;
// the vendored components (font, emulator, game port) sit behind the
// cache guard.

const (
	qemuBinary     = "qemu-system-x86_64"
	qemuTargetArch = "x86_64-softmmu"
	cozetteAPIURL  = "https://api.github.com/repos/slavfox/Cozette/releases/latest"
	doomWadURL     = "https://distro.ibiblio.org/slitaz/sources/packages/d/doom1.wad"
)

// initDirs creates the output, dump and app-binary directories.
func (p *Pipeline) initDirs() error {
	for _, dir := range []string{outputDir, dumpDir, filepath.Join(appsDir, "bin")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}
	return nil
}

// gitSubmoduleUpdate brings a vendored checkout in sync with the pinned ref.
func (p *Pipeline) gitSubmoduleUpdate(path string) error {
	return p.run.Run(p.command(rootDir, "git", "submodule", "update", "--init", "--recursive", path))
}

// buildBootloader compiles the UEFI loader and copies it into the output
// directory. Unconditional: the loader is an owned component.
func (p *Pipeline) buildBootloader() error {
	if err := p.run.Run(p.command(bootloaderDir, "cargo", "build")); err != nil {
		return err
	}
	src := filepath.Join(rootDir, "target", "x86_64-unknown-uefi", "debug", "bootloader.efi")
	dst := filepath.Join(outputDir, bootloaderFile)
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("failed to stage bootloader: %w", err)
	}
	return nil
}

// buildKernel compiles the kernel and copies it into the output directory.
// In test mode a caller-supplied binary replaces the default debug build;
// this is the seam the test harness uses to run one specific test kernel.
func (p *Pipeline) buildKernel() error {
	src := filepath.Join(rootDir, "target", "x86_64-kernel", "debug", "kernel")
	if p.opts.KernelTest && p.opts.TestKernelPath != "" {
		src = p.opts.TestKernelPath
	}

	if err := p.run.Run(p.command(kernelDir, "cargo", "build")); err != nil {
		return err
	}
	dst := filepath.Join(outputDir, kernelFile)
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("failed to stage kernel: %w", err)
	}
	return nil
}

// buildApps builds every application directory carrying a Makefile, then
// mirrors the apps tree into the staging directory with toolchain-internal
// target/ directories stripped, and finally builds the vendored game port
// into the same staging tree.
func (p *Pipeline) buildApps() error {
	entries, err := os.ReadDir(appsDir)
	if err != nil {
		return fmt.Errorf("failed to scan apps directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		// libc is a dependency of the other apps, not an independent artifact.
		if e.IsDir() && e.Name() != appsLibcDir {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	for _, name := range dirs {
		dir := filepath.Join(appsDir, name)
		if _, err := os.Stat(filepath.Join(dir, "Makefile")); err != nil {
			continue
		}
		if err := p.run.Run(p.command(dir, "make", "clean")); err != nil {
			return err
		}
		if err := p.run.Run(p.command(dir, "make")); err != nil {
			return err
		}
	}

	// Mirror the apps tree into the staging directory.
	stagedApps := filepath.Join(initramfsDir, appsDirName)
	if err := os.RemoveAll(stagedApps); err != nil {
		return fmt.Errorf("failed to clear staged apps: %w", err)
	}
	if err := copyDir(appsDir, stagedApps); err != nil {
		return fmt.Errorf("failed to stage apps: %w", err)
	}
	if err := removeNestedDirs(initramfsDir, "target"); err != nil {
		return fmt.Errorf("failed to strip toolchain output from staging: %w", err)
	}

	return p.buildDoom()
}

// cozetteAssetURL resolves the download URL of the latest Cozette BDF via
// the GitHub releases API.
func cozetteAssetURL() (string, error) {
	resp, err := newHTTPClient().Get(cozetteAPIURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("release query failed: %s", resp.Status)
	}

	var release struct {
		Assets []struct {
			Name               string `json:"name"`
			BrowserDownloadURL string `json:"browser_download_url"`
		} `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("failed to decode release metadata: %w", err)
	}
	for _, a := range release.Assets {
		if strings.HasSuffix(a.Name, cozetteBDF) {
			return a.BrowserDownloadURL, nil
		}
	}
	return "", fmt.Errorf("no %s asset in latest release", cozetteBDF)
}

// buildFont converts the Cozette BDF into the PSF console font. Cache-
// guarded: the conversion is skipped while third-party/font.psf exists.
// The download itself is best-effort because a pre-existing cached BDF
// makes the fetch optional.
func (p *Pipeline) buildFont() error {
	psfPath := filepath.Join(thirdPartyDir, fontFile)
	bdfPath := filepath.Join(thirdPartyDir, cozetteBDF)

	_, err := cachedStep(psfPath, p.cfg.Values["MYOS_COZETTE_PIN"], func() error {
		if url, err := cozetteAssetURL(); err != nil {
			colArrow.Print("-> ")
			cPrintf(colWarn, "cozette release lookup failed (ignored): %v\n", err)
		} else if err := downloadFile(url, bdfPath, false); err != nil {
			colArrow.Print("-> ")
			cPrintf(colWarn, "cozette download failed (ignored): %v\n", err)
		}

		if err := p.run.Run(p.command(thirdPartyDir, "bdf2psf", "--fb",
			"./"+cozetteBDF,
			"/usr/share/bdf2psf/standard.equivalents",
			"/usr/share/bdf2psf/fontsets/Uni2.512", "512",
			"./"+fontFile)); err != nil {
			return err
		}
		return os.Remove(bdfPath)
	})
	return err
}

// buildQemu builds the vendored emulator. Skipped entirely in test mode
// (the system emulator is used there) and cache-guarded on the built
// binary otherwise. The source comes from the git submodule, or from a
// release tarball when MYOS_QEMU_TARBALL is configured.
func (p *Pipeline) buildQemu() error {
	tarball := p.cfg.Values["MYOS_QEMU_TARBALL"]

	if tarball == "" {
		if err := p.gitSubmoduleUpdate(qemuSrcDir); err != nil {
			return err
		}
	}
	if p.opts.KernelTest {
		return nil
	}

	buildDir := filepath.Join(qemuSrcDir, "build")
	binPath := filepath.Join(buildDir, qemuBinary)

	_, err := cachedStep(binPath, tarball, func() error {
		if tarball != "" {
			archive := filepath.Join(thirdPartyDir, filepath.Base(tarball))
			if err := downloadFile(tarball, archive, false); err != nil {
				return err
			}
			if err := extractTar(archive, qemuSrcDir); err != nil {
				return fmt.Errorf("failed to unpack emulator source: %w", err)
			}
		}

		if err := os.MkdirAll(buildDir, 0o755); err != nil {
			return err
		}
		if err := p.run.Run(p.command(buildDir, "../configure",
			"--target-list="+qemuTargetArch,
			"--enable-trace-backends=log",
			"--enable-sdl",
			"--extra-cflags=-DDEBUG_RTL8139")); err != nil {
			return err
		}
		return p.run.Run(p.command(buildDir, "make", "-j"+fmt.Sprint(runtime.NumCPU())))
	})
	return err
}

// buildDoom fetches the shareware WAD, builds the vendored port and stages
// both into the initramfs tree. The WAD download and the port build are
// cache-guarded independently.
func (p *Pipeline) buildDoom() error {
	wadPath := filepath.Join(thirdPartyDir, doomWadFile)
	if _, err := cachedStep(wadPath, "", func() error {
		return downloadFile(doomWadURL, wadPath, false)
	}); err != nil {
		return err
	}

	if err := p.gitSubmoduleUpdate(doomSrcDir); err != nil {
		return err
	}

	binPath := filepath.Join(doomSrcDir, "doomgeneric")
	if _, err := cachedStep(binPath, "", func() error {
		if err := p.run.Run(p.command(doomSrcDir, "git", "checkout", "master")); err != nil {
			return err
		}
		return p.run.Run(p.command(doomSrcDir, "make", "-f", "Makefile.myos"))
	}); err != nil {
		return err
	}

	appsBin := filepath.Join(appsDir, "bin")
	if err := os.MkdirAll(appsBin, 0o755); err != nil {
		return err
	}
	if err := copyFile(binPath, filepath.Join(appsBin, "doom")); err != nil {
		return fmt.Errorf("failed to stage doom binary: %w", err)
	}
	stagedBin := filepath.Join(initramfsDir, appsDirName, "bin")
	if err := os.MkdirAll(stagedBin, 0o755); err != nil {
		return err
	}
	if err := copyFile(binPath, filepath.Join(stagedBin, "doom")); err != nil {
		return fmt.Errorf("failed to stage doom binary: %w", err)
	}
	if err := copyFile(wadPath, filepath.Join(initramfsDir, doomWadFile)); err != nil {
		return fmt.Errorf("failed to stage doom wad: %w", err)
	}
	return nil
}
