package task

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// FAT32 image assembly. Both images follow the same fixed sequence:
// allocate a raw file, format it, mount it, clear it, copy contents in,
// settle, unmount. The mount point is host-global, so acquisition takes an
// advisory lock, and release is registered before any copy step runs:
// a failed copy must never leave the mount behind.

// settleDelay gives the kernel's FAT driver a moment to flush before the
// unmount.
const settleDelay = 500 * time.Millisecond

// mountScope is a held loop mount plus the advisory lock serializing use of
// the shared mount point. Release is safe to call more than once.
type mountScope struct {
	p        *Pipeline
	lockFile *os.File
	released bool
}

// acquireMount loop-mounts imgPath on the shared mount point. The returned
// scope must be released on every exit path.
func (p *Pipeline) acquireMount(imgPath string) (*mountScope, error) {
	lf, err := os.OpenFile(lockFilePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockFilePath, err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lf.Close()
		return nil, fmt.Errorf("mount point %s is busy (another invocation running?): %w", mountPoint, err)
	}

	if err := p.run.RunRoot(p.command("", "mount", "-o", "loop", imgPath, mountPoint)); err != nil {
		unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		lf.Close()
		return nil, fmt.Errorf("mount of %s failed: %w", imgPath, err)
	}
	return &mountScope{p: p, lockFile: lf}, nil
}

// release unmounts and drops the lock. Uses lazy unmount as a fallback so a
// straggling writer cannot wedge the next invocation.
func (m *mountScope) release() error {
	if m.released {
		return nil
	}
	m.released = true

	err := m.p.run.RunRoot(m.p.command("", "umount", mountPoint))
	if err != nil {
		err = m.p.run.RunRoot(m.p.command("", "umount", "-l", mountPoint))
	}

	unix.Flock(int(m.lockFile.Fd()), unix.LOCK_UN)
	m.lockFile.Close()
	if err != nil {
		return fmt.Errorf("failed to unmount %s: %w", mountPoint, err)
	}
	return nil
}

// createRawImage allocates a zero-filled raw file of sizeMiB mebibytes,
// replacing any previous image.
func createRawImage(path string, sizeMiB int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create image %s: %w", path, err)
	}
	if err := f.Truncate(int64(sizeMiB) * 1024 * 1024); err != nil {
		f.Close()
		return fmt.Errorf("failed to size image %s: %w", path, err)
	}
	return f.Close()
}

// formatFAT32 formats the raw image as FAT32 with the given volume label.
func (p *Pipeline) formatFAT32(path, label string) error {
	return p.run.Run(p.command("", "mkfs.fat", "-n", label, "-F", "32", "-s", "2", path))
}

// populateImage mounts the image, clears any prior contents and runs fill
// to copy new contents in. Unmounting happens on every path.
func (p *Pipeline) populateImage(imgPath string, fill func() error) error {
	scope, err := p.acquireMount(imgPath)
	if err != nil {
		return err
	}
	defer scope.release()

	// Clear leftovers from a previous assembly. The glob is expanded here,
	// not by a shell.
	leftovers, err := filepath.Glob(filepath.Join(mountPoint, "*"))
	if err != nil {
		return err
	}
	for _, entry := range leftovers {
		if err := p.run.RunRoot(p.command("", "rm", "-rf", entry)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", entry, err)
		}
	}

	if err := fill(); err != nil {
		return err
	}

	time.Sleep(settleDelay)
	return scope.release()
}

// makeInitramfsImage packs the staging directory into the initramfs image.
func (p *Pipeline) makeInitramfsImage() error {
	imgPath := filepath.Join(outputDir, initramfsImgFile)
	if err := createRawImage(imgPath, initramfsImgMiB); err != nil {
		return err
	}
	if err := p.formatFAT32(imgPath, initramfsImgLabel); err != nil {
		return err
	}
	return p.populateImage(imgPath, func() error {
		return p.run.RunRoot(p.command("", "cp", "-r",
			initramfsDir+string(os.PathSeparator)+".", mountPoint))
	})
}

// bootEntry is one file of the boot contract consumed by the loader and
// kernel.
type bootEntry struct {
	src string // staged artifact in the output directory
	dst string // path inside the mounted system image
}

// systemImageLayout returns the fixed boot layout: this triple is the
// contract, regardless of which vendored components were cache-skipped.
func systemImageLayout() []bootEntry {
	return []bootEntry{
		{filepath.Join(outputDir, bootloaderFile), filepath.Join(mountPoint, "EFI", "BOOT", "BOOTX64.EFI")},
		{filepath.Join(outputDir, kernelFile), filepath.Join(mountPoint, "EFI", "myos", "kernel.elf")},
		{filepath.Join(outputDir, initramfsImgFile), filepath.Join(mountPoint, "initramfs.img")},
	}
}

// makeSystemImage assembles the bootable system image from the loader, the
// kernel and the just-built initramfs image.
func (p *Pipeline) makeSystemImage() error {
	imgPath := filepath.Join(outputDir, imgFile)
	if err := createRawImage(imgPath, systemImgMiB); err != nil {
		return err
	}
	if err := p.formatFAT32(imgPath, systemImgLabel); err != nil {
		return err
	}
	return p.populateImage(imgPath, func() error {
		for _, dir := range []string{
			filepath.Join(mountPoint, "EFI", "BOOT"),
			filepath.Join(mountPoint, "EFI", "myos"),
		} {
			if err := p.run.RunRoot(p.command("", "mkdir", "-p", dir)); err != nil {
				return err
			}
		}
		for _, e := range systemImageLayout() {
			if err := p.run.RunRoot(p.command("", "cp", e.src, e.dst)); err != nil {
				return fmt.Errorf("failed to install %s: %w", e.dst, err)
			}
		}
		return nil
	})
}
