package task

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupImageTest(t *testing.T, run CommandRunner) *Pipeline {
	t.Helper()
	root := t.TempDir()
	mnt := filepath.Join(root, "mnt")
	if err := os.MkdirAll(mnt, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := &Config{Values: map[string]string{
		"MYOS_ROOT": root,
		"MYOS_MNT":  mnt,
		"MYOS_LOCK": filepath.Join(root, "task.lock"),
	}}
	initConfig(cfg)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return NewPipeline(context.Background(), cfg, Options{}, run)
}

func TestMakeSystemImageCommandSequence(t *testing.T) {
	run := &fakeRunner{}
	p := setupImageTest(t, run)

	if err := p.makeSystemImage(); err != nil {
		t.Fatal(err)
	}

	// The raw image must exist with the declared size.
	info, err := os.Stat(filepath.Join(outputDir, imgFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != systemImgMiB*1024*1024 {
		t.Errorf("image size = %d, want %d MiB", info.Size(), systemImgMiB)
	}

	mkfs := run.indexOf("mkfs.fat")
	mount := run.indexOf("mount -o loop")
	umount := run.indexOf("umount")
	if mkfs == -1 || mount == -1 || umount == -1 {
		t.Fatalf("missing assembly commands in %v", run.argvs())
	}
	if !(mkfs < mount && mount < umount) {
		t.Errorf("assembly order wrong: mkfs=%d mount=%d umount=%d", mkfs, mount, umount)
	}

	// Boot contract: exactly the three fixed destinations are installed.
	wantDst := []string{
		filepath.Join(mountPoint, "EFI", "BOOT", "BOOTX64.EFI"),
		filepath.Join(mountPoint, "EFI", "myos", "kernel.elf"),
		filepath.Join(mountPoint, "initramfs.img"),
	}
	var gotDst []string
	for _, c := range run.calls {
		if strings.HasPrefix(c.argv, "cp ") {
			fields := strings.Fields(c.argv)
			gotDst = append(gotDst, fields[len(fields)-1])
		}
	}
	if len(gotDst) != len(wantDst) {
		t.Fatalf("installed %v, want %v", gotDst, wantDst)
	}
	for i := range wantDst {
		if gotDst[i] != wantDst[i] {
			t.Errorf("boot entry %d = %q, want %q", i, gotDst[i], wantDst[i])
		}
	}

	// Mount handling always runs escalated.
	for _, c := range run.calls {
		if strings.HasPrefix(c.argv, "mount") || strings.HasPrefix(c.argv, "umount") {
			if !c.root {
				t.Errorf("%q must run with root privileges", c.argv)
			}
		}
	}
}

func TestPopulateImageUnmountsOnCopyFailure(t *testing.T) {
	run := &fakeRunner{fail: map[string]int{"cp ": 1}}
	p := setupImageTest(t, run)

	err := p.makeSystemImage()
	if err == nil {
		t.Fatal("expected copy failure to surface")
	}
	if run.indexOf("umount") == -1 {
		t.Fatalf("mount point left mounted after failure: %v", run.argvs())
	}
}

func TestMakeInitramfsImageUsesStagingDirectory(t *testing.T) {
	run := &fakeRunner{}
	p := setupImageTest(t, run)
	if err := os.MkdirAll(initramfsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := p.makeInitramfsImage(); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(outputDir, initramfsImgFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != initramfsImgMiB*1024*1024 {
		t.Errorf("image size = %d, want %d MiB", info.Size(), initramfsImgMiB)
	}

	cp := run.indexOf("cp -r " + initramfsDir)
	if cp == -1 {
		t.Fatalf("staging directory never copied: %v", run.argvs())
	}
	if mkfs := run.indexOf("mkfs.fat -n INITRAMFS"); mkfs == -1 {
		t.Errorf("initramfs image not formatted with its label: %v", run.argvs())
	}
}
