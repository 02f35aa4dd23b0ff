package task

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "myos.conf")
	content := `
# comment
MYOS_ROOT = /srv/myos
MYOS_MNT="/media/myos"
MYOS_DEBUG='1'
malformed line without equals
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Values["MYOS_ROOT"]; got != "/srv/myos" {
		t.Errorf("MYOS_ROOT = %q", got)
	}
	if got := cfg.Values["MYOS_MNT"]; got != "/media/myos" {
		t.Errorf("quotes not stripped: %q", got)
	}
	if got := cfg.Values["MYOS_DEBUG"]; got != "1" {
		t.Errorf("MYOS_DEBUG = %q", got)
	}
}

func TestLoadConfigMissingFileIsNotAnError(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	if err != nil {
		t.Fatalf("missing config file must not error: %v", err)
	}
	if cfg == nil {
		t.Fatal("nil config")
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "myos.conf")
	if err := os.WriteFile(path, []byte("MYOS_MNT=/from/file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MYOS_MNT", "/from/env")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Values["MYOS_MNT"]; got != "/from/env" {
		t.Errorf("env override lost: %q", got)
	}
}

func TestInitConfigDerivesLayout(t *testing.T) {
	root := t.TempDir()
	initConfig(&Config{Values: map[string]string{"MYOS_ROOT": root}})

	if outputDir != filepath.Join(root, "build") {
		t.Errorf("outputDir = %q", outputDir)
	}
	if qemuSrcDir != filepath.Join(root, "third-party", "qemu") {
		t.Errorf("qemuSrcDir = %q", qemuSrcDir)
	}
	if mountPoint != "/mnt" {
		t.Errorf("default mount point = %q", mountPoint)
	}
}

func TestConfigGetters(t *testing.T) {
	cfg := &Config{Values: map[string]string{"A": "x", "N": "7", "BAD": "seven"}}
	if cfg.get("A", "d") != "x" || cfg.get("missing", "d") != "d" {
		t.Error("get defaults wrong")
	}
	if cfg.getInt("N", 1) != 7 || cfg.getInt("BAD", 1) != 1 || cfg.getInt("missing", 9) != 9 {
		t.Error("getInt defaults wrong")
	}
}
