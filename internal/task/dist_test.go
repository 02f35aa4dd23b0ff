package task

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestCompressZstdRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "image.img")
	payload := bytes.Repeat([]byte("myos"), 4096)
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	dst := src + ".zst"
	if err := compressZstd(src, dst); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestFileChecksumIsStable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "artifact")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := fileChecksum(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := fileChecksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("checksum not deterministic: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(first))
	}

	if err := os.WriteFile(path, []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	third, err := fileChecksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("checksum unchanged after content change")
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"myos/myos.img.zst": "application/zstd",
		"myos/CHECKSUMS.b3": "text/plain",
		"myos/myos.img":     "application/octet-stream",
	}
	for key, want := range cases {
		if got := contentTypeFor(key); got != want {
			t.Errorf("contentTypeFor(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestNewMirrorClientRequiresCredentials(t *testing.T) {
	cfg := &Config{Values: map[string]string{
		"MYOS_MIRROR_ENDPOINT": "https://mirror.example.com",
	}}
	if _, err := NewMirrorClient(cfg); err == nil {
		t.Fatal("expected error for incomplete mirror configuration")
	}
}
