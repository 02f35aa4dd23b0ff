package task

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCachedStepSkipsWhenOutputExists(t *testing.T) {
	out := filepath.Join(t.TempDir(), "artifact")
	if err := os.WriteFile(out, []byte("built"), 0o644); err != nil {
		t.Fatal(err)
	}

	ran := 0
	for i := 0; i < 2; i++ {
		skipped, err := cachedStep(out, "", func() error { ran++; return nil })
		if err != nil {
			t.Fatal(err)
		}
		if !skipped {
			t.Fatalf("iteration %d: expected skip, output exists", i)
		}
	}
	if ran != 0 {
		t.Fatalf("guarded step ran %d times despite existing output", ran)
	}
}

func TestCachedStepBuildsWhenOutputMissing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "artifact")

	ran := 0
	skipped, err := cachedStep(out, "", func() error {
		ran++
		return os.WriteFile(out, []byte("built"), 0o644)
	})
	if err != nil {
		t.Fatal(err)
	}
	if skipped || ran != 1 {
		t.Fatalf("expected one build, got skipped=%v ran=%d", skipped, ran)
	}

	// Second invocation must not rebuild (idempotence of the guard).
	skipped, err = cachedStep(out, "", func() error { ran++; return nil })
	if err != nil {
		t.Fatal(err)
	}
	if !skipped || ran != 1 {
		t.Fatalf("expected skip on second run, got skipped=%v ran=%d", skipped, ran)
	}
}

func TestCachedStepPinChangeInvalidates(t *testing.T) {
	out := filepath.Join(t.TempDir(), "artifact")

	build := func() error { return os.WriteFile(out, []byte("built"), 0o644) }

	if _, err := cachedStep(out, "v1.0", build); err != nil {
		t.Fatal(err)
	}
	skipped, err := cachedStep(out, "v1.0", build)
	if err != nil {
		t.Fatal(err)
	}
	if !skipped {
		t.Fatal("same pin must hit the cache")
	}

	skipped, err = cachedStep(out, "v2.0", build)
	if err != nil {
		t.Fatal(err)
	}
	if skipped {
		t.Fatal("changed pin must invalidate the cache")
	}
}

func TestCachedStepRejectsStepWithNoOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "artifact")
	if _, err := cachedStep(out, "", func() error { return nil }); err == nil {
		t.Fatal("a guarded step that leaves no output must error")
	}
}
