package workarea_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pysqlcipher/amalgam/pkg/workarea"
)

func TestAcquireRelease(t *testing.T) {
	w, err := workarea.AcquireIn(t.TempDir(), "")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	base := filepath.Base(w.Path())
	if !strings.HasPrefix(base, "amalg_") || !strings.HasSuffix(base, ".tmp") {
		t.Errorf("unexpected work area name %s", base)
	}

	os.MkdirAll(filepath.Join(w.Path(), "sqlcipher", "src"), 0755)
	os.WriteFile(filepath.Join(w.Path(), "source.tar.gz"), []byte("x"), 0644)

	kept, err := w.Release(false)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if kept != "" {
		t.Errorf("expected no kept path, got %s", kept)
	}
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Error("expected work area to be removed")
	}
}

func TestRelease_Keep(t *testing.T) {
	w, err := workarea.AcquireIn(t.TempDir(), "test_")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	kept, err := w.Release(true)
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if kept != w.Path() {
		t.Errorf("expected kept path %s, got %s", w.Path(), kept)
	}
	if _, err := os.Stat(w.Path()); err != nil {
		t.Errorf("expected work area to remain: %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	w, _ := workarea.AcquireIn(t.TempDir(), "")

	if _, err := w.Release(true); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	// A later cleanup from a signal handler must not delete a kept area
	if _, err := w.Release(false); err != nil {
		t.Fatalf("second release failed: %v", err)
	}
	if _, err := os.Stat(w.Path()); err != nil {
		t.Error("expected kept work area to survive a second release")
	}
}
