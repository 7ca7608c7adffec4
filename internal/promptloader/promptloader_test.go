package promptloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPromptDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pm.md"), []byte("You are the PM."), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	got, err := l.Load("pm.md")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "You are the PM." {
		t.Fatalf("got %q", got)
	}
}

func TestOverrideTakesPrecedence(t *testing.T) {
	promptDir := t.TempDir()
	overrideDir := t.TempDir()
	os.WriteFile(filepath.Join(promptDir, "pm.md"), []byte("default"), 0o644)
	os.WriteFile(filepath.Join(overrideDir, "pm.md"), []byte("customized"), 0o644)

	l, err := New(promptDir, overrideDir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	got, err := l.Load("pm.md")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "customized" {
		t.Fatalf("got %q, want override content", got)
	}
}

func TestMissingFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	got, err := l.Load("missing.md")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestToolNotesAppended(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "pm.md"), []byte("You are the PM."), 0o644)

	l, err := New(dir, "", WithToolNotes("Use tools sparingly."))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	got, err := l.Load("pm.md")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "You are the PM.\n\nUse tools sparingly."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCacheInvalidatesOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pm.md")
	os.WriteFile(path, []byte("v1"), 0o644)

	l, err := New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer l.Close()

	got, _ := l.Load("pm.md")
	if got != "v1" {
		t.Fatalf("got %q want v1", got)
	}

	os.WriteFile(path, []byte("v2"), 0o644)
	// allow the fsnotify watcher goroutine time to observe the write and
	// invalidate the cache entry.
	time.Sleep(200 * time.Millisecond)

	got, _ = l.Load("pm.md")
	if got != "v2" {
		t.Fatalf("got %q want v2 after invalidation", got)
	}
}
