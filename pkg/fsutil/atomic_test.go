package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}
	if mode := FileMode(path, 0); mode != 0o600 {
		t.Errorf("mode = %o, want 600", mode)
	}
}

func TestWriteFileAtomicRenameFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}

	renameFile = func(string, string) error { return errors.New("killed") }
	defer func() { renameFile = os.Rename }()

	if err := WriteFileAtomic(path, []byte("torn"), 0o644); err == nil {
		t.Fatal("expected error when rename fails")
	}

	got, _ := os.ReadFile(path)
	if string(got) != "previous" {
		t.Errorf("content = %q, want previous content", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %d entries in dir", len(entries))
	}
}

func TestFileModeFallback(t *testing.T) {
	if mode := FileMode(filepath.Join(t.TempDir(), "missing"), 0o640); mode != 0o640 {
		t.Errorf("FileMode() = %o, want fallback 640", mode)
	}
}

func TestChecksum(t *testing.T) {
	if Checksum([]byte("a")) == Checksum([]byte("b")) {
		t.Error("different inputs produced the same checksum")
	}
	if Checksum([]byte("a")) != Checksum([]byte("a")) {
		t.Error("checksum is not stable")
	}
}
