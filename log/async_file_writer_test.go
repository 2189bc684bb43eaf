package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAsyncFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bril.log")
	w := NewAsyncFileWriter(path, 100, 0)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("hello\n"))
	w.Write([]byte("world\n"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(content); got != "hello\nworld\n" {
		t.Fatalf("unexpected file contents: %q", got)
	}
}

func TestAsyncFileWriterRotating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bril.log")
	w := NewAsyncFileWriter(path, 100, 1)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("hello\n"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	// Rotating mode writes to a timestamped file and keeps the configured
	// path as a symlink to it.
	target, err := os.Readlink(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(target), "bril.log.") {
		t.Fatalf("unexpected rotation target %q", target)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(content); got != "hello\n" {
		t.Fatalf("unexpected file contents: %q", got)
	}
}

func TestAsyncFileWriterDoubleStart(t *testing.T) {
	w := NewAsyncFileWriter(filepath.Join(t.TempDir(), "bril.log"), 10, 0)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err == nil {
		t.Fatal("second Start should fail")
	}
	w.Close()
}
