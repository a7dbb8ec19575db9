package cache

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestNoCacheManagerCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.log")

	m := NewNoCacheManager()
	h, err := m.Open(path, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to be created: %v", err)
	}
}

func TestNoCacheManagerReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.log")

	m := NewNoCacheManager()
	h, err := m.Open(path, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	want := []byte("hello, caskdb")
	if _, err := h.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if off := h.Offset(); off != int64(len(want)) {
		t.Fatalf("Offset after write = %d, want %d", off, len(want))
	}

	if _, err := h.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, len(want))
	if _, err := h.Read(got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNoCacheManagerFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1.log")

	m := NewNoCacheManager()
	h, err := m.Open(path, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if _, err := h.Write([]byte("durable")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := h.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}
