package fitsio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sdss/archond/ports"
)

func TestWriteProducesBlockAlignedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sci-0001.fits")

	frame := ports.Frame{
		Width: 4, Height: 4, BitsPerPixel: 16,
		Pix16: make([]uint16, 16),
	}
	frame.Header.Add("EXPOSURE", 1, "exposure number")

	w := New()
	if err := w.Write(path, frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 || len(data)%blockSize != 0 {
		t.Fatalf("file size %d is not a multiple of %d", len(data), blockSize)
	}
	if string(data[:6]) != "SIMPLE" {
		t.Fatalf("file does not start with SIMPLE card: %q", data[:80])
	}
}

func TestWriteLeavesNoTempFileOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sci-0002.fits")
	frame := ports.Frame{Width: 2, Height: 2, BitsPerPixel: 16, Pix16: make([]uint16, 4)}

	if err := New().Write(path, frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly the final file, got %v", entries)
	}
}
