package lockfile

import (
	"path/filepath"
	"testing"

	"github.com/sdss/archond/ports"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sci-0007.fits")

	frame := ports.Frame{
		Width: 2, Height: 2, BitsPerPixel: 16,
		Pix16: []uint16{1, 2, 3, 4},
	}
	frame.Header.Add("EXPOSURE", 7, "")

	if err := Write(path, 7, "sp1", "b1", frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	lock, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if lock.ExposureNo != 7 || lock.Controller != "sp1" || lock.Path != path {
		t.Fatalf("unexpected lock: %+v", lock)
	}

	got, err := lock.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	for i, v := range got.Pix16 {
		if v != frame.Pix16[i] {
			t.Fatalf("pixel %d = %d, want %d", i, v, frame.Pix16[i])
		}
	}

	if err := Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := Read(path); err == nil {
		t.Fatalf("expected error reading removed lock file")
	}
}

func TestListFindsLockFiles(t *testing.T) {
	dir := t.TempDir()
	frame := ports.Frame{Width: 1, Height: 1, BitsPerPixel: 16, Pix16: []uint16{5}}
	if err := Write(filepath.Join(dir, "a.fits"), 1, "c", "d", frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Write(filepath.Join(dir, "b.fits"), 2, "c", "d", frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d entries, want 2: %v", len(got), got)
	}
}
