// Package lockfile implements the sidecar recovery mechanism described in
// spec.md section 6: a lock file is created next to an intended FITS
// output path the moment the raw buffer is in client memory, and removed
// only after the file has been renamed into place. It embeds the frame
// payload and header so a crash-interrupted write can be resumed without
// any live controller state, per spec.md's "Lock file format".
package lockfile

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sdss/archond/getbytes"
	"github.com/sdss/archond/ports"
)

// Suffix is appended to a FITS output path to name its lock file.
const Suffix = ".lock"

// Lock is the self-describing sidecar record: everything needed to
// reconstruct the intended FITS file without re-contacting the controller.
type Lock struct {
	ExposureNo   int64             `json:"exposure_no"`
	Controller   string            `json:"controller"`
	Detector     string            `json:"detector"`
	Path         string            `json:"path"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	BitsPerPixel int               `json:"bits_per_pixel"`
	Pix16        string            `json:"pix16,omitempty"` // base64 of []uint16, little-endian
	Pix32        string            `json:"pix32,omitempty"` // base64 of []uint32, little-endian
	Header       []ports.HeaderCard `json:"header"`
	CreatedAt    time.Time         `json:"created_at"`
}

// PathFor returns the lock file path for a given intended FITS path.
func PathFor(fitsPath string) string {
	return fitsPath + Suffix
}

// Write creates (or overwrites) the lock file for path with frame's
// payload and header, encoding the pixel data as base64 so the whole
// record is a single self-contained JSON document.
func Write(path string, exposureNo int64, controller, detector string, frame ports.Frame) error {
	lock := Lock{
		ExposureNo:   exposureNo,
		Controller:   controller,
		Detector:     detector,
		Path:         path,
		Width:        frame.Width,
		Height:       frame.Height,
		BitsPerPixel: frame.BitsPerPixel,
		Header:       frame.Header.Cards,
		CreatedAt:    time.Now(),
	}
	if frame.BitsPerPixel == 32 {
		lock.Pix32 = base64.StdEncoding.EncodeToString(uint32ToBytes(frame.Pix32))
	} else {
		lock.Pix16 = base64.StdEncoding.EncodeToString(uint16ToBytes(frame.Pix16))
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("lockfile: marshal: %w", err)
	}
	lockPath := PathFor(path)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0775); err != nil {
		return fmt.Errorf("lockfile: mkdir: %w", err)
	}
	return os.WriteFile(lockPath, data, 0664)
}

// Remove deletes the lock file for path. It is not an error if the lock
// file is already gone.
func Remove(path string) error {
	err := os.Remove(PathFor(path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Read loads and decodes the lock file for path.
func Read(path string) (*Lock, error) {
	data, err := os.ReadFile(PathFor(path))
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("lockfile: unmarshal %s: %w", path, err)
	}
	return &lock, nil
}

// Frame decodes the lock's embedded pixel data back into a ports.Frame
// ready to hand to a FITSWriter.
func (l *Lock) Frame() (ports.Frame, error) {
	frame := ports.Frame{
		Width:        l.Width,
		Height:       l.Height,
		BitsPerPixel: l.BitsPerPixel,
		Header:       ports.Header{Cards: l.Header},
	}
	if l.BitsPerPixel == 32 {
		raw, err := base64.StdEncoding.DecodeString(l.Pix32)
		if err != nil {
			return frame, err
		}
		frame.Pix32 = bytesToUint32(raw)
	} else {
		raw, err := base64.StdEncoding.DecodeString(l.Pix16)
		if err != nil {
			return frame, err
		}
		frame.Pix16 = bytesToUint16(raw)
	}
	return frame, nil
}

// List enumerates every *.lock file directly inside dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == Suffix {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// Pixel arrays round-trip through base64 in native byte order: the same
// process that encodes a lock file is the one that will decode it during
// recovery, so there is no cross-machine wire format to preserve here,
// unlike the Archon FETCH decode in archon/pixels.go. That makes this the
// right place for getbytes' unsafe reinterpretation instead of a
// byte-by-byte shuffle.
func uint16ToBytes(pix []uint16) []byte {
	return getbytes.FromSliceUint16(pix)
}

func bytesToUint16(b []byte) []uint16 {
	return append([]uint16(nil), getbytes.ToSliceUint16(b)...)
}

func uint32ToBytes(pix []uint32) []byte {
	return getbytes.FromSliceUint32(pix)
}

func bytesToUint32(b []byte) []uint32 {
	return append([]uint32(nil), getbytes.ToSliceUint32(b)...)
}
