// Package fitsio is the default FITS writer: a minimal single-HDU writer
// (80-byte header cards padded to 2880-byte blocks, big-endian pixel data)
// built entirely on the standard library, since no FITS or
// astropy-equivalent library is available; see DESIGN.md.
package fitsio

import (
	"bufio"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/sdss/archond/ports"
)

const blockSize = 2880
const cardSize = 80

// Writer is the default ports.FITSWriter: it writes to a temp file in the
// same directory as the final path, then renames into place, so a reader
// racing the write only ever sees a complete file or none at all.
type Writer struct{}

// New returns the default FITS writer.
func New() *Writer { return &Writer{} }

// Write persists frame to path via a temp file + rename in path's
// directory. The temp file's name carries a ulid suffix so concurrent
// writers targeting colliding paths (a mis-templated path, or a retried
// write) never clobber each other's temp file before the rename.
func (w *Writer) Write(path string, frame ports.Frame) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return fmt.Errorf("fitsio: mkdir %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), ulid.Make().String()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0664)
	if err != nil {
		return fmt.Errorf("fitsio: create temp file: %w", err)
	}
	bw := bufio.NewWriterSize(f, blockSize*4)
	if err := encode(bw, frame); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fitsio: encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fitsio: flush: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fitsio: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fitsio: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fitsio: rename into place: %w", err)
	}
	return nil
}

func encode(w io.Writer, frame ports.Frame) error {
	bitpix := 16
	if frame.BitsPerPixel == 32 {
		bitpix = 32
	}

	var cards []string
	cards = append(cards, card("SIMPLE", true, "conforms to FITS standard"))
	cards = append(cards, card("BITPIX", bitpix, "bits per data value"))
	cards = append(cards, card("NAXIS", 2, "number of data axes"))
	cards = append(cards, card("NAXIS1", frame.Width, "length of data axis 1"))
	cards = append(cards, card("NAXIS2", frame.Height, "length of data axis 2"))
	// Both 16- and 32-bit Archon pixel data is unsigned; FITS has no
	// unsigned integer BITPIX, so it is stored as signed with the
	// standard BZERO offset trick.
	if bitpix == 16 {
		cards = append(cards, card("BZERO", 32768, "offset for unsigned 16-bit integers"))
	} else {
		cards = append(cards, card("BZERO", 2147483648, "offset for unsigned 32-bit integers"))
	}
	cards = append(cards, card("BSCALE", 1, "data scaling"))
	for _, c := range frame.Header.Cards {
		cards = append(cards, card(c.Keyword, c.Value, c.Comment))
	}
	cards = append(cards, "END"+strings.Repeat(" ", cardSize-3))

	if err := writeHeaderBlocks(w, cards); err != nil {
		return err
	}
	return writeData(w, frame, bitpix)
}

func writeHeaderBlocks(w io.Writer, cards []string) error {
	var buf strings.Builder
	for _, c := range cards {
		buf.WriteString(c)
	}
	rem := buf.Len() % blockSize
	if rem != 0 {
		buf.WriteString(strings.Repeat(" ", blockSize-rem))
	}
	_, err := io.WriteString(w, buf.String())
	return err
}

func card(keyword string, value any, comment string) string {
	var valStr string
	switch v := value.(type) {
	case bool:
		if v {
			valStr = "T"
		} else {
			valStr = "F"
		}
		valStr = fmt.Sprintf("%20s", valStr)
	case string:
		valStr = fmt.Sprintf("'%-8s'", v)
	case int:
		valStr = fmt.Sprintf("%20d", v)
	case int64:
		valStr = fmt.Sprintf("%20d", v)
	case float64:
		valStr = fmt.Sprintf("%20g", v)
	default:
		valStr = fmt.Sprintf("%20v", v)
	}
	line := fmt.Sprintf("%-8s= %s", strings.ToUpper(keyword), valStr)
	if comment != "" {
		line += " / " + comment
	}
	if len(line) > cardSize {
		line = line[:cardSize]
	}
	return fmt.Sprintf("%-80s", line)
}

func writeData(w io.Writer, frame ports.Frame, bitpix int) error {
	n := frame.Width * frame.Height
	var raw []byte
	if bitpix == 16 {
		raw = make([]byte, n*2)
		for i := 0; i < n && i < len(frame.Pix16); i++ {
			// Store as signed (value - 32768) per the BZERO convention above.
			signed := int16(int32(frame.Pix16[i]) - 32768)
			binary.BigEndian.PutUint16(raw[i*2:], uint16(signed))
		}
	} else {
		raw = make([]byte, n*4)
		for i := 0; i < n && i < len(frame.Pix32); i++ {
			signed := int32(int64(frame.Pix32[i]) - 2147483648)
			binary.BigEndian.PutUint32(raw[i*4:], uint32(signed))
		}
	}
	rem := len(raw) % blockSize
	if rem != 0 {
		raw = append(raw, make([]byte, blockSize-rem)...)
	}
	_, err := w.Write(raw)
	return err
}

// ChecksumMode selects the digest algorithm for AppendChecksum.
type ChecksumMode int

const (
	MD5 ChecksumMode = iota
	SHA1
)

// AppendChecksum computes path's digest and appends a "digest  filename"
// line to the shared daily checksum file, matching the original
// implementation's _generate_checksum sidecar convention.
func AppendChecksum(checksumFile, path string, mode ChecksumMode) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var sum string
	switch mode {
	case SHA1:
		h := sha1.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		sum = hex.EncodeToString(h.Sum(nil))
	default:
		h := md5.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		sum = hex.EncodeToString(h.Sum(nil))
	}

	out, err := os.OpenFile(checksumFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = fmt.Fprintf(out, "%s  %s\n", sum, filepath.Base(path))
	return err
}
