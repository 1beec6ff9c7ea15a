package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileCounterStore is the default ports.ExposureCounterStore: a plain
// integer in a per-user state file, read at startup and advanced under an
// advisory file lock before each new exposure, built directly on
// syscall.Flock — the same low-level syscall idiom dastard's ringbuffer
// package uses for its shared-memory descriptor file; see DESIGN.md.
type FileCounterStore struct {
	path string
}

// NewFileCounterStore opens (creating if absent) the counter file at
// path, seeded at 0 if newly created.
func NewFileCounterStore(path string) (*FileCounterStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil {
		return nil, fmt.Errorf("orchestrator: mkdir for counter file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0664)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open counter file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() == 0 {
		if _, err := f.WriteString("0"); err != nil {
			f.Close()
			return nil, err
		}
	}
	f.Close()
	return &FileCounterStore{path: path}, nil
}

// Peek returns the current value plus one, the exposure number the next
// Advance call would persist, without writing anything. Repeated calls
// with no intervening Advance return the same number, so a failed or
// aborted exposure attempt can be retried under the same number.
func (s *FileCounterStore) Peek() (int64, error) {
	f, unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	cur, err := readCounter(f)
	if err != nil {
		return 0, err
	}
	return cur + 1, nil
}

// Advance persists n as the last-allocated exposure number, provided n is
// greater than the value currently on disk; otherwise it is a no-op, so a
// stale or repeated Advance for an already-committed number never moves
// the counter backward.
func (s *FileCounterStore) Advance(n int64) error {
	f, unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := readCounter(f)
	if err != nil {
		return err
	}
	if n <= cur {
		return nil
	}
	return writeCounter(f, n)
}

// Current returns the last-allocated exposure number without advancing
// it.
func (s *FileCounterStore) Current() (int64, error) {
	f, unlock, err := s.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	return readCounter(f)
}

func (s *FileCounterStore) lock() (*os.File, func(), error) {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0664)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: open counter file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("orchestrator: flock counter file: %w", err)
	}
	unlock := func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}
	return f, unlock, nil
}

func readCounter(f *os.File) (int64, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	buf := make([]byte, 32)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return 0, nil
	}
	text := strings.TrimSpace(string(buf[:n]))
	if text == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: corrupt counter file: %w", err)
	}
	return v, nil
}

func writeCounter(f *os.File, v int64) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := f.WriteString(strconv.FormatInt(v, 10))
	return err
}
