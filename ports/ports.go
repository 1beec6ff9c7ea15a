// Package ports holds the narrow interfaces the exposure orchestrator is
// built against: the reply sink, the FITS writer, the clock, the
// environmental-sensor reader, and the exposure-counter store. Each has a
// default concrete implementation elsewhere in the module (statusbus,
// fitsio, orchestrator), but the orchestrator itself only ever sees these
// interfaces, so it can be exercised in tests against in-memory fakes.
package ports

import (
	"time"

	"github.com/sdss/archond/archon"
)

// ReplySink publishes structured key/value events to operators. Every
// event carries at least a "controller" key; the concrete wire format is
// the sink's business, not the core's.
type ReplySink interface {
	// Publish emits one event under the given well-known key (e.g.
	// "status", "frame", "error", "filenames"); value is marshaled by the
	// sink implementation.
	Publish(key string, value any)
}

// Header is the ordered set of FITS header cards attached to one HDU.
type Header struct {
	Cards []HeaderCard
}

// HeaderCard is a single FITS header keyword/value/comment triple.
type HeaderCard struct {
	Keyword string
	Value   any
	Comment string
}

// Add appends a card to the header.
func (h *Header) Add(keyword string, value any, comment string) {
	h.Cards = append(h.Cards, HeaderCard{Keyword: keyword, Value: value, Comment: comment})
}

// Frame is the persistable pair a FITSWriter receives: a 2-D pixel array
// (either 16- or 32-bit) plus its header.
type Frame struct {
	Width, Height int
	BitsPerPixel  int
	Pix16         []uint16
	Pix32         []uint32
	Header        Header
}

// FITSWriter persists a frame + header pair to path. Implementations are
// responsible for atomicity (temp file + rename); the orchestrator brackets
// the call with lockfile create/remove.
type FITSWriter interface {
	Write(path string, frame Frame) error
}

// Clock is time as seen by the orchestrator, injected so tests can control
// timestamps embedded in headers and exposure records.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock, backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// EnvReading is one environmental sample (temperature, pressure, humidity,
// etc.) attached to an exposure's header.
type EnvReading struct {
	Name  string
	Value float64
	Unit  string
}

// EnvSensor reads ambient sensor data at the time an exposure's readout
// completes, for inclusion in the default header.
type EnvSensor interface {
	Read() ([]EnvReading, error)
}

// ExposureCounterStore persists the monotonic exposure sequence number
// across daemon restarts. Allocation is split into Peek and Advance so a
// caller can look at the number an exposure would use before committing
// to it, and only persist the advance once that exposure has actually
// started: a failed or aborted attempt must leave the counter untouched
// so the same number is retried next time, rather than being burned.
type ExposureCounterStore interface {
	// Peek returns the exposure number the next Advance call would
	// persist, without writing anything.
	Peek() (int64, error)
	// Advance persists n as the last-allocated exposure number. Callers
	// must only call this after the exposure numbered n has successfully
	// started; Advance is a no-op if n does not exceed the currently
	// persisted value.
	Advance(n int64) error
	// Current returns the last-allocated exposure number without
	// advancing it.
	Current() (int64, error)
}

// ExposureArchive optionally records completed exposures for analytics,
// independent of the FITS files themselves. A nil-safe no-op archive is
// used when no backing store is configured.
type ExposureArchive interface {
	RecordExposure(summary ExposureSummary)
}

// ExposureSummary is the row an ExposureArchive stores per (controller,
// exposure) pair.
type ExposureSummary struct {
	ExposureNo   int64
	Controller   string
	Detector     string
	Filename     string
	IntegrationS float64
	Start        time.Time
	End          time.Time
	Success      bool
	ErrorMessage string
}

// DetectorGeometry bundles a Detector with the controller-level Geometry it
// was cropped from, for header computation.
type DetectorGeometry struct {
	Detector archon.Detector
	Geometry archon.Geometry
}
