package archon

import (
	"fmt"
	"strings"
	"time"
)

// NumBuffers is the number of on-controller frame buffer slots Archon
// firmware exposes (typically 3).
const NumBuffers = 3

// Engine drives the per-controller exposure lifecycle described by the
// state machine the firmware itself does not expose: expose, abort,
// readout, fetch, flush. It owns no socket of its own; every operation is
// issued through the wrapped Controller, and Controller.OpLock guarantees
// that at most one of {expose, readout, fetch, flush, write_config} is in
// flight on a given controller at a time.
type Engine struct {
	Controller *Controller
	ACF        *ACF

	PollInterval time.Duration

	// ReadoutMax bounds how long awaitIntegration will keep polling FRAME
	// for the write buffer to report complete once autoRead has carried
	// status into READING. It plays the same role here as the maxWait
	// argument callers pass to Readout for the non-auto-read path.
	ReadoutMax time.Duration

	startFrame int64
	errored    bool
}

// NewEngine builds an exposure engine over an already-connected controller
// and its currently loaded ACF.
func NewEngine(c *Controller, acf *ACF) *Engine {
	return &Engine{
		Controller:   c,
		ACF:          acf,
		PollInterval: time.Second,
		ReadoutMax:   60 * time.Second,
	}
}

// SetParam resolves name to its ACF slot and pokes the new value with
// WCONFIGnnnn followed by FASTLOADPARAM, matching write_line's "locate the
// slot, then activate without a full reload" sequence.
func (e *Engine) SetParam(name string, value int) error {
	slot, err := e.ACF.ParamSlot(name)
	if err != nil {
		return err
	}
	if err := e.ACF.SetParamValue(name, fmt.Sprintf("%d", value)); err != nil {
		return err
	}
	line, err := e.wconfigLine(slot, name)
	if err != nil {
		return err
	}
	if err := e.mustSucceed(line, e.Controller.DefaultTimeout); err != nil {
		return &ConfigError{Controller: e.Controller.Desc.Name, Reason: err.Error()}
	}
	cmd := fmt.Sprintf("FASTLOADPARAM %s %d", name, value)
	if err := e.mustSucceed(cmd, e.Controller.DefaultTimeout); err != nil {
		return &ConfigError{Controller: e.Controller.Desc.Name, Reason: err.Error()}
	}
	return nil
}

func (e *Engine) wconfigLine(slot int, name string) (string, error) {
	value, err := e.ACF.ParamValue(name)
	if err != nil {
		return "", err
	}
	if _, ok := e.ACF.paramName[strings.ToUpper(name)]; !ok {
		return "", &ConfigError{Reason: fmt.Sprintf("parameter %q not found in ACF", name)}
	}
	return fmt.Sprintf("WCONFIG%04X%s=%s", slot, name, value), nil
}

func (e *Engine) mustSucceed(cmd string, timeout time.Duration) error {
	fut, err := e.Controller.Send(cmd, timeout, false)
	if err != nil {
		return err
	}
	_, err = fut.Wait()
	return err
}

// Expose requires IDLE. It disables auto-flush, records the controller's
// current frame number as the exposure's starting point, sets IntMS and
// Exposures, and raises EXPOSING|READOUT_PENDING. The returned channel is
// closed once integration completes (and, if autoRead, once the firmware
// reports the write buffer has begun filling and status has advanced to
// READING).
func (e *Engine) Expose(centiseconds int64, autoRead bool) (<-chan error, error) {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	if e.errored {
		return nil, &InvalidStateError{Controller: e.Controller.Desc.Name, Operation: "expose", Status: e.Controller.Status()}
	}
	status := e.Controller.Status()
	if !status.Has(Idle) || status.Has(ReadoutPending) {
		return nil, &InvalidStateError{Controller: e.Controller.Desc.Name, Operation: "expose", Status: status}
	}

	if err := e.SetParam("AutoFlush", 0); err != nil {
		// Not every ACF carries AutoFlush as a named parameter; ignore
		// ConfigError here and fall through, matching the original's
		// best-effort autoflush toggling.
		if _, ok := err.(*ConfigError); !ok {
			return nil, err
		}
	}

	frame, err := e.pollFrame()
	if err != nil {
		return nil, err
	}
	best, _ := SelectFetchBuffer(frame.Buffers)
	e.startFrame = best.FrameNo

	readFlag := 0
	if autoRead {
		readFlag = 1
	}
	if err := e.SetParam("ReadOut", readFlag); err != nil {
		return nil, err
	}
	if err := e.SetParam("IntMS", int(centiseconds)); err != nil {
		return nil, err
	}
	if err := e.SetParam("Exposures", 1); err != nil {
		return nil, err
	}

	e.Controller.setStatus(Exposing|ReadoutPending, true)

	done := make(chan error, 1)
	go e.awaitIntegration(centiseconds, autoRead, done)
	return done, nil
}

func (e *Engine) awaitIntegration(centiseconds int64, autoRead bool, done chan<- error) {
	time.Sleep(time.Duration(centiseconds) * 10 * time.Millisecond)

	if !e.Controller.Status().Has(Exposing) {
		// Aborted while we were sleeping.
		done <- nil
		return
	}
	if !autoRead {
		e.Controller.setStatus(ReadoutPending, false)
		e.Controller.setStatus(Idle, true)
		done <- nil
		return
	}

	frame, err := e.pollFrame()
	if err != nil {
		done <- err
		return
	}
	_, ok := SelectFetchBuffer(frame.Buffers)
	if !ok {
		done <- &FetchError{Controller: e.Controller.Desc.Name, Reason: "no complete buffer after integration"}
		return
	}
	e.Controller.setStatus(Exposing|ReadoutPending, false)
	e.Controller.setStatus(Reading, true)

	// The firmware is now filling the write buffer on its own; keep
	// polling FRAME (the background poller spec.md §4.4 describes) until
	// the hardware frame counter increments past startFrame with that
	// buffer marked complete, then flip READING to FETCH_PENDING so
	// Fetch can run. This mirrors the loop Readout runs for the
	// non-auto-read path.
	deadline := time.Now().Add(e.readoutMaxOrDefault())
	for {
		frame, err := e.pollFrame()
		if err != nil {
			done <- err
			return
		}
		best, ok := SelectFetchBuffer(frame.Buffers)
		if ok && best.FrameNo > e.startFrame {
			e.Controller.setStatus(Reading, false)
			e.Controller.setStatus(FetchPending, true)
			done <- nil
			return
		}
		if time.Now().After(deadline) {
			e.markErrored()
			done <- fmt.Errorf("archon: %s: timed out waiting for FETCH_PENDING", e.Controller.Desc.Name)
			return
		}
		time.Sleep(e.pollOrDefault())
	}
}

// Abort is valid only while EXPOSING. It pokes AbortExposure and clears
// READOUT_PENDING, returning the controller to IDLE.
func (e *Engine) Abort() error {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	if !e.Controller.Status().Has(Exposing) {
		return &InvalidStateError{Controller: e.Controller.Desc.Name, Operation: "abort", Status: e.Controller.Status()}
	}
	if err := e.SetParam("AbortExposure", 1); err != nil {
		return err
	}
	e.Controller.setStatus(ReadoutPending, false)
	e.Controller.setStatus(Exposing, false)
	e.Controller.setStatus(Idle, true)
	return nil
}

// Readout is valid only while READOUT_PENDING. It pokes ReadOut and moves
// status to READING, then blocks until the polled FRAME reply reports the
// write buffer complete.
func (e *Engine) Readout(maxWait time.Duration) error {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	if !e.Controller.Status().Has(ReadoutPending) {
		return &InvalidStateError{Controller: e.Controller.Desc.Name, Operation: "readout", Status: e.Controller.Status()}
	}
	if err := e.SetParam("ReadOut", 1); err != nil {
		return err
	}
	e.Controller.setStatus(ReadoutPending, false)
	if !e.Controller.Status().Has(Reading) {
		e.Controller.setStatus(Reading, true)
	}

	deadline := time.Now().Add(maxWait)
	for {
		frame, err := e.pollFrame()
		if err != nil {
			return err
		}
		best, ok := SelectFetchBuffer(frame.Buffers)
		if ok && best.FrameNo > e.startFrame {
			e.Controller.setStatus(Reading, false)
			e.Controller.setStatus(FetchPending, true)
			return nil
		}
		if time.Now().After(deadline) {
			e.markErrored()
			return fmt.Errorf("archon: %s: timed out waiting for readout", e.Controller.Desc.Name)
		}
		time.Sleep(e.pollOrDefault())
	}
}

// Fetch is valid while FETCH_PENDING, or with an explicit buffer index
// override. It selects the buffer with the greatest complete frame number
// (unless bufferIndex > 0 pins a specific one), streams exactly
// pixels*lines*(bitwidth/8) bytes, and reshapes into row-major pixel data.
// A length mismatch between the declared buffer size and the bytes
// actually received is reported as FetchError.
func (e *Engine) Fetch(bufferIndex int, geom Geometry, timeout time.Duration) (*Frame16, *Frame32, BufferDescriptor, error) {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	status := e.Controller.Status()
	if !status.Has(FetchPending) && bufferIndex <= 0 {
		return nil, nil, BufferDescriptor{}, &InvalidStateError{Controller: e.Controller.Desc.Name, Operation: "fetch", Status: status}
	}

	info, err := e.pollFrame()
	if err != nil {
		return nil, nil, BufferDescriptor{}, err
	}

	var buf BufferDescriptor
	if bufferIndex > 0 {
		if bufferIndex > len(info.Buffers) {
			return nil, nil, BufferDescriptor{}, &FetchError{Controller: e.Controller.Desc.Name, Reason: "buffer index out of range"}
		}
		buf = info.Buffers[bufferIndex-1]
		if !buf.Complete {
			return nil, nil, BufferDescriptor{}, &FetchError{Controller: e.Controller.Desc.Name, Reason: "requested buffer is not complete"}
		}
	} else {
		var ok bool
		buf, ok = SelectFetchBuffer(info.Buffers)
		if !ok {
			return nil, nil, BufferDescriptor{}, &FetchError{Controller: e.Controller.Desc.Name, Reason: "no complete buffer to fetch"}
		}
	}

	e.Controller.setStatus(FetchPending, false)
	e.Controller.setStatus(Fetching, true)
	defer func() {
		e.Controller.setStatus(Fetching, false)
		e.Controller.setStatus(Idle, true)
	}()

	bitsPerPix := buf.BitsPerPix
	if bitsPerPix == 0 {
		bitsPerPix = 16
	}
	declared := geom.BufferBytes(bitsPerPix)

	chunks, errc := e.Controller.StreamFetch(buf.Index, declared, timeout)
	raw := make([]byte, 0, declared)
	for chunk := range chunks {
		raw = append(raw, chunk...)
	}
	if err := <-errc; err != nil {
		return nil, nil, BufferDescriptor{}, err
	}
	if int64(len(raw)) != declared {
		return nil, nil, BufferDescriptor{}, &FetchError{
			Controller: e.Controller.Desc.Name,
			Reason:     fmt.Sprintf("FETCH_MISMATCH: got %d bytes, want %d", len(raw), declared),
		}
	}

	if bitsPerPix == 32 {
		f32 := decodeFrame32(raw, geom.Pixels, geom.Lines)
		return nil, f32, buf, nil
	}
	f16 := decodeFrame16(raw, geom.Pixels, geom.Lines)
	return f16, nil, buf, nil
}

// Flush is valid only while IDLE. It sets FlushCount, asserts DoFlush, and
// blocks (status FLUSHING) until count flush cycles have elapsed.
func (e *Engine) Flush(count int, cycleTime time.Duration) error {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()

	if !e.Controller.Status().Has(Idle) {
		return &InvalidStateError{Controller: e.Controller.Desc.Name, Operation: "flush", Status: e.Controller.Status()}
	}
	if err := e.SetParam("FlushCount", count); err != nil {
		return err
	}
	e.Controller.setStatus(Flushing, true)
	if err := e.SetParam("DoFlush", 1); err != nil {
		e.Controller.setStatus(Flushing, false)
		e.Controller.setStatus(Idle, true)
		return err
	}
	time.Sleep(cycleTime * time.Duration(count))
	e.Controller.setStatus(Flushing, false)
	e.Controller.setStatus(Idle, true)
	return nil
}

// Reset clears the ERROR bit recorded by a failed expose-path command,
// allowing exposures to resume. It does not touch the controller's wire
// state: callers that also want a hardware RESET should call
// Controller.Send("RESET", ...) separately.
func (e *Engine) Reset() {
	e.Controller.OpLock.Lock()
	defer e.Controller.OpLock.Unlock()
	e.clearErrored()
	e.Controller.setStatus(Idle, true)
}

// markErrored records that an expose-path command NAKed or timed out: the
// engine refuses further exposures (Expose checks e.errored) until
// clearErrored or Reset runs.
func (e *Engine) markErrored() {
	e.errored = true
	e.Controller.setStatus(ErrorBit, true)
}

// clearErrored lifts the refuse-further-exposures gate without otherwise
// touching status bits, used on a successful config reload (spec.md §8
// scenario 5's "until a successful reload" recovery path) as well as by
// Reset.
func (e *Engine) clearErrored() {
	e.errored = false
	e.Controller.setStatus(ErrorBit, false)
}

func (e *Engine) pollFrame() (FrameInfo, error) {
	fut, err := e.Controller.Send("FRAME", time.Second, false)
	if err != nil {
		return FrameInfo{}, err
	}
	lines, err := fut.Wait()
	if err != nil {
		e.markErrored()
		return FrameInfo{}, err
	}
	if len(lines) == 0 {
		return FrameInfo{}, &ProtocolError{Controller: e.Controller.Desc.Name, Reason: "empty FRAME reply"}
	}
	return ParseFrameReply(lines[0], NumBuffers), nil
}

func (e *Engine) pollOrDefault() time.Duration {
	if e.PollInterval <= 0 {
		return time.Second
	}
	return e.PollInterval
}

func (e *Engine) readoutMaxOrDefault() time.Duration {
	if e.ReadoutMax <= 0 {
		return 60 * time.Second
	}
	return e.ReadoutMax
}
