package archon

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/sdss/archond/asyncbufio"
	"github.com/sdss/archond/internal/unboundedchan"
)

// DefaultPort is the Archon controller's default TCP port.
const DefaultPort = 4242

const fetchChunkSize = 1 << 16

// Controller is one persistent TCP connection to an Archon controller: it
// owns command correlation, timeouts, and status-change fan-out. All field
// access from outside the read/write goroutines happens through its public
// methods, which re-enter the controller's own locks; nothing reaches in
// and touches conn, pending, or status directly.
type Controller struct {
	Desc ControllerDescriptor

	mu       sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	writer   *asyncbufio.Writer
	ids      *IDPool
	pending  map[byte]*PendingCommand
	status   ControllerStatus
	lastExpo int64
	connected bool

	subsMu sync.Mutex
	subs   []*unboundedchan.CoalescingChan[StatusSnapshot]

	// OpLock serialises the exposure-engine-visible operations (expose,
	// readout, fetch, flush, write_config) on this controller. STATUS,
	// SYSTEM, and FRAME polls bypass it.
	OpLock sync.Mutex

	HandshakeTimeout time.Duration
	DefaultTimeout   time.Duration
}

// NewController creates a client for desc. The socket is not opened until
// Connect is called.
func NewController(desc ControllerDescriptor) *Controller {
	return &Controller{
		Desc:             desc,
		ids:              NewIDPool(),
		pending:          make(map[byte]*PendingCommand),
		status:           Unknown,
		HandshakeTimeout: 5 * time.Second,
		DefaultTimeout:   10 * time.Second,
	}
}

// Connect opens the socket with a bounded handshake timeout, starts the
// reader and writer goroutines, sends a reset, and sets status to
// IDLE|POWERON (or POWERBAD, if a power check says so).
func (c *Controller) Connect(checkPower func(*Controller) (bool, error)) error {
	addr := fmt.Sprintf("%s:%d", c.Desc.Host, c.Desc.Port)
	conn, err := net.DialTimeout("tcp", addr, c.HandshakeTimeout)
	if err != nil {
		return &ConnectFailedError{Controller: c.Desc.Name, Reason: err.Error()}
	}

	c.mu.Lock()
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 1<<20)
	c.writer = asyncbufio.NewWriter(conn, 64, 50*time.Millisecond)
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	if _, err := c.sendSync("RESET", c.HandshakeTimeout); err != nil {
		c.Close()
		return &ConnectFailedError{Controller: c.Desc.Name, Reason: err.Error()}
	}

	powerOK := true
	if checkPower != nil {
		powerOK, err = checkPower(c)
		if err != nil {
			powerOK = false
		}
	}
	if powerOK {
		c.setStatus(Idle|PowerOn, true)
	} else {
		c.setStatus(PowerBad, true)
	}
	return nil
}

// Close tears down the socket. Every outstanding pending command resolves
// as DISCONNECTED, and status becomes UNKNOWN|ERROR.
func (c *Controller) Close() {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	pendingCopy := make([]*PendingCommand, 0, len(c.pending))
	for _, p := range c.pending {
		pendingCopy = append(pendingCopy, p)
	}
	c.pending = make(map[byte]*PendingCommand)
	c.mu.Unlock()

	for _, p := range pendingCopy {
		p.finish(DisconnectedState, &DisconnectedError{Controller: c.Desc.Name})
	}
	c.ids.Reset()
	if conn != nil {
		conn.Close()
	}
	if c.writer != nil {
		if dropped := c.writer.Dropped(); dropped > 0 {
			log.Printf("archon: %s: %d command frame(s) dropped by write queue over connection lifetime", c.Desc.Name, dropped)
		}
		c.writer.Close()
	}
	c.setStatus(Unknown|ErrorBit, true)
}

// Connected reports whether the socket is currently believed open.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send issues command and returns a future resolving on reply, timeout, or
// disconnect. If unique is true and an identical command text is already
// in flight, Send fails fast without touching the wire.
func (c *Controller) Send(command string, timeout time.Duration, unique bool) (*ReplyFuture, error) {
	if timeout <= 0 {
		timeout = c.DefaultTimeout
	}
	if unique {
		c.mu.Lock()
		for _, p := range c.pending {
			if p.Text == command {
				c.mu.Unlock()
				return nil, fmt.Errorf("archon: command %q already in flight", command)
			}
		}
		c.mu.Unlock()
	}

	id, err := c.ids.Reserve()
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	cmd := newPendingCommand(id, command, deadline)

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.ids.Release(id)
		return nil, &DisconnectedError{Controller: c.Desc.Name}
	}
	c.pending[id] = cmd
	c.mu.Unlock()

	c.writer.Write(EncodeCommand(id, command))
	c.writer.Flush()

	time.AfterFunc(timeout, func() { c.expireCommand(id, cmd) })

	return &ReplyFuture{cmd: cmd}, nil
}

// sendSync is Send followed by an immediate Wait, for internal handshake
// use where the caller cannot be asynchronous.
func (c *Controller) sendSync(command string, timeout time.Duration) ([]string, error) {
	fut, err := c.Send(command, timeout, false)
	if err != nil {
		return nil, err
	}
	return fut.Wait()
}

// expireCommand fires from the per-command timer armed in Send/StreamFetch.
// cmd is the exact *PendingCommand the timer was armed for: ids are released
// back to the pool as soon as a command completes and can be reserved again
// immediately, so by the time a stale timer fires c.pending[id] may already
// hold a different, unrelated command. Comparing pointer identity (not just
// presence) under the lock is what keeps a late timer from force-finishing
// a command that never actually timed out.
func (c *Controller) expireCommand(id byte, cmd *PendingCommand) {
	c.mu.Lock()
	if c.pending[id] != cmd {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.mu.Unlock()
	c.ids.Poison(id)
	cmd.finish(TimedOut, &TimeoutError{Controller: c.Desc.Name, Command: cmd.Text, ID: id})
}

// StreamFetch issues a FETCH for the given buffer, whose declared length in
// bytes is supplied by the caller (from the most recent BufferDescriptor).
// It returns a channel of byte chunks; the channel is closed when the
// declared length has been fully delivered or the command fails.
func (c *Controller) StreamFetch(bufferIndex int, declaredLen int64, timeout time.Duration) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte, 4)
	errc := make(chan error, 1)

	if timeout <= 0 {
		timeout = c.DefaultTimeout
	}
	id, err := c.ids.Reserve()
	if err != nil {
		errc <- err
		close(chunks)
		return chunks, errc
	}
	deadline := time.Now().Add(timeout)
	cmd := newPendingCommand(id, fmt.Sprintf("FETCH%d", bufferIndex), deadline)
	cmd.BinaryLen = declaredLen
	cmd.Streaming = true
	cmd.Chunks = chunks

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		c.ids.Release(id)
		errc <- &DisconnectedError{Controller: c.Desc.Name}
		close(chunks)
		return chunks, errc
	}
	c.pending[id] = cmd
	c.mu.Unlock()

	c.writer.Write(EncodeCommand(id, fmt.Sprintf("FETCH%d", bufferIndex)))
	c.writer.Flush()
	time.AfterFunc(timeout, func() { c.expireCommand(id, cmd) })

	go func() {
		<-cmd.done
		if cmd.Err != nil {
			errc <- cmd.Err
		}
		close(chunks)
	}()

	return chunks, errc
}

// SubscribeStatus returns a channel that yields a snapshot each time the
// status bitmask changes, coalescing so a slow consumer never stalls the
// producer: only the latest value since the subscriber last read survives.
// The first value delivered is the controller's current status.
func (c *Controller) SubscribeStatus() <-chan StatusSnapshot {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	cc := unboundedchan.NewCoalescingChan(snap)
	c.subsMu.Lock()
	c.subs = append(c.subs, cc)
	c.subsMu.Unlock()
	return cc.Out()
}

func (c *Controller) snapshotLocked() StatusSnapshot {
	return StatusSnapshot{
		Status:         c.status,
		StatusNames:    c.status.Names(),
		LastExposureNo: c.lastExpo,
	}
}

// Status returns the current bitmask without subscribing.
func (c *Controller) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetLastExposureNo records the exposure number associated with the
// controller's current in-flight or most recent exposure, reported in
// status snapshots.
func (c *Controller) SetLastExposureNo(n int64) {
	c.mu.Lock()
	c.lastExpo = n
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.fanOut(snap)
}

// setStatus applies a bit delta and fans the resulting snapshot out to
// subscribers, unless the bitmask is unchanged (identical re-sets elided).
func (c *Controller) setStatus(bits ControllerStatus, on bool) {
	c.mu.Lock()
	next := c.status.Update(bits, on)
	changed := next != c.status
	c.status = next
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.fanOut(snap)
	}
}

func (c *Controller) fanOut(snap StatusSnapshot) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, sub := range c.subs {
		sub.In() <- snap
	}
}

// readLoop is the single reader goroutine: it owns the socket's read side
// and never touches pending/status except through the mutex.
func (c *Controller) readLoop() {
	for {
		lead, err := c.reader.Peek(1)
		if err != nil {
			c.onDisconnect()
			return
		}
		switch lead[0] {
		case '<', '?':
			if err := c.readOneFrame(); err != nil {
				c.onDisconnect()
				return
			}
		default:
			// Unknown lead byte on an otherwise-synchronised stream;
			// drop one byte and resynchronise rather than hanging.
			c.reader.Discard(1)
		}
	}
}

func (c *Controller) readOneFrame() error {
	head := make([]byte, 3)
	if _, err := readFull(c.reader, head); err != nil {
		return err
	}
	id, err := decodeHex(head[1:3])
	if err != nil {
		log.Printf("archon: %s: %v", c.Desc.Name, err)
		return nil
	}

	c.mu.Lock()
	cmd, known := c.pending[id]
	c.mu.Unlock()

	if head[0] == '?' {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return err
		}
		if !known {
			c.ids.Unpoison(id)
			log.Printf("archon: %s: NAK for unknown id %02X, dropped", c.Desc.Name, id)
			return nil
		}
		log.Printf("archon: %s: NAK detail:\n%s", c.Desc.Name, spew.Sdump(cmd))
		c.completeCommand(id, cmd, Failed, &CommandFailedError{Controller: c.Desc.Name, Command: cmd.Text, ID: id}, line)
		return nil
	}

	// Ack. Either a binary FETCH payload of known declared length, or a
	// single text line.
	if known && cmd.BinaryLen > 0 {
		return c.readBinaryPayload(id, cmd)
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return err
	}
	if !known {
		c.ids.Unpoison(id)
		log.Printf("archon: %s: ACK for unknown id %02X, dropped", c.Desc.Name, id)
		return nil
	}
	c.completeCommand(id, cmd, Done, nil, line)
	return nil
}

func (c *Controller) readBinaryPayload(id byte, cmd *PendingCommand) error {
	remaining := cmd.BinaryLen
	if !cmd.Streaming {
		buf := make([]byte, remaining)
		if _, err := readFull(c.reader, buf); err != nil {
			return err
		}
		c.completeBinary(id, cmd, buf, nil)
		return nil
	}

	for remaining > 0 {
		n := int64(fetchChunkSize)
		if remaining < n {
			n = remaining
		}
		chunk := make([]byte, n)
		if _, err := readFull(c.reader, chunk); err != nil {
			c.completeBinary(id, cmd, nil, err)
			return err
		}
		cmd.Chunks <- chunk
		remaining -= n
	}
	c.completeBinary(id, cmd, nil, nil)
	return nil
}

func (c *Controller) completeCommand(id byte, cmd *PendingCommand, state CommandState, err error, line string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	c.ids.Release(id)
	trimmed := trimCRLF(line)
	if trimmed != "" {
		cmd.Lines = append(cmd.Lines, trimmed)
	}
	cmd.finish(state, err)
}

func (c *Controller) completeBinary(id byte, cmd *PendingCommand, payload []byte, err error) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	c.ids.Release(id)
	if err != nil {
		cmd.finish(Failed, &FetchError{Controller: c.Desc.Name, Reason: err.Error()})
		return
	}
	if !cmd.Streaming {
		cmd.BinaryPayload = payload
	}
	cmd.finish(Done, nil)
}

func (c *Controller) onDisconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	pendingCopy := make([]*PendingCommand, 0, len(c.pending))
	for _, p := range c.pending {
		pendingCopy = append(pendingCopy, p)
	}
	c.pending = make(map[byte]*PendingCommand)
	c.mu.Unlock()

	for _, p := range pendingCopy {
		if p.Streaming && p.Chunks != nil {
			p.Err = &DisconnectedError{Controller: c.Desc.Name}
			close(p.done)
			continue
		}
		p.finish(DisconnectedState, &DisconnectedError{Controller: c.Desc.Name})
	}
	c.ids.Reset()
	c.setStatus(Unknown|ErrorBit, true)
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func trimCRLF(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
