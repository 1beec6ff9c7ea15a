package archon

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/sdss/archond/asyncbufio"
)

// testLink wires a Controller to the client side of an in-process net.Pipe
// and hands the test the server side to play the part of the firmware:
// read the ">II<text>\n" frames the controller sends and write back
// "<II...\n"/"?II...\n" replies.
type testLink struct {
	ctrl   *Controller
	server net.Conn
	sr     *bufio.Reader
}

func newTestLink(t *testing.T) *testLink {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	c := NewController(ControllerDescriptor{Name: "test"})
	c.conn = client
	c.reader = bufio.NewReaderSize(client, 1<<16)
	c.writer = asyncbufio.NewWriter(client, 64, 5*time.Millisecond)
	c.connected = true
	go c.readLoop()

	return &testLink{ctrl: c, server: server, sr: bufio.NewReader(server)}
}

// recvCommand reads one ">II<text>\n" frame sent by the controller and
// returns the id and text.
func (l *testLink) recvCommand(t *testing.T) (byte, string) {
	t.Helper()
	id, text, err := l.recvCommandErr()
	if err != nil {
		t.Fatalf("recvCommand: %v", err)
	}
	return id, text
}

// recvCommandErr is recvCommand without the t.Fatalf, for use from a
// background goroutine (a test helper must never call FailNow outside the
// test's own goroutine).
func (l *testLink) recvCommandErr() (byte, string, error) {
	line, err := l.sr.ReadString('\n')
	if err != nil {
		return 0, "", err
	}
	if len(line) < 4 || line[0] != '>' {
		return 0, "", fmt.Errorf("malformed frame %q", line)
	}
	id, err := decodeHex([]byte(line[1:3]))
	if err != nil {
		return 0, "", err
	}
	return id, line[3 : len(line)-1], nil
}

func (l *testLink) sendAck(id byte, payload string) {
	l.server.Write([]byte("<" + string(hexDigits(id)) + payload + "\n"))
}

func (l *testLink) sendNak(id byte) {
	l.server.Write([]byte("?" + string(hexDigits(id)) + "\n"))
}

func TestSendResolvesOnAck(t *testing.T) {
	l := newTestLink(t)

	fut, err := l.ctrl.Send("STATUS", time.Second, false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	id, text := l.recvCommand(t)
	if text != "STATUS" {
		t.Fatalf("server saw command %q, want STATUS", text)
	}
	l.sendAck(id, "POWER=1")

	lines, err := fut.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(lines) != 1 || lines[0] != "POWER=1" {
		t.Fatalf("Wait() lines = %v, want [POWER=1]", lines)
	}
}

func TestSendResolvesOnNak(t *testing.T) {
	l := newTestLink(t)

	fut, err := l.ctrl.Send("BOGUS", time.Second, false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	id, _ := l.recvCommand(t)
	l.sendNak(id)

	_, err = fut.Wait()
	if err == nil {
		t.Fatalf("expected NAK to resolve as an error")
	}
	if _, ok := err.(*CommandFailedError); !ok {
		t.Fatalf("err = %T, want *CommandFailedError", err)
	}
}

func TestSendTimesOutAndPoisonsID(t *testing.T) {
	l := newTestLink(t)

	fut, err := l.ctrl.Send("SLOW", 20*time.Millisecond, false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	id, _ := l.recvCommand(t)

	_, err = fut.Wait()
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("err = %T, want *TimeoutError", err)
	}

	// A late ACK for the timed-out id must log-and-drop, not panic, and
	// must unpoison the id so the pool recovers.
	l.sendAck(id, "late")
	time.Sleep(20 * time.Millisecond)

	found := false
	for i := 0; i < 300; i++ {
		got, err := l.ctrl.ids.Reserve()
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if got == id {
			found = true
		}
		l.ctrl.ids.Release(got)
	}
	if !found {
		t.Fatalf("id %02X never became reusable after its late reply arrived", id)
	}
}

func TestExpireCommandIgnoresStaleTimerAfterIDReuse(t *testing.T) {
	l := newTestLink(t)

	// FIRST completes and its id is released, exactly as completeCommand
	// does, but its timer (captured here directly rather than waiting out
	// a real time.AfterFunc) has not fired yet.
	const id = byte(0x01)
	firstCmd := newPendingCommand(id, "FIRST", time.Now())
	l.ctrl.mu.Lock()
	l.ctrl.pending[id] = firstCmd
	l.ctrl.mu.Unlock()
	l.ctrl.mu.Lock()
	delete(l.ctrl.pending, id)
	l.ctrl.mu.Unlock()
	firstCmd.finish(Done, nil)

	// SECOND reuses the same id, as the pool permits once FIRST released
	// it, and is still genuinely running.
	secondCmd := newPendingCommand(id, "SECOND", time.Now().Add(time.Hour))
	l.ctrl.mu.Lock()
	l.ctrl.pending[id] = secondCmd
	l.ctrl.mu.Unlock()

	// FIRST's stale timer fires now, long after FIRST finished.
	l.ctrl.expireCommand(id, firstCmd)

	if secondCmd.State != Running {
		t.Fatalf("stale timer for a completed command force-finished an unrelated in-flight command (state=%v)", secondCmd.State)
	}
	l.ctrl.mu.Lock()
	_, stillPending := l.ctrl.pending[id]
	l.ctrl.mu.Unlock()
	if !stillPending {
		t.Fatalf("stale timer removed the new command's pending entry")
	}
}

func TestCloseFinishesPendingAsDisconnected(t *testing.T) {
	l := newTestLink(t)

	fut, err := l.ctrl.Send("STATUS", time.Second, false)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	l.ctrl.Close()

	_, err = fut.Wait()
	if _, ok := err.(*DisconnectedError); !ok {
		t.Fatalf("err = %T, want *DisconnectedError", err)
	}
}
