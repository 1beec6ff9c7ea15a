package orchestrator

import (
	"bufio"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdss/archond/archon"
)

// fakeArchon plays the part of a controller's firmware over a real loopback
// TCP socket, the way dastard's own roach_test.go drives RoachDevice: accept
// one connection, ACK the handshake RESET, then hand every subsequent
// command to frameReply (for FRAME polls) or ACK it empty, except FETCHn
// which streams back exactly len(payload) raw bytes per the declared
// length StreamFetch expects.
type fakeArchon struct {
	listener net.Listener
	payload  []byte
}

func newFakeArchon(t *testing.T, frameReply func() string, payload []byte) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if len(line) < 4 || line[0] != '>' {
				continue
			}
			id := line[1:3]
			text := line[3 : len(line)-1]
			switch text {
			case "FRAME":
				conn.Write([]byte("<" + id + frameReply() + "\n"))
			case "FETCH1":
				conn.Write([]byte("<" + id))
				conn.Write(payload)
			default:
				conn.Write([]byte("<" + id + "\n"))
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// scriptedFrameReply returns a FRAME reply function: the first
// stableCalls calls report bufferFrameNo unchanged (the write buffer still
// filling); calls after that report it complete one frame later, so a test
// can exercise the READING -> FETCH_PENDING poll loop deterministically.
func scriptedFrameReply(startFrameNo int64, stableCalls int32) func() string {
	var calls atomic.Int32
	return func() string {
		n := calls.Add(1)
		frameNo := startFrameNo
		if n > stableCalls {
			frameNo = startFrameNo + 1
		}
		return fmt.Sprintf("BUF1COMPLETE=1 BUF1FRAME=%d BUF1WIDTH=2 BUF1HEIGHT=2 BUF1SAMPLE=0", frameNo)
	}
}

// connectFakeHandle dials a fakeArchon instance and wraps it as a
// ControllerHandle ready for Orchestrator.Expose, using the same real
// archon.Controller/Engine code path a live deployment runs.
func connectFakeHandle(t *testing.T, name string, acfText string, host string, port int, det archon.Detector) *ControllerHandle {
	t.Helper()
	desc := archon.ControllerDescriptor{Name: name, Host: host, Port: port, Detectors: []archon.Detector{det}}
	ctrl := archon.NewController(desc)
	if err := ctrl.Connect(nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if ctrl.Connected() {
			ctrl.Close()
		}
	})

	acf, err := archon.ParseACF(acfText)
	if err != nil {
		t.Fatalf("ParseACF: %v", err)
	}
	engine := archon.NewEngine(ctrl, acf)
	engine.PollInterval = 5 * time.Millisecond
	engine.ReadoutMax = 2 * time.Second
	return &ControllerHandle{Config: desc, Ctrl: ctrl, Engine: engine}
}
