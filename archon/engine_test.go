package archon

import (
	"sync/atomic"
	"testing"
	"time"
)

// autoRespond runs a background responder that ACKs every command the
// engine sends except FRAME, whose reply text comes from frameReply so a
// test can script the buffer-completion sequence a real controller's
// firmware would report over successive polls. It exits quietly once the
// link is torn down (recvCommandErr returns an error on a closed pipe).
func (l *testLink) autoRespond(frameReply func() string) {
	go func() {
		for {
			id, text, err := l.recvCommandErr()
			if err != nil {
				return
			}
			if text == "FRAME" {
				l.sendAck(id, frameReply())
				continue
			}
			l.sendAck(id, "")
		}
	}()
}

func newExposeEngine(t *testing.T) (*Engine, *testLink) {
	t.Helper()
	l := newTestLink(t)
	acf, err := ParseACF(sampleACF)
	if err != nil {
		t.Fatalf("ParseACF: %v", err)
	}
	e := NewEngine(l.ctrl, acf)
	e.PollInterval = 5 * time.Millisecond
	e.ReadoutMax = time.Second
	l.ctrl.setStatus(Idle|PowerOn, true)
	return e, l
}

func TestExposeAutoReadReachesFetchPending(t *testing.T) {
	e, l := newExposeEngine(t)

	var frameCalls atomic.Int32
	l.autoRespond(func() string {
		n := frameCalls.Add(1)
		if n <= 2 {
			return "BUF1COMPLETE=1 BUF1FRAME=5 BUF1WIDTH=10 BUF1HEIGHT=10 BUF1SAMPLE=0"
		}
		return "BUF1COMPLETE=1 BUF1FRAME=6 BUF1WIDTH=10 BUF1HEIGHT=10 BUF1SAMPLE=0"
	})

	done, err := e.Expose(1, true)
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("integration failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Expose's done channel")
	}

	status := l.ctrl.Status()
	if !status.Has(FetchPending) {
		t.Fatalf("status = %v, want FETCH_PENDING set", status.Names())
	}
	if status.Has(Reading) || status.Has(Exposing) {
		t.Fatalf("status = %v, want READING and EXPOSING cleared", status.Names())
	}
}

func TestExposeAutoReadTimesOutIfBufferNeverAdvances(t *testing.T) {
	e, l := newExposeEngine(t)
	e.ReadoutMax = 30 * time.Millisecond

	l.autoRespond(func() string {
		// Buffer never advances past startFrame: the firmware is stuck.
		return "BUF1COMPLETE=1 BUF1FRAME=5 BUF1WIDTH=10 BUF1HEIGHT=10 BUF1SAMPLE=0"
	})

	done, err := e.Expose(1, true)
	if err != nil {
		t.Fatalf("Expose: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected a timeout error from the stuck FETCH_PENDING wait")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Expose's done channel")
	}

	if !l.ctrl.Status().Has(ErrorBit) {
		t.Fatalf("expected ErrorBit set after the FETCH_PENDING wait timed out")
	}
}

func TestExposeRefusedAfterMarkErroredUntilReset(t *testing.T) {
	e, l := newExposeEngine(t)
	l.autoRespond(func() string {
		return "BUF1COMPLETE=1 BUF1FRAME=5 BUF1WIDTH=10 BUF1HEIGHT=10 BUF1SAMPLE=0"
	})

	e.markErrored()

	if _, err := e.Expose(1, true); err == nil {
		t.Fatalf("expected Expose to refuse while errored")
	}

	e.Reset()
	l.ctrl.setStatus(Idle, true)

	if _, err := e.Expose(1, true); err != nil {
		t.Fatalf("Expose after Reset: %v", err)
	}
}
