package unboundedchan

import (
	"testing"
	"time"
)

func TestCoalescingChanDeliversLatest(t *testing.T) {
	cc := NewCoalescingChan[int](0)

	if v := <-cc.Out(); v != 0 {
		t.Fatalf("want initial value 0, have %d", v)
	}

	// Send several values without draining; only the last should arrive.
	cc.In() <- 1
	cc.In() <- 2
	cc.In() <- 3

	select {
	case v := <-cc.Out():
		if v != 3 {
			t.Errorf("want coalesced value 3, have %d", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced value")
	}

	cc.Close()
	if _, ok := <-cc.Out(); ok {
		t.Error("want Out() closed after Close()")
	}
}
