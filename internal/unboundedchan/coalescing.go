package unboundedchan

// CoalescingChan delivers only the most recent value sent to it: if the
// consumer has not yet drained a previous value, a new Send overwrites it
// rather than queuing. This is the status-subscriber analogue of
// UnboundedChannel: a producer (a controller's status-change notifier) must
// never block on a slow consumer, and a consumer that falls behind should
// see the latest state rather than a backlog of stale ones.
type CoalescingChan[T any] struct {
	in  chan T
	out chan T
}

// NewCoalescingChan creates and starts a CoalescingChan. If initial is
// provided, the first value delivered on Out() is initial[0], matching the
// "newly-subscribed consumers receive the current value first" contract.
func NewCoalescingChan[T any](initial ...T) *CoalescingChan[T] {
	cc := &CoalescingChan[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go cc.run(initial)
	return cc
}

func (cc *CoalescingChan[T]) run(initial []T) {
	var pending []T
	pending = append(pending, initial...)

	for {
		if len(pending) == 0 {
			val, ok := <-cc.in
			if !ok {
				close(cc.out)
				return
			}
			pending = []T{val}
			continue
		}

		select {
		case cc.out <- pending[0]:
			pending = pending[:0]
		case val, ok := <-cc.in:
			if !ok {
				for _, v := range pending {
					cc.out <- v
				}
				close(cc.out)
				return
			}
			// Overwrite: only the latest unsent value survives.
			pending = []T{val}
		}
	}
}

// In returns the channel used to publish new values. Sending never blocks
// on a slow consumer for longer than it takes to replace the pending value.
func (cc *CoalescingChan[T]) In() chan<- T {
	return cc.in
}

// Out returns the channel that yields the latest value.
func (cc *CoalescingChan[T]) Out() <-chan T {
	return cc.out
}

// Close shuts down the channel, causing Out() to close after any pending
// value has been delivered.
func (cc *CoalescingChan[T]) Close() {
	close(cc.in)
}
