// Package statusbus is the reply sink port's default implementation: a
// ZMQ PUB socket publishing tag+JSON multipart messages, grounded on
// dastard's client_updater.go/publish_data.go ClientUpdate fan-out loop,
// rebuilt on github.com/pebbe/zmq4 instead of dastard's own cgo goczmq
// binding, which its go.mod never declares. See DESIGN.md.
package statusbus

import (
	"encoding/json"
	"fmt"
	"log"

	zmq "github.com/pebbe/zmq4"
)

// Update carries one message to be published on the status socket: a tag
// naming the well-known key (per spec.md section 6) and its JSON-encoded
// payload.
type Update struct {
	Tag     string
	Payload []byte
}

// Bus is a ZMQ PUB socket fed by a channel, matching dastard's
// RunClientUpdater loop shape: one goroutine owns the socket and drains
// its input channel until told to stop.
type Bus struct {
	updates chan Update
	done    chan struct{}
}

// NewBus binds a PUB socket at tcp://*:port and starts the publish loop.
// Sends are best-effort: a publish error is logged and the loop continues,
// matching dastard's fire-and-forget update semantics.
func NewBus(port int) (*Bus, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("statusbus: new socket: %w", err)
	}
	endpoint := fmt.Sprintf("tcp://*:%d", port)
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("statusbus: bind %s: %w", endpoint, err)
	}

	b := &Bus{
		updates: make(chan Update, 64),
		done:    make(chan struct{}),
	}
	go b.run(sock)
	return b, nil
}

func (b *Bus) run(sock *zmq.Socket) {
	defer sock.Close()
	for {
		select {
		case u := <-b.updates:
			if _, err := sock.SendBytes([]byte(u.Tag), zmq.SNDMORE); err != nil {
				log.Printf("statusbus: send tag: %v", err)
				continue
			}
			if _, err := sock.SendBytes(u.Payload, 0); err != nil {
				log.Printf("statusbus: send payload: %v", err)
			}
		case <-b.done:
			return
		}
	}
}

// Publish implements ports.ReplySink: it JSON-encodes value and enqueues a
// two-frame [tag, payload] message. Publish never blocks the caller on a
// slow subscriber; the channel itself provides bounded buffering and a
// full channel drops the update (matching dastard's un-acked PUB
// socket, where slow subscribers are expected to miss messages, not stall
// the publisher).
func (b *Bus) Publish(key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Printf("statusbus: marshal %s: %v", key, err)
		return
	}
	select {
	case b.updates <- Update{Tag: key, Payload: payload}:
	default:
		log.Printf("statusbus: dropped update %s (subscriber queue full)", key)
	}
}

// Close stops the publish loop and releases the socket.
func (b *Bus) Close() {
	close(b.done)
}
