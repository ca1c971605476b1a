package h2t

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// messageDeframer is the default Deframer of §6: it reassembles
// length-prefixed messages (a 1-byte flags field and a 4-byte big-endian
// length, mirroring the wire framing a gRPC-style call layer uses) out of
// the opaque byte buffers DATA frames deliver, and schedules every
// listener-visible event through a serialExecutor so a Stream's callbacks
// stay totally ordered regardless of which goroutine produced them.
type messageDeframer struct {
	mu   sync.Mutex
	exec *serialExecutor
	buf  []byte

	onMessage func(payload []byte, compressed bool)
	onEnd     func()
	onError   func(error)
}

const messagePrefixLen = 5

func newMessageDeframer(exec *serialExecutor) *messageDeframer {
	return &messageDeframer{exec: exec}
}

// Write hands buf (the payload of one DATA frame) to the deframer. Complete
// messages are dispatched through the executor as soon as they're fully
// buffered. If endOfStream is set, Write also verifies nothing partial is
// left over and then runs onEnd.
func (d *messageDeframer) Write(buf []byte, endOfStream bool) {
	d.mu.Lock()
	if len(buf) > 0 {
		d.buf = append(d.buf, buf...)
	}
	msgs := d.drainComplete()
	trailing := len(d.buf)
	d.mu.Unlock()

	for _, m := range msgs {
		msg := m
		d.exec.Submit(func() {
			if d.onMessage != nil {
				d.onMessage(msg.payload, msg.compressed)
			}
		})
	}

	if !endOfStream {
		return
	}

	d.exec.Submit(func() {
		if trailing != 0 {
			if d.onError != nil {
				d.onError(errors.New("h2t: truncated message at end of stream"))
			}
			return
		}
		if d.onEnd != nil {
			d.onEnd()
		}
	})
}

// Delay submits a gate: once the executor reaches it, it blocks until done
// resolves and only then runs deliver. Because a Stream serializes calls
// into the deframer from a single inbound-dispatcher frame at a time,
// Delay for a HEADERS frame is always submitted before Write for any DATA
// frame that followed it on the wire — so this is an explicit sequencing
// token, not a timing assumption (§9 design notes).
func (d *messageDeframer) Delay(done <-chan struct{}, deliver func()) {
	d.exec.Submit(func() {
		<-done
		deliver()
	})
}

type rawMessage struct {
	payload    []byte
	compressed bool
}

func (d *messageDeframer) drainComplete() []rawMessage {
	var out []rawMessage
	for {
		if len(d.buf) < messagePrefixLen {
			return out
		}
		compressed := d.buf[0] != 0
		length := binary.BigEndian.Uint32(d.buf[1:messagePrefixLen])
		total := messagePrefixLen + int(length)
		if len(d.buf) < total {
			return out
		}

		payload := make([]byte, length)
		copy(payload, d.buf[messagePrefixLen:total])
		out = append(out, rawMessage{payload: payload, compressed: compressed})

		d.buf = d.buf[total:]
	}
}

// closedSignal is a pre-closed channel, used where the core has no genuine
// asynchronous gate to offer Delay but still wants to go through the same
// sequencing path as a real one.
var closedSignal = func() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
