package h2t

import (
	"sync"

	"github.com/lthibault/h2t/codec"
	"github.com/pkg/errors"
)

// writeQueueCapacity bounds the write serializer's backlog. It is generous
// enough that normal traffic never fills it; a peer wedged long enough to
// fill it gets the connection aborted rather than an unbounded queue or a
// blocked caller (§9 design notes: "apply backpressure ... surface as a
// transport abort if the queue cannot be drained").
const writeQueueCapacity = 256

var errWriteQueueSaturated = errors.New("h2t: write queue saturated")

// writeSerializer is the Write Serializer of §4.1: the single-producer sink
// that applies every outbound frame to the codec writer, in FIFO submission
// order, on one dedicated goroutine, so no caller ever blocks on the socket.
type writeSerializer struct {
	w codec.Writer

	ops     chan func(codec.Writer) error
	closeCh chan struct{}
	doneCh  chan struct{}
	once    sync.Once

	onFail func(error)
}

func newWriteSerializer(w codec.Writer, onFail func(error)) *writeSerializer {
	s := &writeSerializer{
		w:       w,
		ops:     make(chan func(codec.Writer) error, writeQueueCapacity),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
		onFail:  onFail,
	}
	go s.run()
	return s
}

func (s *writeSerializer) run() {
	defer close(s.doneCh)

	for {
		select {
		case op, ok := <-s.ops:
			if !ok {
				return
			}
			if err := op(s.w); err != nil {
				s.onFail(errors.Wrap(err, "write serializer"))
				return
			}
		case <-s.closeCh:
			s.drain()
			_ = s.w.Close()
			return
		}
	}
}

func (s *writeSerializer) drain() {
	for {
		select {
		case op, ok := <-s.ops:
			if !ok {
				return
			}
			_ = op(s.w)
		default:
			return
		}
	}
}

func (s *writeSerializer) submit(fn func(codec.Writer) error) {
	select {
	case s.ops <- fn:
		return
	default:
	}

	select {
	case <-s.closeCh:
	default:
		s.onFail(errWriteQueueSaturated)
	}
}

func (s *writeSerializer) connectionPreface() {
	s.submit(func(w codec.Writer) error { return w.ConnectionPreface() })
}

func (s *writeSerializer) settings(settings codec.Settings) {
	s.submit(func(w codec.Writer) error { return w.Settings(settings) })
}

func (s *writeSerializer) ackSettings() {
	s.submit(func(w codec.Writer) error { return w.AckSettings() })
}

func (s *writeSerializer) ping(ack bool, data [8]byte) {
	s.submit(func(w codec.Writer) error { return w.Ping(ack, data) })
}

func (s *writeSerializer) data(streamID uint32, payload []byte, endStream bool) {
	s.submit(func(w codec.Writer) error { return w.Data(streamID, payload, endStream) })
}

func (s *writeSerializer) headers(streamID uint32, headerBlock []byte, endStream bool) {
	s.submit(func(w codec.Writer) error { return w.Headers(streamID, headerBlock, endStream) })
}

func (s *writeSerializer) rstStream(streamID uint32, code codec.ErrorCode) {
	s.submit(func(w codec.Writer) error { return w.RSTStream(streamID, code) })
}

func (s *writeSerializer) goAway(lastStreamID uint32, code codec.ErrorCode, debug []byte) {
	s.submit(func(w codec.Writer) error { return w.GoAway(lastStreamID, code, debug) })
}

func (s *writeSerializer) windowUpdate(streamID uint32, delta uint32) {
	if delta == 0 {
		return
	}
	s.submit(func(w codec.Writer) error { return w.WindowUpdate(streamID, delta) })
}

func (s *writeSerializer) flush() {
	s.submit(func(w codec.Writer) error { return w.Flush() })
}

func (s *writeSerializer) maxDataLength() int { return s.w.MaxDataLength() }

// close drains outstanding writes then releases the underlying writer. It is
// idempotent and blocks until the drain has actually happened.
func (s *writeSerializer) close() {
	s.once.Do(func() { close(s.closeCh) })
	<-s.doneCh
}
