package h2t

import (
	"fmt"
	"sync"

	"github.com/lthibault/h2t/codec"
)

type inboundPhase uint8

const (
	inboundHeaders inboundPhase = iota
	inboundMessage
	inboundStatus
	inboundClosed
)

type outboundPhase uint8

const (
	outboundHeaders outboundPhase = iota
	outboundMessage
	outboundStatus
)

// streamWindowThreshold is half the default 64 KiB HTTP/2 initial window
// (§3, §8): the per-stream WINDOW_UPDATE trigger. The connection-level
// trigger is connWindowThreshold, which has the same value.
const streamWindowThreshold = 32 * 1024

// Stream is one logical RPC call multiplexed over the Transport's single
// HTTP/2 connection (§3).
type Stream struct {
	t      *Transport
	method string

	mu                     sync.Mutex
	id                     uint32
	inboundPhase           inboundPhase
	outboundPhase          outboundPhase
	recvUnacked            uint32
	windowUpdateSuppressed bool
	trailers               Metadata
	finished               bool

	listener Listener
	deframer *messageDeframer
	exec     *serialExecutor
}

func newStream(t *Transport, method string, listener Listener) *Stream {
	s := &Stream{t: t, method: method, listener: listener}
	s.exec = newSerialExecutor()
	s.deframer = newMessageDeframer(s.exec)
	s.deframer.onMessage = func(payload []byte, _ bool) { s.listener.OnMessage(payload) }
	s.deframer.onError = func(err error) { s.finish(Internal(err.Error()), nil) }
	return s
}

// ID returns the stream's HTTP/2 stream identifier, or 0 if one has not yet
// been assigned (§3).
func (s *Stream) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// SendMessage writes payload as a DATA frame. payload must be smaller than
// the serializer's advertised MaxDataLength; violating that is a programming
// error, not a runtime one; see §4.4.
func (s *Stream) SendMessage(payload []byte, endOfStream bool) {
	s.mu.Lock()
	id := s.id
	s.outboundPhase = outboundMessage
	s.mu.Unlock()

	if id == 0 {
		panic("h2t: SendMessage called before the stream was assigned an id")
	}

	if max := s.t.writer.maxDataLength(); len(payload) >= max {
		panic(fmt.Sprintf("h2t: payload of %d bytes exceeds max data length %d", len(payload), max))
	}

	s.t.writer.data(id, payload, endOfStream)
	s.t.writer.flush()
}

// DisableWindowUpdate suppresses this stream's receive-side WINDOW_UPDATE
// emission until done resolves, so application-side backpressure can pause
// flow-control credit while messages are still being consumed (§4.4).
func (s *Stream) DisableWindowUpdate(done <-chan struct{}) {
	s.mu.Lock()
	s.windowUpdateSuppressed = true
	s.mu.Unlock()

	go func() {
		<-done

		s.mu.Lock()
		s.windowUpdateSuppressed = false
		var update uint32
		if s.recvUnacked >= streamWindowThreshold {
			update = s.recvUnacked
			s.recvUnacked = 0
		}
		id := s.id
		s.mu.Unlock()

		if update > 0 {
			s.t.writer.windowUpdate(id, update)
		}
	}()
}

// Cancel tears the stream down immediately and idempotently (§4.4, §5): it
// enqueues RST_STREAM(CANCEL) at most once and delivers CANCELLED to the
// listener exactly once.
func (s *Stream) Cancel() {
	s.mu.Lock()
	s.outboundPhase = outboundStatus
	id := s.id
	closed := s.inboundPhase == inboundClosed
	s.mu.Unlock()

	if id == 0 {
		if !closed {
			panic("h2t: Cancel on an unassigned stream that is not already CLOSED")
		}
		return
	}

	if s.t.reg.remove(id) {
		s.t.writer.rstStream(id, codec.Cancel)
		s.finish(Cancelled("Cancelled"), nil)
		s.t.checkQuiescence()
	}
}

// remoteEndClosed is invoked by the deframer once the peer has signalled
// end-of-stream and every buffered byte has been consumed (§4.4).
func (s *Stream) remoteEndClosed() {
	s.mu.Lock()
	trailers := s.trailers
	id := s.id
	s.mu.Unlock()

	s.finish(OK(), trailers)

	if s.t.reg.remove(id) {
		s.t.checkQuiescence()
	}
}

// deliverData hands buf to the deframer and advances receive-side flow
// control (§4.4).
func (s *Stream) deliverData(buf []byte, endOfStream bool, length int) {
	s.deframer.Write(buf, endOfStream)

	s.mu.Lock()
	s.recvUnacked += uint32(length)
	var update uint32
	id := s.id
	if !s.windowUpdateSuppressed && s.recvUnacked >= streamWindowThreshold {
		update = s.recvUnacked
		s.recvUnacked = 0
	}
	s.mu.Unlock()

	if update > 0 {
		s.t.writer.windowUpdate(id, update)
	}
}

// deliverHeaders hands an inbound HEADERS/CONTINUATION block to the stream
// (§4.4). The first call (phase HEADERS) is the response headers; any call
// with endOfStream is the trailers, whether or not headers preceded it
// (trailers-only).
func (s *Stream) deliverHeaders(headerBlock []byte, endOfStream bool) {
	s.mu.Lock()
	wasHeaders := s.inboundPhase == inboundHeaders
	if wasHeaders {
		s.inboundPhase = inboundMessage
	}

	if !endOfStream {
		s.mu.Unlock()
		if wasHeaders {
			headers := s.t.headerConverter.Convert(headerBlock)
			s.deframer.Delay(closedSignal, func() { s.listener.OnHeaders(headers.Clone()) })
		}
		return
	}

	trailers := s.t.headerConverter.Convert(headerBlock)
	s.trailers = trailers
	s.inboundPhase = inboundStatus
	s.deframer.onEnd = s.remoteEndClosed
	s.mu.Unlock()

	s.deframer.Write(nil, true)
}

// finish delivers the terminal status exactly once, as the stream's last
// callback, then tears down its executor (§5, §7, §8).
func (s *Stream) finish(status *Status, trailers Metadata) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.inboundPhase = inboundClosed
	if trailers == nil {
		trailers = s.trailers
	}
	listener := s.listener
	s.mu.Unlock()

	trailers = trailers.Clone()
	s.exec.Submit(func() { listener.OnClose(status, trailers) })
	s.exec.Stop()
}
