package h2t

import (
	"github.com/lthibault/h2t/codec"
	"golang.org/x/net/http2"
)

// dispatchHandler is the Transport's Inbound Dispatcher (§4.3): the single
// reader goroutine launched by runDispatcher feeds it one decoded frame at a
// time, always in wire order. It shares Transport's memory layout rather
// than holding a separate *Transport field so dispatch methods read like
// Transport methods while staying visibly distinct from the public API.
type dispatchHandler Transport

func (d *dispatchHandler) t() *Transport { return (*Transport)(d) }

// OnData demultiplexes a DATA frame to its Stream and folds its length into
// connection-level flow control (§4.3, §4.4, §8). A frame for an unknown
// stream id is rejected with RST_STREAM(STREAM_CLOSED) rather than silently
// dropped, since the peer would otherwise spin its send window down for
// nothing.
func (d *dispatchHandler) OnData(streamID uint32, data []byte, endStream bool) {
	t := d.t()

	s, ok := t.reg.get(streamID)
	if !ok {
		t.writer.rstStream(streamID, codec.InvalidStream)
		return
	}

	s.deliverData(data, endStream, len(data))

	t.mu.Lock()
	t.connRecvUnacked += uint32(len(data))
	var update uint32
	if t.connRecvUnacked >= connWindowThreshold {
		update = t.connRecvUnacked
		t.connRecvUnacked = 0
	}
	t.mu.Unlock()

	if update > 0 {
		t.writer.windowUpdate(0, update)
	}
}

// OnHeaders demultiplexes a HEADERS(+CONTINUATION) block to its Stream
// (§4.3, §4.4). As with OnData, an unknown stream id gets rejected rather
// than ignored.
func (d *dispatchHandler) OnHeaders(streamID uint32, headerBlock []byte, endStream bool) {
	t := d.t()

	s, ok := t.reg.get(streamID)
	if !ok {
		t.writer.rstStream(streamID, codec.InvalidStream)
		return
	}

	s.deliverHeaders(headerBlock, endStream)
}

// OnRSTStream tears the named Stream down with the Status the HTTP/2 error
// code maps to (§4.3, §4.6).
func (d *dispatchHandler) OnRSTStream(streamID uint32, code codec.ErrorCode) {
	t := d.t()

	s, ok := t.reg.get(streamID)
	if !ok {
		return
	}
	t.reg.remove(streamID)
	s.finish(StatusFromErrorCode(code), nil)

	t.checkQuiescence()
}

// OnSettings immediately ACKs the peer's SETTINGS (§4.3) and records any
// INITIAL_WINDOW_SIZE value in Transport.initialWindowSize. Nothing reads
// that field: neither open nor newly created streams change their
// flow-control bookkeeping, and no other setting is applied (see DESIGN.md).
func (d *dispatchHandler) OnSettings(s codec.Settings) {
	t := d.t()

	if v, ok := s[http2.SettingInitialWindowSize]; ok {
		t.mu.Lock()
		t.initialWindowSize = v
		t.mu.Unlock()
	}

	t.writer.ackSettings()
}

// OnSettingsAck is a no-op: the core never inspects whether its own outbound
// SETTINGS were acknowledged (§4.3).
func (d *dispatchHandler) OnSettingsAck() {}

// OnPing answers a non-ACK PING with the matching ACK (§4.3); an ACK for a
// PING this core never sends is ignored, since keepalive probing is out of
// scope (§1 Non-goals).
func (d *dispatchHandler) OnPing(ack bool, data [8]byte) {
	if ack {
		return
	}
	d.t().writer.ping(true, data)
}

// OnGoAway begins graceful shutdown of every Stream whose id exceeds the
// peer's last-processed id (§4.3, §4.5).
func (d *dispatchHandler) OnGoAway(lastStreamID uint32, code codec.ErrorCode, debug []byte) {
	d.t().peerGoAway(lastStreamID)
}

// OnPushPromise rejects the promised stream outright: server push has no
// role in a request/response RPC transport (§1 Non-goals).
func (d *dispatchHandler) OnPushPromise(promisedStreamID uint32) {
	d.t().writer.rstStream(promisedStreamID, codec.ProtocolError)
}

// OnWindowUpdate is ignored: this core never throttles outbound DATA on
// peer-advertised window size (§1 Non-goals: "flow-control-aware send
// throttling"); it only ever grows credit it never needs.
func (d *dispatchHandler) OnWindowUpdate(streamID uint32, delta uint32) {}

// OnPriority is ignored: stream prioritization is out of scope (§1
// Non-goals).
func (d *dispatchHandler) OnPriority(streamID uint32) {}

// OnUnknown silently drops any frame type this codec doesn't model,
// matching RFC 7540 §4.1's requirement to ignore unknown frame types.
func (d *dispatchHandler) OnUnknown(frameType http2.FrameType) {}
