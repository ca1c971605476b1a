// Package codec is the black-box frame codec the core transport treats as an
// external collaborator: it parses inbound bytes into typed frame events and
// serializes outbound frames, so the multiplexer never touches HPACK or
// frame-layout details directly.
package codec

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
)

// ErrorCode is the wire-level HTTP/2 RST_STREAM/GOAWAY error code. The
// numeric values below 0xe mirror RFC 7540 §7 exactly; InvalidCredentials is
// a private extension carried over from the transport this module is
// modeled on.
type ErrorCode uint32

const (
	NoError              ErrorCode = 0x0
	ProtocolError        ErrorCode = 0x1
	InternalError        ErrorCode = 0x2
	FlowControlError     ErrorCode = 0x3
	SettingsTimeoutError ErrorCode = 0x4
	StreamClosedError    ErrorCode = 0x5
	FrameSizeError       ErrorCode = 0x6
	RefusedStream        ErrorCode = 0x7
	Cancel               ErrorCode = 0x8
	CompressionError     ErrorCode = 0x9
	ConnectError         ErrorCode = 0xa
	EnhanceYourCalm      ErrorCode = 0xb
	InadequateSecurity   ErrorCode = 0xc
	HTTP11Required       ErrorCode = 0xd
	InvalidCredentials   ErrorCode = 0xf

	// SettingsTimeout is kept as an alias matching the RFC's own name.
	SettingsTimeout = SettingsTimeoutError

	// InvalidStream is the code the dispatcher uses to reject a frame that
	// names a stream id we have no record of. HTTP/2 has no dedicated
	// "invalid stream" error code; STREAM_CLOSED is the closest RFC
	// semantics (see DESIGN.md).
	InvalidStream = StreamClosedError
)

func (c ErrorCode) http2() http2.ErrCode { return http2.ErrCode(c) }

// Settings is the decoded payload of a SETTINGS frame.
type Settings map[http2.SettingID]uint32

// Writer is the serialized sink for outbound frames on one connection. A
// Writer implementation need not be safe for concurrent use by multiple
// goroutines: the core guarantees exactly one caller (the write serializer)
// ever invokes it.
type Writer interface {
	ConnectionPreface() error
	Settings(s Settings) error
	AckSettings() error
	Ping(ack bool, data [8]byte) error
	Data(streamID uint32, payload []byte, endStream bool) error
	Headers(streamID uint32, headerBlock []byte, endStream bool) error
	RSTStream(streamID uint32, code ErrorCode) error
	GoAway(lastStreamID uint32, code ErrorCode, debug []byte) error
	WindowUpdate(streamID uint32, delta uint32) error
	Flush() error
	Close() error
	MaxDataLength() int
}

// FrameHandler receives the decoded frame events a Reader produces, one at a
// time, in the order frames arrived on the wire.
type FrameHandler interface {
	OnData(streamID uint32, data []byte, endStream bool)
	OnHeaders(streamID uint32, headerBlock []byte, endStream bool)
	OnRSTStream(streamID uint32, code ErrorCode)
	OnSettings(s Settings)
	OnSettingsAck()
	OnPing(ack bool, data [8]byte)
	OnGoAway(lastStreamID uint32, code ErrorCode, debug []byte)
	OnPushPromise(promisedStreamID uint32)
	OnWindowUpdate(streamID uint32, delta uint32)
	OnPriority(streamID uint32)
	OnUnknown(frameType http2.FrameType)
}

// Reader pulls one frame at a time off the wire and dispatches it to h. It
// returns false on a clean peer-initiated EOF, and a non-nil error on any
// I/O or framing failure.
type Reader interface {
	NextFrame(h FrameHandler) (bool, error)
}

const defaultMaxDataLength = 4096

// HTTP2Codec is the default Writer+Reader, backed by golang.org/x/net/http2's
// frame-level Framer. A single instance's Writer half and Reader half are
// meant to be driven by two different, single-threaded callers (the write
// serializer and the inbound dispatcher, respectively); the Framer keeps
// independent read- and write-side buffers so that's safe.
type HTTP2Codec struct {
	raw           io.Writer
	fr            *http2.Framer
	maxDataLength int
}

// New wraps rw in an HTTP2Codec. maxDataLength bounds the payload of any
// single outbound DATA frame; 0 selects the core's default safety margin.
func New(rw io.ReadWriter, maxDataLength int) *HTTP2Codec {
	if maxDataLength <= 0 {
		maxDataLength = defaultMaxDataLength
	}
	return &HTTP2Codec{
		raw:           rw,
		fr:            http2.NewFramer(rw, rw),
		maxDataLength: maxDataLength,
	}
}

func (c *HTTP2Codec) MaxDataLength() int { return c.maxDataLength }

func (c *HTTP2Codec) ConnectionPreface() error {
	_, err := io.WriteString(c.raw, http2.ClientPreface)
	return errors.Wrap(err, "write preface")
}

func (c *HTTP2Codec) Settings(s Settings) error {
	settings := make([]http2.Setting, 0, len(s))
	for id, val := range s {
		settings = append(settings, http2.Setting{ID: id, Val: val})
	}
	return errors.Wrap(c.fr.WriteSettings(settings...), "write settings")
}

func (c *HTTP2Codec) AckSettings() error {
	return errors.Wrap(c.fr.WriteSettingsAck(), "write settings ack")
}

func (c *HTTP2Codec) Ping(ack bool, data [8]byte) error {
	return errors.Wrap(c.fr.WritePing(ack, data), "write ping")
}

func (c *HTTP2Codec) Data(streamID uint32, payload []byte, endStream bool) error {
	return errors.Wrap(c.fr.WriteData(streamID, endStream, payload), "write data")
}

// Headers writes headerBlock as a HEADERS frame, splitting across
// CONTINUATION frames if it exceeds one frame's worth of space.
func (c *HTTP2Codec) Headers(streamID uint32, headerBlock []byte, endStream bool) error {
	const headerChunk = 16384

	first := headerBlock
	rest := headerBlock[:0]
	if len(headerBlock) > headerChunk {
		first = headerBlock[:headerChunk]
		rest = headerBlock[headerChunk:]
	}

	if err := c.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: first,
		EndStream:     endStream,
		EndHeaders:    len(rest) == 0,
	}); err != nil {
		return errors.Wrap(err, "write headers")
	}

	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > headerChunk {
			chunk = rest[:headerChunk]
		}
		rest = rest[len(chunk):]
		if err := c.fr.WriteContinuation(streamID, len(rest) == 0, chunk); err != nil {
			return errors.Wrap(err, "write continuation")
		}
	}

	return nil
}

func (c *HTTP2Codec) RSTStream(streamID uint32, code ErrorCode) error {
	return errors.Wrap(c.fr.WriteRSTStream(streamID, code.http2()), "write rst_stream")
}

func (c *HTTP2Codec) GoAway(lastStreamID uint32, code ErrorCode, debug []byte) error {
	return errors.Wrap(c.fr.WriteGoAway(lastStreamID, code.http2(), debug), "write goaway")
}

func (c *HTTP2Codec) WindowUpdate(streamID uint32, delta uint32) error {
	return errors.Wrap(c.fr.WriteWindowUpdate(streamID, delta), "write window_update")
}

func (c *HTTP2Codec) Flush() error {
	if f, ok := c.raw.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (c *HTTP2Codec) Close() error {
	if closer, ok := c.raw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// NextFrame reads and dispatches exactly one frame. It coalesces
// HEADERS/PUSH_PROMISE with any trailing CONTINUATION frames before invoking
// the handler, so h never sees a bare CONTINUATION.
func (c *HTTP2Codec) NextFrame(h FrameHandler) (bool, error) {
	f, err := c.fr.ReadFrame()
	if err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, errors.Wrap(err, "read frame")
	}

	switch fr := f.(type) {
	case *http2.DataFrame:
		h.OnData(fr.Header().StreamID, fr.Data(), fr.StreamEnded())

	case *http2.HeadersFrame:
		block, err := c.collectHeaderBlock(fr.HeaderBlockFragment(), fr.HeadersEnded())
		if err != nil {
			return false, err
		}
		h.OnHeaders(fr.Header().StreamID, block, fr.StreamEnded())

	case *http2.RSTStreamFrame:
		h.OnRSTStream(fr.Header().StreamID, ErrorCode(fr.ErrCode))

	case *http2.SettingsFrame:
		if fr.IsAck() {
			h.OnSettingsAck()
			return true, nil
		}
		s := make(Settings)
		_ = fr.ForeachSetting(func(setting http2.Setting) error {
			s[setting.ID] = setting.Val
			return nil
		})
		h.OnSettings(s)

	case *http2.PingFrame:
		h.OnPing(fr.Header().Flags.Has(http2.FlagPingAck), fr.Data)

	case *http2.GoAwayFrame:
		h.OnGoAway(fr.LastStreamID, ErrorCode(fr.ErrCode), fr.DebugData())

	case *http2.PushPromiseFrame:
		if _, err := c.collectHeaderBlock(fr.HeaderBlockFragment(), fr.HeadersEnded()); err != nil {
			return false, err
		}
		h.OnPushPromise(fr.PromiseID)

	case *http2.WindowUpdateFrame:
		h.OnWindowUpdate(fr.Header().StreamID, fr.Increment)

	case *http2.PriorityFrame:
		h.OnPriority(fr.Header().StreamID)

	default:
		h.OnUnknown(f.Header().Type)
	}

	return true, nil
}

func (c *HTTP2Codec) collectHeaderBlock(first []byte, ended bool) ([]byte, error) {
	if ended {
		return first, nil
	}

	block := append([]byte(nil), first...)
	for {
		f, err := c.fr.ReadFrame()
		if err != nil {
			return nil, errors.Wrap(err, "read continuation")
		}
		cont, ok := f.(*http2.ContinuationFrame)
		if !ok {
			return nil, errors.Errorf("h2t: expected CONTINUATION, got %T", f)
		}
		block = append(block, cont.HeaderBlockFragment()...)
		if cont.HeadersEnded() {
			return block, nil
		}
	}
}
