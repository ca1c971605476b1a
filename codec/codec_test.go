package codec

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/net/http2"
)

// recordingHandler captures every FrameHandler callback invocation for
// assertion.
type recordingHandler struct {
	dataStreamID, headersStreamID uint32
	data, headerBlock             []byte
	dataEnd, headersEnd           bool
	settings                      Settings
	settingsAck                   bool
	pingAck                       bool
	pingData                      [8]byte
	rstStreamID                   uint32
	rstCode                       ErrorCode
	goAwayLast                    uint32
	goAwayCode                    ErrorCode
	pushPromiseID                 uint32
	windowUpdateID, windowDelta   uint32
	priorityStreamID              uint32
	unknownType                   http2.FrameType
}

func (h *recordingHandler) OnData(streamID uint32, data []byte, endStream bool) {
	h.dataStreamID, h.data, h.dataEnd = streamID, append([]byte(nil), data...), endStream
}
func (h *recordingHandler) OnHeaders(streamID uint32, headerBlock []byte, endStream bool) {
	h.headersStreamID, h.headerBlock, h.headersEnd = streamID, append([]byte(nil), headerBlock...), endStream
}
func (h *recordingHandler) OnRSTStream(streamID uint32, code ErrorCode) {
	h.rstStreamID, h.rstCode = streamID, code
}
func (h *recordingHandler) OnSettings(s Settings)       { h.settings = s }
func (h *recordingHandler) OnSettingsAck()              { h.settingsAck = true }
func (h *recordingHandler) OnPing(ack bool, data [8]byte) {
	h.pingAck, h.pingData = ack, data
}
func (h *recordingHandler) OnGoAway(lastStreamID uint32, code ErrorCode, debug []byte) {
	h.goAwayLast, h.goAwayCode = lastStreamID, code
}
func (h *recordingHandler) OnPushPromise(promisedStreamID uint32) { h.pushPromiseID = promisedStreamID }
func (h *recordingHandler) OnWindowUpdate(streamID uint32, delta uint32) {
	h.windowUpdateID, h.windowDelta = streamID, delta
}
func (h *recordingHandler) OnPriority(streamID uint32) { h.priorityStreamID = streamID }
func (h *recordingHandler) OnUnknown(frameType http2.FrameType) { h.unknownType = frameType }

func pipePair() (a, b net.Conn) { return net.Pipe() }

func TestHTTP2CodecRoundTrip(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	w := New(client, 0)
	serverFr := http2.NewFramer(server, server)

	t.Run("Data", func(t *testing.T) {
		go func() { assert.NoError(t, w.Data(1, []byte("payload"), true)) }()

		f, err := serverFr.ReadFrame()
		assert.NoError(t, err)
		df := f.(*http2.DataFrame)
		assert.Equal(t, []byte("payload"), df.Data())
		assert.True(t, df.StreamEnded())
	})

	t.Run("Settings", func(t *testing.T) {
		go func() {
			assert.NoError(t, w.Settings(Settings{http2.SettingEnablePush: 0}))
		}()

		f, err := serverFr.ReadFrame()
		assert.NoError(t, err)
		sf := f.(*http2.SettingsFrame)
		v, ok := sf.Value(http2.SettingEnablePush)
		assert.True(t, ok)
		assert.Equal(t, uint32(0), v)
	})

	t.Run("RSTStream", func(t *testing.T) {
		go func() { assert.NoError(t, w.RSTStream(1, Cancel)) }()

		f, err := serverFr.ReadFrame()
		assert.NoError(t, err)
		rf := f.(*http2.RSTStreamFrame)
		assert.Equal(t, http2.ErrCode(Cancel), rf.ErrCode)
	})

	t.Run("GoAway", func(t *testing.T) {
		go func() { assert.NoError(t, w.GoAway(7, ProtocolError, []byte("bye"))) }()

		f, err := serverFr.ReadFrame()
		assert.NoError(t, err)
		gf := f.(*http2.GoAwayFrame)
		assert.Equal(t, uint32(7), gf.LastStreamID)
		assert.Equal(t, []byte("bye"), gf.DebugData())
	})
}

func TestHTTP2CodecNextFrameDispatch(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	r := New(server, 0)
	clientFr := http2.NewFramer(client, client)

	h := &recordingHandler{}
	dispatched := make(chan struct{})

	go func() {
		ok, err := r.NextFrame(h)
		assert.NoError(t, err)
		assert.True(t, ok)
		close(dispatched)
	}()

	assert.NoError(t, clientFr.WriteData(3, true, []byte("hi")))

	select {
	case <-dispatched:
	case <-time.After(time.Second):
		t.Fatal("NextFrame never dispatched")
	}

	assert.Equal(t, uint32(3), h.dataStreamID)
	assert.Equal(t, []byte("hi"), h.data)
	assert.True(t, h.dataEnd)
}

func TestHTTP2CodecHeaderChunking(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	w := New(client, 0)
	r := New(server, 0)

	big := bytes.Repeat([]byte{0xAB}, 20000) // spans HEADERS + CONTINUATION

	errCh := make(chan error, 1)
	go func() { errCh <- w.Headers(5, big, true) }()

	h := &recordingHandler{}
	ok, err := r.NextFrame(h)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, <-errCh)

	assert.Equal(t, uint32(5), h.headersStreamID)
	assert.Equal(t, big, h.headerBlock)
	assert.True(t, h.headersEnd)
}

func TestHTTP2CodecPingRoundTrip(t *testing.T) {
	client, server := pipePair()
	defer client.Close()
	defer server.Close()

	w := New(client, 0)
	r := New(server, 0)

	var payload [8]byte
	copy(payload[:], "ABCDEFGH")

	go func() { assert.NoError(t, w.Ping(false, payload)) }()

	h := &recordingHandler{}
	ok, err := r.NextFrame(h)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, h.pingAck)
	assert.Equal(t, payload, h.pingData)
}

func TestHTTP2CodecMaxDataLengthDefault(t *testing.T) {
	client, _ := pipePair()
	defer client.Close()

	w := New(client, 0)
	assert.Equal(t, defaultMaxDataLength, w.MaxDataLength())

	w2 := New(client, 1024)
	assert.Equal(t, 1024, w2.MaxDataLength())
}
