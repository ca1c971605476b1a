// Package h2t multiplexes many concurrent logical RPC calls over a single
// HTTP/2 connection: it turns each call into a stream of HTTP/2 frames and
// demultiplexes inbound frames back to the right call, providing an
// ordered, flow-controlled, cancellable message channel per call on top of
// one socket.
package h2t

import (
	"context"
	"io"
	"math"
	"net"
	"sync"

	sentimensctx "github.com/SentimensRG/ctx"
	"github.com/lthibault/h2t/codec"
	log "github.com/lthibault/log/pkg"
	"github.com/pkg/errors"
	"golang.org/x/net/http2"
)

// Phase is the Transport's lifecycle state (§4.5).
type Phase uint8

const (
	PhaseNew Phase = iota
	PhaseRunning
	PhaseStopping
	PhaseStopped
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "NEW"
	case PhaseRunning:
		return "RUNNING"
	case PhaseStopping:
		return "STOPPING"
	case PhaseStopped:
		return "STOPPED"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// connWindowThreshold is half the default 64 KiB HTTP/2 connection window
// (§4.3, §8): crossing it emits a connection-level WINDOW_UPDATE.
const connWindowThreshold = 32 * 1024

// maxStreamID is the point past which a 31-bit stream id would overflow
// (§4.2): the transport enters GOAWAY before handing out an id at or beyond
// it.
const maxStreamID = math.MaxInt32 - 2

// Dialer supplies the raw socket a Transport multiplexes onto. Dialing
// specifics — TLS, DNS, ALPN — are explicitly out of this module's scope
// (§1); Dialer is the seam where a caller plugs those in.
type Dialer func(ctx context.Context) (net.Conn, error)

// StateObserver is notified on every Phase transition.
type StateObserver func(Phase)

// Option configures a Transport at construction. Options return the
// previous value, following the pack's reversible-option idiom
// (transport/generic.Option).
type Option func(*Transport) Option

// WithLogger sets the Transport's logger.
func WithLogger(l log.Logger) Option {
	return func(t *Transport) Option {
		prev := t.logger
		t.logger = l
		return WithLogger(prev)
	}
}

// WithStateObserver registers a callback invoked on every lifecycle
// transition.
func WithStateObserver(obs StateObserver) Option {
	return func(t *Transport) Option {
		prev := t.observer
		t.observer = obs
		return WithStateObserver(prev)
	}
}

// WithMaxDataLength overrides the default outbound DATA frame payload cap
// (§9: "tune by Settings").
func WithMaxDataLength(n int) Option {
	return func(t *Transport) Option {
		prev := t.maxDataLength
		t.maxDataLength = n
		return WithMaxDataLength(prev)
	}
}

// WithRequestMeta overrides the scheme/content-type/user-agent/TE values the
// header builder attaches to every new stream's HEADERS frame.
func WithRequestMeta(scheme, contentType, userAgent, te string) Option {
	return func(t *Transport) Option {
		prev := t.reqMeta
		t.reqMeta = requestMeta{Scheme: scheme, ContentType: contentType, UserAgent: userAgent, TE: te}
		return WithRequestMeta(prev.Scheme, prev.ContentType, prev.UserAgent, prev.TE)
	}
}

// Transport owns one bidirectional byte stream to a peer and the set of
// currently open Streams multiplexed onto it (§2, §3).
type Transport struct {
	authority string
	dial      Dialer
	testConn  net.Conn

	maxDataLength int
	reqMeta       requestMeta

	logger   log.Logger
	observer StateObserver

	mu                sync.Mutex
	phase             Phase
	nextStreamID      uint32
	goAway            bool
	goAwayStatus      *Status
	stopped           bool
	connRecvUnacked   uint32
	initialWindowSize uint32

	reg *streamRegistry

	conn            net.Conn
	codecW          codec.Writer
	codecR          codec.Reader
	writer          *writeSerializer
	headerBuilder   *headerBuilder
	headerConverter *headerConverter

	lifecycle context.Context
	cancel    context.CancelFunc
}

// New builds a Transport that dials its own connection on start(). The
// client-side stream id sequence begins at 3, per RFC 7540 §5.1.1.
func New(authority string, dial Dialer, opt ...Option) *Transport {
	return newTransport(authority, dial, nil, 3, opt...)
}

// NewForTest builds a Transport over an already-established connection,
// skipping dial and the connection preface — the seam §6/§9 call out as
// essential for exercising shutdown races and stream-id exhaustion without a
// real socket.
func NewForTest(authority string, conn net.Conn, nextStreamID uint32, opt ...Option) *Transport {
	return newTransport(authority, nil, conn, nextStreamID, opt...)
}

func newTransport(authority string, dial Dialer, testConn net.Conn, nextStreamID uint32, opt ...Option) *Transport {
	t := &Transport{
		authority:     authority,
		dial:          dial,
		testConn:      testConn,
		maxDataLength: 0,
		reqMeta:       defaultRequestMeta(),
		logger:        log.New(log.OptLevel(log.NullLevel)),
		phase:         PhaseNew,
		nextStreamID:  nextStreamID,
	}
	t.reg = newStreamRegistry(&t.mu)

	for _, fn := range opt {
		fn(t)
	}

	return t
}

// Phase returns the Transport's current lifecycle state.
func (t *Transport) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *Transport) setPhaseLocked(p Phase) {
	t.phase = p
	if obs := t.observer; obs != nil {
		go obs(p)
	}
}

// Start dials (unless this is a test-mode Transport), sends the connection
// preface and initial SETTINGS, and launches the inbound dispatcher (§4.5).
// A Transport does nothing until Start is called; dial.Pool calls it as soon
// as it hands out a freshly constructed Transport.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.phase != PhaseNew {
		t.mu.Unlock()
		return errors.New("h2t: start called more than once")
	}
	t.mu.Unlock()

	testMode := t.testConn != nil

	conn := t.testConn
	if !testMode {
		c, err := t.dial(ctx)
		if err != nil {
			return errors.Wrap(err, "h2t: dial")
		}
		conn = c
	}

	hc := codec.New(conn, t.maxDataLength)

	t.mu.Lock()
	t.conn = conn
	t.codecW = hc
	t.codecR = hc
	t.headerBuilder = newHeaderBuilder(t.reqMeta)
	t.headerConverter = newHeaderConverter()
	t.writer = newWriteSerializer(hc, t.abort)
	t.lifecycle, t.cancel = context.WithCancel(context.Background())
	sentimensctx.Defer(t.lifecycle, func() {
		if t.writer != nil {
			t.writer.close()
		}
		_ = conn.Close()
	})
	t.setPhaseLocked(PhaseRunning)
	t.mu.Unlock()

	if !testMode {
		t.writer.connectionPreface()
		t.writer.settings(codec.Settings{http2.SettingEnablePush: 0})
		t.writer.flush()
	}

	go t.runDispatcher()

	return nil
}

// Context is cancelled once the Transport leaves RUNNING/STOPPING for good
// (STOPPED or FAILED).
func (t *Transport) Context() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lifecycle
}

func (t *Transport) runDispatcher() {
	for {
		ok, err := t.codecR.NextFrame((*dispatchHandler)(t))
		if err != nil {
			t.abort(errors.Wrap(err, "h2t: inbound dispatcher"))
			return
		}
		if !ok {
			t.abort(errors.New("h2t: connection closed by peer"))
			return
		}
	}
}

// NewStream opens a new logical call (§4.4). If the Transport is already in
// GOAWAY, the Stream is handed the GOAWAY status immediately and never
// assigned an id or put on the wire.
func (t *Transport) NewStream(method string, reqHeaders Metadata, listener Listener) *Stream {
	s := newStream(t, method, listener)

	t.mu.Lock()
	if t.goAway {
		status := t.goAwayStatus
		t.mu.Unlock()
		s.finish(status, nil)
		return s
	}

	id := t.nextStreamID
	t.reg.assign(s, id)
	t.nextStreamID += 2

	exhausted := t.nextStreamID >= maxStreamID
	if exhausted {
		t.enterGoAwayLocked(Internal("Stream id exhaust"), id)
	}
	authority := t.authority
	t.mu.Unlock()

	headerBlock := t.headerBuilder.Build(method, authority, reqHeaders)
	t.writer.headers(id, headerBlock, false)

	return s
}

// checkQuiescence moves STOPPING -> STOPPED once goAway is set and the
// registry has drained (§4.5, §8).
func (t *Transport) checkQuiescence() {
	t.mu.Lock()
	// t.reg shares t.mu, so read the map directly rather than via reg.len(),
	// which would try to lock the mutex already held here.
	if !t.goAway || t.stopped || len(t.reg.streams) != 0 {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.setPhaseLocked(PhaseStopped)
	t.mu.Unlock()

	t.shutdownIO()
}

// shutdownIO cancels the Transport's lifecycle context, which runs the
// teardown registered at start() via ctx.Defer (draining the write
// serializer and closing the connection).
func (t *Transport) shutdownIO() {
	if t.cancel != nil {
		t.cancel()
	}
}

// enterGoAwayLocked requires the caller to hold t.mu. It atomically flips
// goAway on, records the status future streams will be handed, and tears
// down every currently-registered stream whose id is above floor (§4.5).
func (t *Transport) enterGoAwayLocked(status *Status, floor uint32) {
	if !t.goAway {
		t.goAway = true
		t.goAwayStatus = status
	}
	victims := t.reg.snapshotAbove(floor)

	go func() {
		for _, s := range victims {
			s.finish(status, nil)
		}
	}()
}

// Stop initiates a graceful shutdown (§4.5): it enqueues GOAWAY(0,
// NO_ERROR), stops admitting new streams, and lets existing ones finish
// naturally. Calling it more than once is a no-op.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.goAway {
		t.mu.Unlock()
		return
	}
	t.setPhaseLocked(PhaseStopping)
	t.enterGoAwayLocked(Internal("Transport stopped"), t.nextStreamID)
	t.mu.Unlock()

	t.writer.goAway(0, codec.NoError, nil)
	t.checkQuiescence()
}

// abort is the RUNNING/NEW -> FAILED transition (§4.5, §7): every stream is
// finalized with one status, regardless of id.
func (t *Transport) abort(cause error) {
	t.mu.Lock()
	if t.phase == PhaseStopped || t.phase == PhaseFailed {
		t.mu.Unlock()
		return
	}
	status := FromCause(cause)
	t.setPhaseLocked(PhaseFailed)
	t.stopped = true
	t.enterGoAwayLocked(status, 0)
	t.mu.Unlock()

	t.logger.WithError(cause).Debug("transport aborted")
	t.shutdownIO()
}

// peerGoAway is the RUNNING -> STOPPING transition triggered by a peer
// GOAWAY frame (§4.5): every stream above lastGoodStreamID fails with
// UNAVAILABLE, everything at or below keeps running.
func (t *Transport) peerGoAway(lastGoodStreamID uint32) {
	t.mu.Lock()
	if t.phase == PhaseStopped || t.phase == PhaseFailed {
		t.mu.Unlock()
		return
	}
	t.setPhaseLocked(PhaseStopping)
	t.enterGoAwayLocked(Unavailable("Go away"), lastGoodStreamID)
	t.mu.Unlock()

	t.checkQuiescence()
}

var _ io.Closer = (*Transport)(nil)

// Close is an alias for Stop, so Transport satisfies io.Closer for callers
// (e.g. the connection pool) that manage it alongside other closeable
// resources.
func (t *Transport) Close() error {
	t.Stop()
	return nil
}
