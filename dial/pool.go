// Package dial adapts the pack's connection-reuse idiom
// (proto.StreamCountStrategy / protocol.defaultStrategy) to h2t.Transport:
// it shares one Transport per authority across concurrently opened Streams
// and tears it down once the last Stream using it finishes.
package dial

import (
	"context"
	"net"
	"sync"
	"time"

	sentimensctx "github.com/SentimensRG/ctx"
	"github.com/jpillora/backoff"
	"github.com/lthibault/h2t"
	synctoolz "github.com/lthibault/toolz/pkg/sync"
)

// Backoff configures retry timing for Pool.Open's dial attempts.
type Backoff struct {
	Min, Max time.Duration
	Factor   float64
	Attempts int
}

func (b Backoff) orDefault() Backoff {
	if b.Max == 0 {
		return Backoff{Min: 100 * time.Millisecond, Max: 4 * time.Second, Factor: 2, Attempts: 5}
	}
	return b
}

// Pool is a DialStrategy for h2t.Transport (cf. proto.StreamCountStrategy):
// Open either reuses the Transport already open to an authority, or
// dials and starts a fresh one, keyed by authority string.
type Pool struct {
	dial    h2t.Dialer
	backoff Backoff
	opt     []h2t.Option

	mu sync.Mutex
	cs map[string]*pooledEntry
}

// New builds a Pool that uses dial to establish new connections and opt to
// configure every Transport it creates.
func New(dial h2t.Dialer, backoff Backoff, opt ...h2t.Option) *Pool {
	return &Pool{
		dial:    dial,
		backoff: backoff.orDefault(),
		opt:     opt,
		cs:      make(map[string]*pooledEntry),
	}
}

type pooledEntry struct {
	mu sync.Mutex
	synctoolz.Ctr
	t *Pool

	authority string
	transport *h2t.Transport
}

func (e *pooledEntry) gc() {
	e.mu.Lock()
	if e.Ctr.Decr() == 0 {
		e.t.evict(e.authority, e)
		e.transport.Stop()
	}
	e.mu.Unlock()
}

func (p *Pool) evict(authority string, e *pooledEntry) {
	p.mu.Lock()
	if p.cs[authority] == e {
		delete(p.cs, authority)
	}
	p.mu.Unlock()
}

// Open opens a new Stream to authority, reusing an already-open Transport if
// one exists, or dialing and starting a new one with retry/backoff if not
// (cf. protocol.Client.Connect, proto.StreamCountStrategy.GetConn). The
// returned Stream's Listener is wrapped so the pooled Transport's refcount
// is released exactly once, on that Stream's terminal callback.
func (p *Pool) Open(ctx context.Context, authority, method string, reqHeaders h2t.Metadata, listener h2t.Listener) (*h2t.Stream, error) {
	e, err := p.entry(ctx, authority)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.Ctr.Incr()
	e.mu.Unlock()

	s := e.transport.NewStream(method, reqHeaders, &refcountListener{Listener: listener, release: e.gc})
	return s, nil
}

func (p *Pool) entry(ctx context.Context, authority string) (*pooledEntry, error) {
	p.mu.Lock()
	if e, ok := p.cs[authority]; ok {
		p.mu.Unlock()
		return e, nil
	}
	p.mu.Unlock()

	transport, err := p.dialWithBackoff(ctx, authority)
	if err != nil {
		return nil, err
	}

	e := &pooledEntry{t: p, authority: authority, transport: transport}

	p.mu.Lock()
	if existing, ok := p.cs[authority]; ok {
		p.mu.Unlock()
		transport.Stop()
		return existing, nil
	}
	p.cs[authority] = e
	p.mu.Unlock()

	sentimensctx.Defer(transport.Context(), func() { p.evict(authority, e) })

	return e, nil
}

func (p *Pool) dialWithBackoff(ctx context.Context, authority string) (*h2t.Transport, error) {
	b := &backoff.Backoff{Min: p.backoff.Min, Max: p.backoff.Max, Factor: p.backoff.Factor}

	var lastErr error
	for attempt := 0; attempt < p.backoff.Attempts; attempt++ {
		transport := h2t.New(authority, p.dial, p.opt...)
		if err := transport.Start(ctx); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.Duration()):
			}
			continue
		}
		return transport, nil
	}
	return nil, lastErr
}

// LocalAddrDialer adapts a net.Conn-returning dial function that needs an
// address argument into an h2t.Dialer closed over a fixed authority.
func LocalAddrDialer(dial func(ctx context.Context, addr net.Addr) (net.Conn, error), addr net.Addr) h2t.Dialer {
	return func(ctx context.Context) (net.Conn, error) { return dial(ctx, addr) }
}

type refcountListener struct {
	h2t.Listener
	release func()
	once    sync.Once
}

func (l *refcountListener) OnClose(status *h2t.Status, trailers h2t.Metadata) {
	l.Listener.OnClose(status, trailers)
	l.once.Do(l.release)
}
