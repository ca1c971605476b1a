// Package inproc is an h2t.Dialer/net.Listener source that stays entirely
// in process memory, addressed by path rather than host:port — useful for
// tests and same-process call routing (cf. pipewerks/pkg/transport/inproc's
// radix-tree address mux).
package inproc

import (
	"context"
	"net"
	"sync"

	radix "github.com/armon/go-radix"
	"github.com/pkg/errors"
)

// Addr identifies an inproc listener by path; its Network is always
// "inproc".
type Addr string

func (Addr) Network() string  { return "inproc" }
func (a Addr) String() string { return string(a) }

// Transport dials and listens for connections kept entirely in process
// memory.
type Transport struct {
	mu sync.Mutex
	r  *radix.Tree
}

// New builds an empty Transport.
func New() *Transport { return &Transport{r: radix.New()} }

// Listen binds a to this Transport, returning a net.Listener that Accepts
// one net.Conn per Dial against the same address.
func (t *Transport) Listen(c context.Context, a net.Addr) (net.Listener, error) {
	if a.Network() != "inproc" {
		return nil, errors.Errorf("inproc: invalid network %s", a.Network())
	}
	addr := Addr(a.String())

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.r.Get(string(addr)); ok {
		return nil, errors.Errorf("inproc: address %s already bound", addr)
	}

	l := &listener{addr: addr, ch: make(chan net.Conn), cq: make(chan struct{})}
	l.unbind = func() {
		t.mu.Lock()
		t.r.Delete(string(addr))
		t.mu.Unlock()
	}
	t.r.Insert(string(addr), l)

	return l, nil
}

// Dial connects to a listener already bound to a via Listen.
func (t *Transport) Dial(c context.Context, a net.Addr) (net.Conn, error) {
	if a.Network() != "inproc" {
		return nil, errors.Errorf("inproc: invalid network %s", a.Network())
	}

	t.mu.Lock()
	v, ok := t.r.Get(a.String())
	t.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("inproc: connection refused: %s", a.String())
	}
	l := v.(*listener)

	local, remote := net.Pipe()
	select {
	case l.ch <- remote:
		return local, nil
	case <-c.Done():
		return nil, c.Err()
	case <-l.cq:
		return nil, errors.New("inproc: connection refused: listener closed")
	}
}

type listener struct {
	addr   Addr
	ch     chan net.Conn
	cq     chan struct{}
	once   sync.Once
	unbind func()
}

func (l *listener) Addr() net.Addr { return l.addr }

func (l *listener) Close() error {
	l.once.Do(func() {
		close(l.cq)
		l.unbind()
	})
	return nil
}

func (l *listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.ch:
		return c, nil
	case <-l.cq:
		return nil, errors.New("inproc: listener closed")
	}
}
