// Package tcp is an h2t.Dialer/net.Listener source over raw TCP: one
// connection is one socket, with h2t's own HTTP/2 framing doing all the
// multiplexing above it (cf. pipewerks/pkg/transport/tcp, minus the
// yamux-backed pipe.Conn layer the superseding multiplexer replaces).
package tcp

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

func checkNetwork(a net.Addr) (ok bool) {
	switch a.Network() {
	case "tcp", "tcp4", "tcp6":
		ok = true
	}

	return
}

// Transport dials and listens for raw TCP connections.
type Transport struct {
	d *net.Dialer
	l *net.ListenConfig
}

// New builds a Transport with stdlib zero-value Dialer/ListenConfig unless
// overridden by opt.
func New(opt ...Option) *Transport {
	t := &Transport{d: new(net.Dialer), l: new(net.ListenConfig)}

	for _, fn := range opt {
		fn(t)
	}

	return t
}

// Dial opens a TCP connection to a.
func (t *Transport) Dial(c context.Context, a net.Addr) (net.Conn, error) {
	if !checkNetwork(a) {
		return nil, errors.Errorf("tcp: invalid network %s", a.Network())
	}

	return t.d.DialContext(c, a.Network(), a.String())
}

// Listen opens a TCP listener on a.
func (t *Transport) Listen(c context.Context, a net.Addr) (net.Listener, error) {
	if !checkNetwork(a) {
		return nil, errors.Errorf("tcp: invalid network %s", a.Network())
	}

	return t.l.Listen(c, a.Network(), a.String())
}
