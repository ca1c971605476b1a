// Package unix is an h2t.Dialer/net.Listener source over Unix domain
// sockets, for multiplexing many calls over one host-local connection (cf.
// pipewerks/pkg/transport/unix, minus the yamux-backed pipe.Conn layer h2t's
// own multiplexer replaces).
package unix

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// Transport dials and listens for Unix domain socket connections.
type Transport struct {
	d *net.Dialer
	l *net.ListenConfig
}

// Option for the Unix transport.
type Option func(*Transport) (prev Option)

// OptListener sets the ListenConfig.
func OptListener(l *net.ListenConfig) Option {
	return func(t *Transport) (prev Option) {
		prev = OptListener(t.l)
		t.l = l
		return
	}
}

// OptDialer sets the dialer.
func OptDialer(d *net.Dialer) Option {
	return func(t *Transport) (prev Option) {
		prev = OptDialer(t.d)
		t.d = d
		return
	}
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

// Dial opens a connection to the Unix domain socket a.
func (t *Transport) Dial(c context.Context, a net.Addr) (net.Conn, error) {
	if a.Network() != "unix" {
		return nil, errors.Errorf("unix: invalid network %s", a.Network())
	}

	return t.d.DialContext(c, a.Network(), a.String())
}

// Listen opens a listener on the Unix domain socket a.
func (t *Transport) Listen(c context.Context, a net.Addr) (net.Listener, error) {
	if a.Network() != "unix" {
		return nil, errors.Errorf("unix: invalid network %s", a.Network())
	}

	return t.l.Listen(c, a.Network(), a.String())
}
