// Package quic is an h2t.Dialer/net.Listener source over QUIC: each dial or
// accept opens exactly one stream on a session and hands it back as a
// net.Conn, so h2t's own HTTP/2 framing is the only thing multiplexing
// calls — QUIC's own stream multiplexing is left unused on purpose (cf.
// pipewerks/pkg/transport/quic, minus its path-addressed multi-stream
// session wrapper, which played the role h2t's Stream now plays).
package quic

import (
	"context"
	"crypto/tls"
	"net"

	log "github.com/lthibault/log/pkg"
	quic "github.com/lucas-clemente/quic-go"
	"github.com/pkg/errors"
)

// Config for QUIC protocol
type Config = quic.Config

// Transport over QUIC
type Transport struct {
	q *Config
	t *tls.Config
}

// New Transport over QUIC
func New(opt ...Option) *Transport {
	t := new(Transport)
	for _, o := range opt {
		o(t)
	}
	return t
}

// Dial the specified address and open the session's one stream.
func (t *Transport) Dial(c context.Context, a net.Addr) (net.Conn, error) {
	log.Get(c).Debug("dialing")

	sess, err := quic.DialAddrContext(c, a.String(), t.t, t.q)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	s, err := sess.OpenStream()
	if err != nil {
		return nil, errors.Wrap(err, "open stream")
	}

	return &conn{Stream: s, sess: sess}, nil
}

// Listen on the specified address.
func (t *Transport) Listen(c context.Context, a net.Addr) (net.Listener, error) {
	log.Get(c).Debug("listening")

	l, err := quic.ListenAddr(a.String(), t.t, t.q)
	if err != nil {
		return nil, err
	}

	return listener{l}, nil
}

// conn adapts one QUIC stream, plus its parent session's addresses, into a
// net.Conn.
type conn struct {
	quic.Stream
	sess quic.Session
}

func (c *conn) LocalAddr() net.Addr  { return c.sess.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.sess.RemoteAddr() }

func (c *conn) Close() error {
	err := c.Stream.Close()
	_ = c.sess.Close()
	return err
}

type listener struct{ quic.Listener }

func (l listener) Accept() (net.Conn, error) {
	sess, err := l.Listener.Accept()
	if err != nil {
		return nil, errors.Wrap(err, "accept session")
	}

	s, err := sess.AcceptStream()
	if err != nil {
		return nil, errors.Wrap(err, "accept stream")
	}

	return &conn{Stream: s, sess: sess}, nil
}
