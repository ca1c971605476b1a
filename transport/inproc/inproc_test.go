package inproc

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestTransport(t *testing.T) {
	tp := New()
	c := context.Background()

	t.Run("DialBeforeListen", func(t *testing.T) {
		_, err := tp.Dial(c, Addr("/nobody"))
		assert.Error(t, err)
	})

	t.Run("InvalidNetwork", func(t *testing.T) {
		bad := fakeAddr{}
		_, err := tp.Listen(c, bad)
		assert.Error(t, err)

		_, err = tp.Dial(c, bad)
		assert.Error(t, err)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		l, err := tp.Listen(c, Addr("/echo"))
		assert.NoError(t, err)
		defer l.Close()

		accepted := make(chan error, 1)
		var serverConn io.ReadWriter
		go func() {
			conn, err := l.Accept()
			serverConn = conn
			accepted <- err
		}()

		client, err := tp.Dial(c, Addr("/echo"))
		assert.NoError(t, err)
		assert.NoError(t, <-accepted)

		go serverConn.Write([]byte("hello"))

		buf := make([]byte, 5)
		_, err = io.ReadFull(client, buf)
		assert.NoError(t, err)
		assert.Equal(t, "hello", string(buf))
	})

	t.Run("ConcurrentDialers", func(t *testing.T) {
		l, err := tp.Listen(c, Addr("/fanin"))
		assert.NoError(t, err)
		defer l.Close()

		const n = 8
		var g errgroup.Group
		for i := 0; i < n; i++ {
			g.Go(func() error {
				conn, err := tp.Dial(c, Addr("/fanin"))
				if err != nil {
					return err
				}
				return conn.Close()
			})
		}

		accepted := 0
		done := make(chan struct{})
		go func() {
			for accepted < n {
				conn, err := l.Accept()
				if err != nil {
					return
				}
				conn.Close()
				accepted++
			}
			close(done)
		}()

		assert.NoError(t, g.Wait())
		<-done
		assert.Equal(t, n, accepted)
	})

	t.Run("DoubleBind", func(t *testing.T) {
		l, err := tp.Listen(c, Addr("/taken"))
		assert.NoError(t, err)
		defer l.Close()

		_, err = tp.Listen(c, Addr("/taken"))
		assert.Error(t, err)
	})

	t.Run("CloseUnbinds", func(t *testing.T) {
		l, err := tp.Listen(c, Addr("/reuse"))
		assert.NoError(t, err)
		assert.NoError(t, l.Close())

		l2, err := tp.Listen(c, Addr("/reuse"))
		assert.NoError(t, err)
		defer l2.Close()
	})
}

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "nope" }
