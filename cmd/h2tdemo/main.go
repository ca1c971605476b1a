// h2tdemo dials an in-process HTTP/2 peer and round-trips one RPC call
// through h2t, the way pipewerks' examples/main.go round-trips raw bytes
// over a Dial/Listen pair.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/SentimensRG/ctx"
	"github.com/SentimensRG/ctx/sigctx"
	"github.com/lthibault/h2t"
	"github.com/lthibault/h2t/codec"
	"github.com/lthibault/h2t/dial"
	"github.com/lthibault/h2t/transport/inproc"
	log "github.com/lthibault/log/pkg"
	"golang.org/x/net/http2"
)

var (
	tp   = inproc.New()
	addr = inproc.Addr("/h2tdemo")
)

// echoPeer is a minimal frame-level HTTP/2 peer: not a general server (out
// of scope, see SPEC_FULL.md's Non-goals), just enough wire protocol to
// give the demo client something to round-trip a message against.
type echoPeer struct{ w codec.Writer }

func (p *echoPeer) OnHeaders(streamID uint32, headerBlock []byte, endStream bool) {
	if !endStream {
		p.w.Headers(streamID, nil, false)
	}
}

func (p *echoPeer) OnData(streamID uint32, data []byte, endStream bool) {
	p.w.Data(streamID, data, false)
	if endStream {
		p.w.Headers(streamID, nil, true)
		p.w.Flush()
	}
}

func (p *echoPeer) OnSettings(s codec.Settings)                        { p.w.AckSettings(); p.w.Flush() }
func (p *echoPeer) OnSettingsAck()                                     {}
func (p *echoPeer) OnPing(ack bool, data [8]byte)                      {}
func (p *echoPeer) OnRSTStream(streamID uint32, code codec.ErrorCode)  {}
func (p *echoPeer) OnGoAway(uint32, codec.ErrorCode, []byte)           {}
func (p *echoPeer) OnPushPromise(uint32)                               {}
func (p *echoPeer) OnWindowUpdate(uint32, uint32)                       {}
func (p *echoPeer) OnPriority(uint32)                                   {}
func (p *echoPeer) OnUnknown(frameType http2.FrameType)                {}

func runEchoPeer(ctx context.Context) {
	l, err := tp.Listen(ctx, addr)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		go handleConn(conn)
	}
}

func handleConn(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, len(http2.ClientPreface))
	if _, err := readFull(conn, buf); err != nil {
		return
	}

	hc := codec.New(conn, 0)
	peer := &echoPeer{w: hc}
	for {
		ok, err := hc.NextFrame(peer)
		if err != nil || !ok {
			return
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type printListener struct {
	recv chan []byte
	done chan struct{}
}

func (l *printListener) OnHeaders(headers h2t.Metadata) {}
func (l *printListener) OnMessage(payload []byte)       { l.recv <- payload }
func (l *printListener) OnClose(status *h2t.Status, trailers h2t.Metadata) {
	log.Info(fmt.Sprintf("stream closed: %v", status))
	close(l.done)
}

func main() {
	c := sigctx.New()
	stdctx := ctx.AsContext(c)

	go runEchoPeer(stdctx)

	pool := dial.New(dial.LocalAddrDialer(tp.Dial, addr), dial.Backoff{})

	lis := &printListener{recv: make(chan []byte, 1), done: make(chan struct{})}
	s, err := pool.Open(stdctx, addr.String(), "demo.Echo/Call", h2t.NewMetadata(), lis)
	if err != nil {
		log.Fatal(err)
	}

	payload := make([]byte, 5+len("hello, world!"))
	binary.BigEndian.PutUint32(payload[1:5], uint32(len("hello, world!")))
	copy(payload[5:], "hello, world!")

	s.SendMessage(payload, true)

	select {
	case msg := <-lis.recv:
		log.Info(fmt.Sprintf("received %d bytes", len(msg)))
	case <-c.Done():
		return
	}

	<-lis.done
}
