package dial

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lthibault/h2t"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type noopListener struct{}

func (noopListener) OnHeaders(h2t.Metadata)          {}
func (noopListener) OnMessage([]byte)                {}
func (noopListener) OnClose(*h2t.Status, h2t.Metadata) {}

func fastBackoff() Backoff {
	return Backoff{Min: time.Millisecond, Max: time.Millisecond, Factor: 1, Attempts: 3}
}

func pipeDialer(dialCount *int32) h2t.Dialer {
	return func(ctx context.Context) (net.Conn, error) {
		atomic.AddInt32(dialCount, 1)
		local, _ := net.Pipe()
		return local, nil
	}
}

func TestPoolReusesTransportForSameAuthority(t *testing.T) {
	var dials int32
	p := New(pipeDialer(&dials), fastBackoff())
	ctx := context.Background()

	s1, err := p.Open(ctx, "svc.local:1", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.NoError(t, err)
	assert.NotNil(t, s1)

	s2, err := p.Open(ctx, "svc.local:1", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.NoError(t, err)
	assert.NotNil(t, s2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestPoolDialsSeparatelyPerAuthority(t *testing.T) {
	var dials int32
	p := New(pipeDialer(&dials), fastBackoff())
	ctx := context.Background()

	_, err := p.Open(ctx, "svc.local:1", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.NoError(t, err)
	_, err = p.Open(ctx, "svc.local:2", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&dials))
}

func TestPoolEvictsAfterLastReleaseHitsZero(t *testing.T) {
	var dials int32
	p := New(pipeDialer(&dials), fastBackoff())
	ctx := context.Background()

	_, err := p.Open(ctx, "svc.local:1", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.NoError(t, err)
	_, err = p.Open(ctx, "svc.local:1", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.NoError(t, err)

	p.mu.Lock()
	e, ok := p.cs["svc.local:1"]
	p.mu.Unlock()
	assert.True(t, ok)

	e.gc() // refcount 2 -> 1, still cached
	p.mu.Lock()
	_, stillCached := p.cs["svc.local:1"]
	p.mu.Unlock()
	assert.True(t, stillCached)

	e.gc() // refcount 1 -> 0, evicted
	p.mu.Lock()
	_, evicted := p.cs["svc.local:1"]
	p.mu.Unlock()
	assert.False(t, evicted)
}

func TestPoolDialBackoffRetriesThenSucceeds(t *testing.T) {
	var attempts int32
	dialer := func(ctx context.Context) (net.Conn, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("dial refused")
		}
		local, _ := net.Pipe()
		return local, nil
	}

	p := New(dialer, fastBackoff())
	_, err := p.Open(context.Background(), "svc.local:1", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestPoolDialBackoffExhaustsAttempts(t *testing.T) {
	dialer := func(ctx context.Context) (net.Conn, error) {
		return nil, errors.New("dial refused")
	}

	p := New(dialer, fastBackoff())
	_, err := p.Open(context.Background(), "svc.local:1", "svc.Method", h2t.NewMetadata(), noopListener{})
	assert.Error(t, err)
}
