package h2t

import "sync"

// streamRegistry is the concurrent streamId -> Stream mapping of §4.2. It
// shares its mutex with the owning Transport rather than keeping one of its
// own: spec.md has assignStreamID execute under "the transport lock" and
// bulk iteration (GOAWAY) execute under that same lock to avoid racing with
// assignment, so unifying the two locks gives those guarantees for free and
// sidesteps any nested-lock ordering hazard (§9 design notes).
type streamRegistry struct {
	mu      *sync.Mutex
	streams map[uint32]*Stream
}

func newStreamRegistry(mu *sync.Mutex) *streamRegistry {
	return &streamRegistry{mu: mu, streams: make(map[uint32]*Stream)}
}

// assign requires the caller to already hold mu, and that s.id == 0. It sets
// s.id and inserts s into the registry.
func (r *streamRegistry) assign(s *Stream, id uint32) {
	s.id = id
	r.streams[id] = s
}

// get is safe to call from any goroutine without holding the transport lock.
func (r *streamRegistry) get(id uint32) (*Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[id]
	return s, ok
}

// remove is safe to call from any goroutine. It reports whether id was
// present, so callers can tell a fresh removal from a no-op one.
func (r *streamRegistry) remove(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[id]
	delete(r.streams, id)
	return ok
}

func (r *streamRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// snapshotAbove requires the caller to already hold mu. It removes and
// returns every stream whose id is greater than floor, for GOAWAY-driven
// abort (§4.5).
func (r *streamRegistry) snapshotAbove(floor uint32) []*Stream {
	var out []*Stream
	for id, s := range r.streams {
		if id > floor {
			out = append(out, s)
			delete(r.streams, id)
		}
	}
	return out
}
