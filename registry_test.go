package h2t

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamRegistry(t *testing.T) {
	var mu sync.Mutex
	reg := newStreamRegistry(&mu)

	s1 := &Stream{}
	s2 := &Stream{}

	t.Run("AssignAndGet", func(t *testing.T) {
		mu.Lock()
		reg.assign(s1, 3)
		mu.Unlock()

		got, ok := reg.get(3)
		assert.True(t, ok)
		assert.Same(t, s1, got)
		assert.Equal(t, uint32(3), s1.id)
	})

	t.Run("Len", func(t *testing.T) {
		mu.Lock()
		reg.assign(s2, 5)
		mu.Unlock()
		assert.Equal(t, 2, reg.len())
	})

	t.Run("Remove", func(t *testing.T) {
		assert.True(t, reg.remove(3))
		assert.False(t, reg.remove(3))

		_, ok := reg.get(3)
		assert.False(t, ok)
	})

	t.Run("SnapshotAbove", func(t *testing.T) {
		mu.Lock()
		reg.assign(&Stream{}, 7)
		reg.assign(&Stream{}, 9)
		victims := reg.snapshotAbove(5)
		mu.Unlock()

		assert.Len(t, victims, 2)
		assert.Equal(t, 1, reg.len()) // only id 5 (s2) survives
	})
}
