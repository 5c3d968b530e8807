package order

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIDGeneratorDeterministic(t *testing.T) {
	base := uuid.New()
	a := NewClientIDGenerator(base, 0)
	b := NewClientIDGenerator(base, 0)
	for i := 0; i < 20; i++ {
		id := a.Next()
		assert.NotZero(t, id)
		assert.Equal(t, id, b.Next())
	}
	assert.Equal(t, uint64(20), a.Offset())

	resumed := NewClientIDGenerator(base, 10)
	replay := NewClientIDGenerator(base, 0)
	for i := 0; i < 10; i++ {
		replay.Next()
	}
	assert.Equal(t, replay.Next(), resumed.Next())
}

func TestClientIDGeneratorInstancesDiffer(t *testing.T) {
	a := NewClientIDGenerator(uuid.New(), 0)
	b := NewClientIDGenerator(uuid.New(), 0)
	assert.NotEqual(t, a.Next(), b.Next())
}

func TestClientIDGeneratorConcurrent(t *testing.T) {
	g := NewClientIDGenerator(uuid.New(), 0)
	var mu sync.Mutex
	seen := make(map[uint64]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 400)
}
