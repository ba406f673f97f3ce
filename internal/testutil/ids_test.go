package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs_Next(t *testing.T) {
	ids := NewSequentialIDs("p")

	assert.Equal(t, "p-1", ids.Next())
	assert.Equal(t, "p-2", ids.Next())
	assert.Equal(t, int64(2), ids.Count())
}

func TestSequentialIDs_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "pass-1", NewSequentialIDs("").Next())
}

func TestSequentialIDs_Reset(t *testing.T) {
	ids := NewSequentialIDs("p")
	ids.Next()
	ids.Next()

	ids.Reset()
	assert.Equal(t, int64(0), ids.Count())
	assert.Equal(t, "p-1", ids.Next())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	ids := NewSequentialIDs("p")
	const workers = 50
	const perWorker = 20

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := ids.Next()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, int64(workers*perWorker), ids.Count())
}
