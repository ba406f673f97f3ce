package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out predictable ids for tests: prefix-1, prefix-2...
//
// Runs of the same scenario produce the same ids, which keeps log output
// and golden traces stable. Safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSequentialIDs creates a generator. An empty prefix becomes "pass".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "pass"
	}
	return &SequentialIDs{prefix: prefix}
}

// Next returns the next id.
func (g *SequentialIDs) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many ids were handed out.
func (g *SequentialIDs) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset starts over at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
