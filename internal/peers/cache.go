// Package peers caches users and chats seen in updates so that compact
// updates, which carry bare ids, can be presented with full entities.
package peers

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/tl"
)

// DefaultSize is the number of entities kept in memory.
const DefaultSize = 4096

// Store is the durable backing of the cache.
type Store interface {
	SavePeers(ctx context.Context, peers []tl.FullPeer) error
	Peer(ctx context.Context, markedID int64) (tl.FullPeer, bool, error)
}

// Cache is an LRU in front of a Store. It is safe for concurrent use.
type Cache struct {
	store  Store
	mem    *lru.Cache[int64, tl.FullPeer]
	logger *zap.Logger
}

// Opt configures a Cache.
type Opt func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates a cache holding up to size entities in memory.
func New(store Store, size int, opts ...Opt) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	mem, err := lru.New[int64, tl.FullPeer](size)
	if err != nil {
		return nil, fmt.Errorf("create peer cache: %w", err)
	}
	c := &Cache{
		store:  store,
		mem:    mem,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CacheFrom stores the entities of idx. Min entities are cached only when
// nothing better is known.
func (c *Cache) CacheFrom(ctx context.Context, idx *tl.PeerIndex) error {
	var toSave []tl.FullPeer
	for _, p := range idx.Entities() {
		key := p.Peer().MarkedID()
		if p.IsMin() {
			if known, ok := c.mem.Peek(key); ok && !known.IsMin() {
				continue
			}
		}
		c.mem.Add(key, p)
		toSave = append(toSave, p)
	}
	if err := c.store.SavePeers(ctx, toSave); err != nil {
		return fmt.Errorf("cache peers: %w", err)
	}
	return nil
}

// LookupByID returns the cached entity for p, full or min.
func (c *Cache) LookupByID(ctx context.Context, p tl.Peer) (tl.FullPeer, bool, error) {
	key := p.MarkedID()
	if fp, ok := c.mem.Get(key); ok {
		return fp, true, nil
	}
	fp, ok, err := c.store.Peer(ctx, key)
	if err != nil {
		return tl.FullPeer{}, false, err
	}
	if !ok {
		return tl.FullPeer{}, false, nil
	}
	c.mem.Add(key, fp)
	return fp, true, nil
}

// ResolveStub returns the full entity for a peer that arrived as a min
// entity. It fails when only the min entity is known.
func (c *Cache) ResolveStub(ctx context.Context, p tl.Peer) (tl.FullPeer, bool, error) {
	fp, ok, err := c.LookupByID(ctx, p)
	if err != nil || !ok {
		return tl.FullPeer{}, false, err
	}
	if fp.IsMin() {
		c.logger.Debug("only min entity known", zap.Stringer("peer", p))
		return tl.FullPeer{}, false, nil
	}
	return fp, true, nil
}
