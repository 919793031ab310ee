package rtree

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const cacheBuckets = 128

// cache is the in-memory, ref-counted, hash-table-keyed cache of node pages
// described in spec section 4.B. Parent pointers form an up-going
// reference tree the cache owns; each parent hold from a child counts as
// one reference on the parent.
type cache struct {
	cfg   *Config
	store *Store
	log   *zap.Logger
	stats *Stats

	buckets [cacheBuckets][]*node
	depth   uint16
}

func newCache(cfg *Config, store *Store, log *zap.Logger, stats *Stats) *cache {
	return &cache{cfg: cfg, store: store, log: log, stats: stats}
}

// hashNodeNo is the xor-fold of the 8 bytes of nodeNo, mod 128.
func hashNodeNo(nodeNo uint64) int {
	var h byte
	for i := 0; i < 8; i++ {
		h ^= byte(nodeNo >> (8 * i))
	}
	return int(h) % cacheBuckets
}

func (c *cache) find(nodeNo uint64) *node {
	for _, n := range c.buckets[hashNodeNo(nodeNo)] {
		if n.nodeNo == nodeNo {
			return n
		}
	}
	return nil
}

func (c *cache) insert(n *node) {
	b := hashNodeNo(n.nodeNo)
	c.buckets[b] = append(c.buckets[b], n)
}

func (c *cache) remove(n *node) {
	b := hashNodeNo(n.nodeNo)
	bucket := c.buckets[b]
	for i, x := range bucket {
		if x == n {
			c.buckets[b] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// acquire loads or finds nodeNo, incrementing its reference count. If
// parentHint is non-nil and the node has no parent attached, it is wired up
// (taking a reference on parentHint), guarding against reference cycles.
func (c *cache) acquire(ctx context.Context, nodeNo uint64, parentHint *node) (*node, error) {
	if n := c.find(nodeNo); n != nil {
		c.stats.incr(&c.stats.CacheHits)
		n.ref++
		if n.parent == nil && parentHint != nil {
			if err := c.attachParent(n, parentHint); err != nil {
				return nil, err
			}
		}
		return n, nil
	}
	c.stats.incr(&c.stats.CacheMiss)

	raw, ok, err := c.store.readNode(ctx, nodeNo)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errCorruption(fmt.Sprintf("node %d not found in backing store", nodeNo), nil)
	}

	n := &node{data: raw, nodeNo: nodeNo, ref: 1}

	if int(n.cellCount()) > c.cfg.M() {
		c.log.Warn("cell count exceeds M", zap.Uint64("node", nodeNo), zap.Uint16("ncell", n.cellCount()))
		return nil, errCorruption(fmt.Sprintf("node %d holds more than M cells", nodeNo), nil)
	}
	if nodeNo == 1 {
		d := n.depth()
		if d > maxDepth {
			c.log.Warn("root depth exceeds bound", zap.Uint16("depth", d))
			return nil, errCorruption(fmt.Sprintf("root depth %d exceeds %d", d, maxDepth), nil)
		}
		c.depth = d
	}

	if parentHint != nil {
		if err := c.attachParent(n, parentHint); err != nil {
			return nil, err
		}
	}

	c.insert(n)
	return n, nil
}

// attachParent sets child's parent pointer, refusing any assignment that
// would create a cycle in the up-going reference chain.
func (c *cache) attachParent(child, parent *node) error {
	for p := parent; p != nil; p = p.parent {
		if p == child {
			return errCorruption("parent assignment would create a reference cycle", nil)
		}
	}
	parent.ref++
	child.parent = parent
	return nil
}

// release decrements n's reference count. At ref==0 the parent chain is
// released recursively, a dirty node is flushed, and the node leaves the
// cache.
func (c *cache) release(ctx context.Context, n *node) error {
	if n == nil {
		return nil
	}
	n.ref--
	if n.ref > 0 {
		return nil
	}
	parent := n.parent
	n.parent = nil
	if n.dirty {
		if err := c.flush(ctx, n); err != nil {
			return err
		}
	}
	if n.nodeNo != 0 {
		c.remove(n)
	}
	if parent != nil {
		return c.release(ctx, parent)
	}
	return nil
}

// newNode creates a zero-initialized, dirty, ref=1 node with no node
// number assigned yet. It is not inserted into the hash until flushed.
func (c *cache) newNode(parent *node) (*node, error) {
	n := &node{data: make([]byte, c.cfg.NodeSize), ref: 1, dirty: true}
	if parent != nil {
		if err := c.attachParent(n, parent); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// flush upserts a dirty node into the backing store, assigning it a node
// number on first flush and indexing it into the cache at that point.
func (c *cache) flush(ctx context.Context, n *node) error {
	if !n.dirty {
		return nil
	}
	assigned, err := c.store.insertNode(ctx, n.nodeNo, n.data)
	if err != nil {
		return err
	}
	if n.nodeNo == 0 {
		n.nodeNo = assigned
		c.insert(n)
	}
	n.dirty = false
	return nil
}

func (c *cache) markDirty(n *node) {
	n.dirty = true
}
