package rtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheAcquireFindsCachedNode(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 448})

	n1, err := idx.cache.acquire(ctx, 1, nil)
	require.NoError(t, err)
	n2, err := idx.cache.acquire(ctx, 1, nil)
	require.NoError(t, err)
	require.Same(t, n1, n2)
	require.EqualValues(t, 2, n1.ref)

	stats := idx.Stats()
	require.EqualValues(t, 1, stats.CacheMiss) // the first acquire, loaded from the store
	require.EqualValues(t, 1, stats.CacheHits) // the second, served from the bucket

	require.NoError(t, idx.cache.release(ctx, n2))
	require.EqualValues(t, 1, n1.ref)
	require.NoError(t, idx.cache.release(ctx, n1))
}

func TestCacheAcquireMissingNodeIsCorruption(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 448})
	_, err := idx.cache.acquire(ctx, 404, nil)
	require.Error(t, err)
	require.True(t, Is(err, KindCorruption))
}

func TestCacheNewNodeStartsUnassignedAndDirty(t *testing.T) {
	ctx := context.Background()
	idx, host := newTestIndex(Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 448})

	n, err := idx.cache.newNode(nil)
	require.NoError(t, err)
	require.EqualValues(t, 0, n.nodeNo)
	require.True(t, n.dirty)

	require.NoError(t, idx.cache.flush(ctx, n))
	require.NotZero(t, n.nodeNo)
	require.False(t, n.dirty)
	_, ok := host.nodes[n.nodeNo]
	require.True(t, ok)
}

func TestCacheAttachParentRejectsCycle(t *testing.T) {
	idx, _ := newTestIndex(Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 448})

	a, err := idx.cache.newNode(nil)
	require.NoError(t, err)
	err = idx.cache.attachParent(a, a)
	require.Error(t, err)
	require.True(t, Is(err, KindCorruption))
}

func TestCacheReleaseCascadesThroughParentChain(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 448})

	root, err := idx.cache.acquire(ctx, 1, nil)
	require.NoError(t, err)

	child, err := idx.cache.newNode(root)
	require.NoError(t, err)
	require.EqualValues(t, 2, root.ref) // acquire's own hold, plus the parent edge

	require.NoError(t, idx.cache.release(ctx, child))
	require.EqualValues(t, 1, root.ref)

	require.NoError(t, idx.cache.release(ctx, root))
}
