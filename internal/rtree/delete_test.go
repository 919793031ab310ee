package rtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDeleteAndCondense covers concrete scenario 4: from scenario 2's end
// state (two leaves under a depth-1 root), deleting rowids 5, 6, 7 drops
// one leaf below m, condensing it and queueing its survivor for
// reinsertion, collapsing the root back to depth 0 with the four surviving
// rowids.
func TestDeleteAndCondense(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 112})

	for i := int64(1); i <= 7; i++ {
		require.NoError(t, idx.Insert(ctx, cell(i, WideCoord(i), WideCoord(i)+0.5)))
	}
	require.Equal(t, uint16(1), idx.cache.depth)

	require.NoError(t, idx.Delete(ctx, 5))
	require.NoError(t, idx.Delete(ctx, 6))
	require.NoError(t, idx.Delete(ctx, 7))

	require.Equal(t, uint16(0), idx.cache.depth)

	shape := inspectTree(t, ctx, idx)
	require.Equal(t, 4, shape.rootCells)
	require.Len(t, shape.leaves, 1)
	require.Len(t, shape.leaves[0], 4)

	var got []int64
	for _, c := range shape.leaves[0] {
		got = append(got, c.Rowid)
	}
	require.ElementsMatch(t, []int64{1, 2, 3, 4}, got)

	for _, rowid := range []int64{1, 2, 3, 4} {
		exists, err := idx.RowidExists(ctx, rowid)
		require.NoError(t, err)
		require.True(t, exists, "rowid %d should still be mapped", rowid)
	}
	for _, rowid := range []int64{5, 6, 7} {
		exists, err := idx.RowidExists(ctx, rowid)
		require.NoError(t, err)
		require.False(t, exists, "rowid %d should have been unmapped", rowid)
	}
}

// TestDeleteUnknownRowidIsCorruption covers the map-consistency invariant
// (spec section 8, invariant 5) from the failure side: a rowid absent from
// the rowid map can never reach a leaf scan, so Delete reports Corruption
// rather than silently doing nothing.
func TestDeleteUnknownRowidIsCorruption(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 112})
	require.NoError(t, idx.Insert(ctx, cell(1, 0, 1)))

	err := idx.Delete(ctx, 999)
	require.Error(t, err)
	require.True(t, Is(err, KindCorruption))
}

// TestReferenceCycleCorruption covers concrete scenario 7: a backing store
// manually seeded with a self-referencing _parent entry (nodeno=5,
// parentnode=5) makes a delete touching node 5 surface Corruption instead
// of looping forever or silently mutating anything, because a leaf reached
// without a cached parent pointer falls back to walking the host's stored
// parent chain (fixLeafParent), which tracks visited node numbers and
// rejects a repeat.
func TestReferenceCycleCorruption(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Dims: 1, CoordKind: CoordFloat32, NodeSize: 112}

	host := newMemHost()
	root := newZeroNode(cfg.NodeSize)
	root.setDepth(1)
	root.setCellCount(1)
	root.setCell(0, Cell{Rowid: 5, Coords: []WideCoord{0, 1}}, &cfg)
	host.nodes[1] = root.data

	leaf := newZeroNode(cfg.NodeSize)
	leaf.setCellCount(1)
	leaf.setCell(0, Cell{Rowid: 42, Coords: []WideCoord{0, 1}}, &cfg)
	host.nodes[5] = leaf.data

	host.rowids[42] = 5
	host.parents[5] = 5 // self-referencing parent entry

	idx, err := Open(cfg, host, nil)
	require.NoError(t, err)

	nodesBefore := len(host.nodes)
	err = idx.Delete(ctx, 42)
	require.Error(t, err)
	require.True(t, Is(err, KindCorruption))
	require.Equal(t, nodesBefore, len(host.nodes))
	_, stillMapped, rerr := host.ReadRowid(ctx, 42)
	require.NoError(t, rerr)
	require.True(t, stillMapped)
}
