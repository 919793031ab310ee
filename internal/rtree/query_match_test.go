package rtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// registerPointWithin registers a MATCH callback testing whether a 2-D
// point (the MATCH argument) falls inside a candidate cell's box, the same
// test applying to both internal cells (their descendants' union box) and
// leaf cells (a row's own box), per spec section 4.I.
func registerPointWithin(t *testing.T, idx *Index) uint64 {
	return idx.Registry().Register("point_within", nil,
		func(st *GeomState, coords []WideCoord) (WithinResult, error) {
			x, y := st.Args[0], st.Args[1]
			if x >= coords[0] && x <= coords[1] && y >= coords[2] && y <= coords[3] {
				return ResultWithin, nil
			}
			return ResultDisjoint, nil
		}, nil)
}

// TestMatchConstraintPrunesUsingRegisteredPredicate covers spec section
// 4.I's MATCH predicate path end to end, and is also a soundness/
// completeness check (invariants 7-8) for a query the plain comparison
// operators cannot express.
func TestMatchConstraintPrunesUsingRegisteredPredicate(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(Config{Dims: 2, CoordKind: CoordInt32, NodeSize: 448})
	handle := registerPointWithin(t, idx)

	require.NoError(t, idx.Insert(ctx, cell(1, 0, 10, 0, 10)))
	require.NoError(t, idx.Insert(ctx, cell(2, 20, 30, 20, 30)))
	require.NoError(t, idx.Insert(ctx, cell(3, 5, 8, 5, 8)))

	plan := idx.BestIndex([]RawConstraint{{Column: 0, Op: OpMatch, Usable: true}})
	require.Equal(t, 2, plan.Strategy)

	blob := EncodeMatchBlob(handle, []WideCoord{6, 6})
	cur := idx.OpenCursor()
	require.NoError(t, cur.Filter(ctx, plan.Strategy, plan.IdxStr, 0, nil, [][]byte{blob}))

	var got []int64
	for !cur.EOF() {
		rowid, err := cur.Rowid()
		require.NoError(t, err)
		got = append(got, rowid)
		require.NoError(t, cur.Next(ctx))
	}
	require.NoError(t, cur.Close(ctx))
	require.Equal(t, []int64{1, 3}, got)
}

// TestMatchConstraintDestructorRunsOnClose confirms the registered
// destructor fires exactly once when the cursor closes, regardless of how
// many candidate cells it was invoked against during the scan.
func TestMatchConstraintDestructorRunsOnClose(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(Config{Dims: 2, CoordKind: CoordInt32, NodeSize: 448})

	closes := 0
	handle := idx.Registry().Register("always_within",
		func(args []WideCoord) (interface{}, error) { return nil, nil },
		func(st *GeomState, coords []WideCoord) (WithinResult, error) { return ResultWithin, nil },
		func(user interface{}) { closes++ })

	require.NoError(t, idx.Insert(ctx, cell(1, 0, 10, 0, 10)))
	require.NoError(t, idx.Insert(ctx, cell(2, 1, 2, 1, 2)))

	plan := idx.BestIndex([]RawConstraint{{Column: 0, Op: OpMatch, Usable: true}})
	blob := EncodeMatchBlob(handle, nil)
	cur := idx.OpenCursor()
	require.NoError(t, cur.Filter(ctx, plan.Strategy, plan.IdxStr, 0, nil, [][]byte{blob}))
	for !cur.EOF() {
		require.NoError(t, cur.Next(ctx))
	}
	require.NoError(t, cur.Close(ctx))
	require.Equal(t, 1, closes)
}
