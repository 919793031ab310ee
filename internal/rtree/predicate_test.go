package rtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchBlobRoundTrip(t *testing.T) {
	blob := EncodeMatchBlob(7, []WideCoord{1.5, -2, 3})
	handle, args, err := decodeMatchBlob(blob)
	require.NoError(t, err)
	require.Equal(t, uint64(7), handle)
	require.Equal(t, []WideCoord{1.5, -2, 3}, args)
}

func TestMatchBlobRejectsBadMagic(t *testing.T) {
	blob := EncodeMatchBlob(1, nil)
	blob[0] ^= 0xFF
	_, _, err := decodeMatchBlob(blob)
	require.Error(t, err)
	require.True(t, Is(err, KindConstraint))
}

func TestMatchBlobRejectsSizeMismatch(t *testing.T) {
	blob := EncodeMatchBlob(1, []WideCoord{1, 2})
	_, _, err := decodeMatchBlob(blob[:len(blob)-4])
	require.Error(t, err)
	require.True(t, Is(err, KindConstraint))
}

func TestMatchBlobRejectsTooSmall(t *testing.T) {
	_, _, err := decodeMatchBlob([]byte{1, 2, 3})
	require.Error(t, err)
	require.True(t, Is(err, KindConstraint))
}

func TestPredicateRegistryRegisterAndLookup(t *testing.T) {
	reg := newPredicateRegistry()
	handle := reg.Register("within2d",
		func(args []WideCoord) (interface{}, error) { return len(args), nil },
		func(st *GeomState, coords []WideCoord) (WithinResult, error) {
			if coords[0] >= st.Args[0] && coords[1] <= st.Args[1] {
				return ResultWithin, nil
			}
			return ResultDisjoint, nil
		},
		nil)

	got, ok := reg.HandleByName("within2d")
	require.True(t, ok)
	require.Equal(t, handle, got)

	p, ok := reg.lookup(handle)
	require.True(t, ok)
	require.Equal(t, "within2d", p.name)
}

func TestPredicateInvokeAndClose(t *testing.T) {
	reg := newPredicateRegistry()
	closed := false
	handle := reg.Register("range",
		nil,
		func(st *GeomState, coords []WideCoord) (WithinResult, error) {
			if coords[0] >= st.Args[0] && coords[1] <= st.Args[1] {
				return ResultWithin, nil
			}
			return ResultDisjoint, nil
		},
		func(user interface{}) { closed = true })

	st, pred, err := reg.newGeomState(handle, []WideCoord{0, 10})
	require.NoError(t, err)

	res, err := pred.invoke(st, []WideCoord{2, 8})
	require.NoError(t, err)
	require.Equal(t, ResultWithin, res)

	res, err = pred.invoke(st, []WideCoord{-1, 8})
	require.NoError(t, err)
	require.Equal(t, ResultDisjoint, res)

	pred.close(st)
	require.True(t, closed)
	// Close is idempotent: a second call must not re-invoke the destructor.
	closed = false
	pred.close(st)
	require.False(t, closed)
}

func TestNewGeomStateUnknownHandle(t *testing.T) {
	reg := newPredicateRegistry()
	_, _, err := reg.newGeomState(999, nil)
	require.Error(t, err)
	require.True(t, Is(err, KindConstraint))
}
