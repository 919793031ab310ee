package rtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValueDownNeverExceedsInput(t *testing.T) {
	for _, x := range []WideCoord{0, 1, 1.0000001, -1.0000001, 123456.789, -9999.5} {
		got := WideCoord(valueDown(x))
		assert.LessOrEqual(t, got, x, "valueDown(%v) = %v should be <= x", x, got)
	}
}

func TestValueUpNeverUndershootsInput(t *testing.T) {
	for _, x := range []WideCoord{0, 1, 1.0000001, -1.0000001, 123456.789, -9999.5} {
		got := WideCoord(valueUp(x))
		assert.GreaterOrEqual(t, got, x, "valueUp(%v) = %v should be >= x", x, got)
	}
}

func TestValueDownUpAreNearestCandidate(t *testing.T) {
	// When x is already exactly representable as a float32, down and up both
	// collapse to x itself rather than stepping to the next representable value.
	x := WideCoord(10)
	assert.Equal(t, float32(10), valueDown(x))
	assert.Equal(t, float32(10), valueUp(x))
}

func TestNarrowCoordInt32RoundsAwayFromTheInterior(t *testing.T) {
	lo := narrowCoord(CoordInt32, 1.7, -1)
	hi := narrowCoord(CoordInt32, 1.2, 1)
	assert.Equal(t, int32(1), lo.i)
	assert.Equal(t, int32(2), hi.i)
}

func TestWidenCoordRoundTripsInt32(t *testing.T) {
	bits := bitsOfCoord(CoordInt32, float32OrInt{i: -42})
	assert.Equal(t, WideCoord(-42), widenCoord(CoordInt32, bits))
}

func TestWidenCoordRoundTripsFloat32(t *testing.T) {
	f := valueUp(3.5)
	bits := bitsOfCoord(CoordFloat32, float32OrInt{f: f})
	assert.Equal(t, WideCoord(f), widenCoord(CoordFloat32, bits))
}
