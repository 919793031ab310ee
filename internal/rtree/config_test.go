package rtree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidateDimsBounds(t *testing.T) {
	cfg := Config{Dims: 0, NodeSize: 448}
	require.Error(t, cfg.Validate())

	cfg = Config{Dims: maxDims + 1, NodeSize: 448}
	require.Error(t, cfg.Validate())

	cfg = Config{Dims: 3, NodeSize: 448}
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateNodeSizeFloor(t *testing.T) {
	cfg := Config{Dims: 1, NodeSize: minNodeSize - 1}
	require.Error(t, cfg.Validate())
}

func TestConfigMAndMCapAtMaxCells(t *testing.T) {
	// A huge node size must still cap M at 51 cells (spec section 3).
	cfg := Config{Dims: 1, NodeSize: 1 << 20}
	require.Equal(t, maxCells, cfg.M())
	require.Equal(t, maxCells/3, cfg.m())
}

func TestConfigMFromNodeSize112(t *testing.T) {
	cfg := Config{Dims: 1, NodeSize: 112}
	require.Equal(t, 6, cfg.M())
	require.Equal(t, 2, cfg.m())
}

func TestDeriveNodeSizeCapsAtMaxCells(t *testing.T) {
	size := deriveNodeSize(1<<20, 1)
	bytesPer := bytesPerCell(1)
	require.Equal(t, 4+maxCells*bytesPer, size)
}

func TestDeriveNodeSizeFloorsAtMinimum(t *testing.T) {
	size := deriveNodeSize(64, 5)
	require.Equal(t, minNodeSize, size)
}
