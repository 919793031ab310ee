package rtree

// node is one in-memory page: the root node's depth field, a cell count,
// and a packed array of cell records (spec section 3, "Node").
//
// node numbers are assigned by the backing store on first flush; a node
// created during a split or by newNode carries nodeNo == 0 until then.
type node struct {
	data   []byte
	nodeNo uint64
	dirty  bool
	ref    int32
	parent *node
}

func newZeroNode(size int) *node {
	return &node{data: make([]byte, size)}
}

func (nd *node) cellCount() uint16 {
	return readU16(nd.data[2:4])
}

func (nd *node) setCellCount(v uint16) {
	writeU16(nd.data[2:4], v)
}

// depth is meaningful only on the root node.
func (nd *node) depth() uint16 {
	return readU16(nd.data[0:2])
}

func (nd *node) setDepth(v uint16) {
	writeU16(nd.data[0:2], v)
}

func (nd *node) cellOffset(idx uint16, cfg *Config) int {
	return 4 + int(idx)*cfg.bytesPerCell()
}

func (nd *node) cell(idx uint16, cfg *Config) Cell {
	return decodeCell(nd.data, nd.cellOffset(idx, cfg), cfg.Dims, cfg.CoordKind)
}

func (nd *node) setCell(idx uint16, c Cell, cfg *Config) {
	encodeCell(nd.data, nd.cellOffset(idx, cfg), c, cfg.Dims, cfg.CoordKind)
}

// rowidAt reads just the rowid field of a cell without decoding coordinates;
// used by the query engine and rowid lookups where the box isn't needed.
func (nd *node) rowidAt(idx uint16, cfg *Config) int64 {
	off := nd.cellOffset(idx, cfg)
	return readI64(nd.data[off : off+8])
}

func (nd *node) isLeaf(height int) bool {
	return height == 0
}

// clear zeroes the node's header and cell count, keeping its byte buffer.
func (nd *node) clear() {
	for i := range nd.data[:4] {
		nd.data[i] = 0
	}
}
