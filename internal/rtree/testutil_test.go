package rtree

import (
	"context"
	"sync"
)

// memHost is a minimal in-memory Host double for exercising the engine
// without a real database underneath, the same role spec section 1(b)
// assigns the backing-store adapter's test stand-in.
type memHost struct {
	mu sync.Mutex

	nodes   map[uint64][]byte
	rowids  map[int64]uint64
	parents map[uint64]uint64
	nextNo  uint64

	nodeTable, rowidTable, parentTable string
	tablesExist                        bool
}

func newMemHost() *memHost {
	return &memHost{
		nodes:   map[uint64][]byte{},
		rowids:  map[int64]uint64{},
		parents: map[uint64]uint64{},
	}
}

func (h *memHost) ReadNode(ctx context.Context, nodeNo uint64) ([]byte, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.nodes[nodeNo]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (h *memHost) InsertNode(ctx context.Context, nodeNo uint64, data []byte) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if nodeNo == 0 {
		h.nextNo++
		if h.nextNo == 1 {
			h.nextNo = 2 // node 1 is reserved for the root
		}
		nodeNo = h.nextNo
	} else if nodeNo > h.nextNo {
		h.nextNo = nodeNo
	}
	h.nodes[nodeNo] = append([]byte(nil), data...)
	return nodeNo, nil
}

func (h *memHost) DeleteNode(ctx context.Context, nodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, nodeNo)
	return nil
}

func (h *memHost) ReadRowid(ctx context.Context, rowid int64) (uint64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.rowids[rowid]
	return n, ok, nil
}

func (h *memHost) InsertRowid(ctx context.Context, rowid int64, nodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rowids[rowid] = nodeNo
	return nil
}

func (h *memHost) DeleteRowid(ctx context.Context, rowid int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rowids, rowid)
	return nil
}

func (h *memHost) ReadParent(ctx context.Context, nodeNo uint64) (uint64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.parents[nodeNo]
	return p, ok, nil
}

func (h *memHost) InsertParent(ctx context.Context, nodeNo, parentNodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parents[nodeNo] = parentNodeNo
	return nil
}

func (h *memHost) DeleteParent(ctx context.Context, nodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.parents, nodeNo)
	return nil
}

// CreateTables, RenameTables and DropTables round memHost out into a
// SchemaHost for lifecycle.go's Create/Rename/Destroy tests.
func (h *memHost) CreateTables(ctx context.Context, nodeTable, rowidTable, parentTable string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tablesExist {
		return NewConstraintError("backing tables already exist")
	}
	h.nodeTable, h.rowidTable, h.parentTable = nodeTable, rowidTable, parentTable
	h.tablesExist = true
	return nil
}

func (h *memHost) RenameTables(ctx context.Context, old, renamed TableNames) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.tablesExist || h.nodeTable != old.Node || h.rowidTable != old.Rowid || h.parentTable != old.Parent {
		return NewConstraintError("rename target does not match the current backing tables")
	}
	h.nodeTable, h.rowidTable, h.parentTable = renamed.Node, renamed.Rowid, renamed.Parent
	return nil
}

func (h *memHost) DropTables(ctx context.Context, nodeTable, rowidTable, parentTable string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.tablesExist || h.nodeTable != nodeTable || h.rowidTable != rowidTable || h.parentTable != parentTable {
		return NewConstraintError("drop target does not match the current backing tables")
	}
	h.tablesExist = false
	return nil
}

var _ Host = (*memHost)(nil)
var _ SchemaHost = (*memHost)(nil)

// newTestIndex builds an Index over a fresh memHost with node 1 already
// seeded as an empty root, the way Create leaves things before the first
// Insert (see lifecycle.go's Create).
func newTestIndex(cfg Config) (*Index, *memHost) {
	host := newMemHost()
	idx, err := Open(cfg, host, nil)
	if err != nil {
		panic(err)
	}
	root := newZeroNode(cfg.NodeSize)
	if _, err := idx.store.insertNode(context.Background(), 1, root.data); err != nil {
		panic(err)
	}
	return idx, host
}

func cell(rowid int64, coords ...WideCoord) Cell {
	return Cell{Rowid: rowid, Coords: coords}
}
