package vtab

import (
	"context"
	"sync"

	"rtreevtab/internal/rtree"
)

// MemoryHost is an in-memory rtree.SchemaHost, the test double spec.md
// section 1(b) calls for in place of a real database's prepared statements
// (mirrors the teacher's map-backed TableManager/SchemaManager — no SQL, no
// disk, just three maps guarded by one mutex).
type MemoryHost struct {
	mu sync.Mutex

	nodeTable, rowidTable, parentTable string
	exists                             bool

	nodes   map[uint64][]byte
	rowids  map[int64]uint64
	parents map[uint64]uint64
}

// NewMemoryHost builds an empty host with no backing tables yet.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		nodes:   map[uint64][]byte{},
		rowids:  map[int64]uint64{},
		parents: map[uint64]uint64{},
	}
}

func (h *MemoryHost) ReadNode(ctx context.Context, nodeNo uint64) ([]byte, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.nodes[nodeNo]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (h *MemoryHost) InsertNode(ctx context.Context, nodeNo uint64, data []byte) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if nodeNo == 0 {
		nodeNo = h.nextNodeNoLocked()
	}
	h.nodes[nodeNo] = append([]byte(nil), data...)
	return nodeNo, nil
}

func (h *MemoryHost) nextNodeNoLocked() uint64 {
	var max uint64
	for n := range h.nodes {
		if n > max {
			max = n
		}
	}
	return max + 1
}

func (h *MemoryHost) DeleteNode(ctx context.Context, nodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, nodeNo)
	return nil
}

func (h *MemoryHost) ReadRowid(ctx context.Context, rowid int64) (uint64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.rowids[rowid]
	return n, ok, nil
}

func (h *MemoryHost) InsertRowid(ctx context.Context, rowid int64, nodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rowids[rowid] = nodeNo
	return nil
}

func (h *MemoryHost) DeleteRowid(ctx context.Context, rowid int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rowids, rowid)
	return nil
}

func (h *MemoryHost) ReadParent(ctx context.Context, nodeNo uint64) (uint64, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.parents[nodeNo]
	return p, ok, nil
}

func (h *MemoryHost) InsertParent(ctx context.Context, nodeNo, parentNodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.parents[nodeNo] = parentNodeNo
	return nil
}

func (h *MemoryHost) DeleteParent(ctx context.Context, nodeNo uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.parents, nodeNo)
	return nil
}

// CreateTables implements rtree.SchemaHost's Create-time table provisioning.
// MemoryHost holds exactly one table triple at a time, which is all a
// single index instance ever needs.
func (h *MemoryHost) CreateTables(ctx context.Context, nodeTable, rowidTable, parentTable string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exists {
		return rtree.NewConstraintError("backing tables already exist")
	}
	h.nodeTable, h.rowidTable, h.parentTable = nodeTable, rowidTable, parentTable
	h.exists = true
	return nil
}

// RenameTables implements rtree.SchemaHost's Rename.
func (h *MemoryHost) RenameTables(ctx context.Context, old, renamed rtree.TableNames) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exists || h.nodeTable != old.Node || h.rowidTable != old.Rowid || h.parentTable != old.Parent {
		return rtree.NewConstraintError("rename target does not match the current backing tables")
	}
	h.nodeTable, h.rowidTable, h.parentTable = renamed.Node, renamed.Rowid, renamed.Parent
	return nil
}

// DropTables implements rtree.SchemaHost's Destroy.
func (h *MemoryHost) DropTables(ctx context.Context, nodeTable, rowidTable, parentTable string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exists || h.nodeTable != nodeTable || h.rowidTable != rowidTable || h.parentTable != parentTable {
		return rtree.NewConstraintError("drop target does not match the current backing tables")
	}
	h.exists = false
	h.nodes = map[uint64][]byte{}
	h.rowids = map[int64]uint64{}
	h.parents = map[uint64]uint64{}
	return nil
}
