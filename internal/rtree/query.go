package rtree

import (
	"context"
	"fmt"
)

// ConstraintOp is one of the six comparison operators the host can hand the
// query engine, mapped to the fixed byte values spec section 4.E/6 assigns
// them so they round-trip through idxStr unchanged.
type ConstraintOp byte

const (
	OpEQ    ConstraintOp = 0x41
	OpLE    ConstraintOp = 0x42
	OpLT    ConstraintOp = 0x43
	OpGE    ConstraintOp = 0x44
	OpGT    ConstraintOp = 0x45
	OpMatch ConstraintOp = 0x46
)

// rowidColumn is the sentinel Column value a RawConstraint uses to mean "the
// hidden rowid column", distinct from any coordinate column index.
const rowidColumn = -1

// RowidColumn is rowidColumn's exported form, for callers outside the
// package (the vtab host-glue layer) building a RawConstraint from a host
// callback's column index.
const RowidColumn = rowidColumn

// RawConstraint is one usable constraint as the host's BestIndex/Filter
// machinery surfaces it, before the column index has been folded into the
// 2-byte idxStr encoding.
type RawConstraint struct {
	Op     ConstraintOp
	Column int // rowidColumn, or a 0-based coordinate column index in [0, 2N)
	Usable bool
}

// Plan is the result of BestIndex: which strategy to run, and (for strategy
// 2) the packed constraint bytes Filter will receive back as idxStr.
type Plan struct {
	Strategy      int
	IdxStr        []byte
	Cost          float64
	EstimatedRows int64
}

// BestIndex implements the strategy-selection rule of spec section 4.E: a
// usable equality constraint on the rowid column always wins as the direct
// lookup; otherwise every usable coordinate/MATCH constraint is packed into
// idxStr for a pruned descent.
func (t *Index) BestIndex(constraints []RawConstraint) Plan {
	for _, c := range constraints {
		if c.Usable && c.Column == rowidColumn && c.Op == OpEQ {
			return Plan{Strategy: 1, Cost: 10, EstimatedRows: 1}
		}
	}

	idxStr := make([]byte, 0, 2*len(constraints))
	n := 0
	for _, c := range constraints {
		if !c.Usable || c.Column == rowidColumn {
			continue
		}
		idxStr = append(idxStr, byte(c.Op), byte('a'+c.Column))
		n++
	}
	cost := 2000000.0 / float64(n+1)
	rows := int64(1000000.0 / cost)
	if rows < 1 {
		rows = 1
	}
	return Plan{Strategy: 2, IdxStr: idxStr, Cost: cost, EstimatedRows: rows}
}

// decodedConstraint is one pruning test, fully resolved: a coordinate column
// and comparison value, or a MATCH constraint carrying its geometry state.
type decodedConstraint struct {
	op    ConstraintOp
	col   int // coordinate column index, 0-based over the 2N columns
	value WideCoord
	geom  *GeomState
	pred  *registeredPredicate
}

// Cursor descends the tree under a constraint list, matching spec section
// 4.E's cursor state: current node (ref'd), current cell index, strategy,
// and (for strategy 2) a stack of acquired ancestors down to the current
// node, each paired with the next sibling index to resume scanning from.
type Cursor struct {
	tree        *Index
	strategy    int
	constraints []decodedConstraint
	node        *node
	iCell       uint16
	stack       []frame
	eof         bool
}

// frame is one level of the strategy-2 descent stack: node is acquired and
// held for as long as the frame is on the stack; next is the index of the
// next cell to test in it.
type frame struct {
	node   *node
	next   uint16
	height int
}

// Value is a single column read back from the cursor (spec section 6,
// `column(i, ctx)`): either the rowid or one coordinate.
type Value struct {
	IsRowid bool
	Rowid   int64
	Coord   WideCoord
}

// OpenCursor begins a new top-level query operation.
func (t *Index) OpenCursor() *Cursor {
	return &Cursor{tree: t}
}

// Filter implements spec section 4.E's Filter: strategy 1 looks up a single
// rowid directly; strategy 2 re-decodes idxStr and descends from the root.
func (c *Cursor) Filter(ctx context.Context, strategy int, idxStr []byte, rowidArg int64, coordArgs []WideCoord, matchArgs [][]byte) error {
	c.strategy = strategy
	c.constraints = nil
	c.eof = false
	c.stack = nil

	if strategy == 1 {
		nodeNo, ok, err := c.tree.store.readRowid(ctx, rowidArg)
		if err != nil {
			return err
		}
		if !ok {
			c.eof = true
			return nil
		}
		leaf, err := c.tree.cache.acquire(ctx, nodeNo, nil)
		if err != nil {
			return err
		}
		idx, err := nodeRowidIndex(leaf, rowidArg, c.tree.cfg)
		if err != nil {
			_ = c.tree.cache.release(ctx, leaf)
			return err
		}
		c.node, c.iCell = leaf, idx
		return nil
	}

	decoded, err := c.decodeIdxStr(idxStr, coordArgs, matchArgs)
	if err != nil {
		return err
	}
	c.constraints = decoded

	root, err := c.tree.cache.acquire(ctx, 1, nil)
	if err != nil {
		return err
	}
	c.stack = []frame{{node: root, height: int(c.tree.cache.depth)}}
	return c.advance(ctx)
}

// decodeIdxStr pairs each (opByte, colByte) in idxStr with its value drawn
// from coordArgs (in the same order the host bound them), resolving MATCH
// operators against matchArgs blobs instead.
func (c *Cursor) decodeIdxStr(idxStr []byte, coordArgs []WideCoord, matchArgs [][]byte) ([]decodedConstraint, error) {
	if len(idxStr)%2 != 0 {
		return nil, errConstraint("idxStr has odd length", nil)
	}
	out := make([]decodedConstraint, 0, len(idxStr)/2)
	argi, matchi := 0, 0
	for i := 0; i+1 < len(idxStr); i += 2 {
		op := ConstraintOp(idxStr[i])
		col := int(idxStr[i+1] - 'a')
		if op == OpMatch {
			if matchi >= len(matchArgs) {
				return nil, errConstraint("MATCH constraint missing blob argument", nil)
			}
			handle, args, err := decodeMatchBlob(matchArgs[matchi])
			matchi++
			if err != nil {
				return nil, err
			}
			st, pred, err := c.tree.registry.newGeomState(handle, args)
			if err != nil {
				return nil, err
			}
			out = append(out, decodedConstraint{op: op, col: col, geom: st, pred: pred})
			continue
		}
		if argi >= len(coordArgs) {
			return nil, errConstraint("constraint missing coordinate argument", nil)
		}
		out = append(out, decodedConstraint{op: op, col: col, value: coordArgs[argi]})
		argi++
	}
	return out, nil
}

// advance is the single engine behind both Filter's initial descent and
// Next: it walks the top of the stack forward, testing each untested cell
// against the constraint list (descendToCell's role from spec section
// 4.E), descending into the first unpruned internal cell and pushing a new
// frame, or stopping at the first unpruned leaf cell. A node whose
// remaining cells are all pruned is popped (released) and scanning resumes
// in its parent frame — the "dead end restores the caller" behavior the
// spec describes. An empty stack at the end means the scan is exhausted.
func (c *Cursor) advance(ctx context.Context) error {
	cfg := c.tree.cfg
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.next >= top.node.cellCount() {
			if err := c.tree.cache.release(ctx, top.node); err != nil {
				return err
			}
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		i := top.next
		top.next++
		cell := top.node.cell(i, cfg)

		if top.height == 0 {
			if pruneLeaf(cell, c.constraints) {
				continue
			}
			c.node, c.iCell = top.node, i
			return nil
		}

		if pruneInternal(cell, c.constraints) {
			continue
		}
		child, err := c.tree.cache.acquire(ctx, uint64(cell.Rowid), top.node)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, frame{node: child, height: top.height - 1})
	}
	c.node, c.eof = nil, true
	return nil
}

// pruneInternal applies spec section 4.E's internal pruning tests to an
// internal cell's bounding box.
func pruneInternal(cell Cell, constraints []decodedConstraint) bool {
	for _, dc := range constraints {
		if dc.op == OpMatch {
			res, err := dc.pred.invoke(dc.geom, cell.Coords)
			if err != nil || res == ResultDisjoint {
				return true
			}
			continue
		}
		dim := dc.col / 2
		if dim >= cell.dims() {
			continue
		}
		lo, hi := cell.Lo(dim), cell.Hi(dim)
		switch dc.op {
		case OpLE, OpLT:
			if dc.value < lo {
				return true
			}
		case OpGE, OpGT:
			if dc.value > hi {
				return true
			}
		case OpEQ:
			if dc.value < lo || dc.value > hi {
				return true
			}
		}
	}
	return false
}

// pruneLeaf applies spec section 4.E's exact leaf tests against the
// concrete coordinate at the queried column.
func pruneLeaf(cell Cell, constraints []decodedConstraint) bool {
	for _, dc := range constraints {
		if dc.op == OpMatch {
			res, err := dc.pred.invoke(dc.geom, cell.Coords)
			if err != nil || res == ResultDisjoint {
				return true
			}
			continue
		}
		dim := dc.col / 2
		if dim >= cell.dims() {
			continue
		}
		var v WideCoord
		if dc.col%2 == 0 {
			v = cell.Lo(dim)
		} else {
			v = cell.Hi(dim)
		}
		switch dc.op {
		case OpEQ:
			if v != dc.value {
				return true
			}
		case OpLE:
			if v > dc.value {
				return true
			}
		case OpLT:
			if v >= dc.value {
				return true
			}
		case OpGE:
			if v < dc.value {
				return true
			}
		case OpGT:
			if v <= dc.value {
				return true
			}
		}
	}
	return false
}

// Next advances the cursor (spec section 4.E Next): strategy 1 always goes
// straight to EOF; strategy 2 advances past the current cell and resumes
// scanning, ascending through dead ends as needed.
func (c *Cursor) Next(ctx context.Context) error {
	if c.eof {
		return nil
	}
	if c.strategy == 1 {
		if err := c.tree.cache.release(ctx, c.node); err != nil {
			return err
		}
		c.node, c.eof = nil, true
		return nil
	}

	c.node = nil
	return c.advance(ctx)
}

// EOF reports whether the cursor has been exhausted.
func (c *Cursor) EOF() bool { return c.eof }

// Column returns column i (0 = rowid alias, 1..2N = coordinates) of the
// cursor's current row.
func (c *Cursor) Column(i int) (Value, error) {
	if c.eof || c.node == nil {
		return Value{}, errCorruption("Column called on exhausted cursor", nil)
	}
	cell := c.node.cell(c.iCell, c.tree.cfg)
	if i == 0 {
		return Value{IsRowid: true, Rowid: cell.Rowid}, nil
	}
	idx := i - 1
	if idx < 0 || idx >= cell.dims()*2 {
		return Value{}, errConstraint(fmt.Sprintf("column index %d out of range", i), nil)
	}
	return Value{Coord: cell.Coords[idx]}, nil
}

// Rowid returns the current row's hidden rowid (spec section 6, `rowid`).
func (c *Cursor) Rowid() (int64, error) {
	if c.eof || c.node == nil {
		return 0, errCorruption("Rowid called on exhausted cursor", nil)
	}
	return c.node.cell(c.iCell, c.tree.cfg).Rowid, nil
}

// Close releases the cursor's held nodes and tears down every MATCH
// constraint's geometry state (spec section 4.I: "on cursor close, any
// user-defined destructor on the geometry state is invoked"). For strategy
// 2, c.node is the same object as the top stack frame (advance sets it
// without popping), so only the stack is released; strategy 1 holds its
// leaf outside any stack and is released directly.
func (c *Cursor) Close(ctx context.Context) error {
	for _, dc := range c.constraints {
		if dc.op == OpMatch && dc.pred != nil {
			dc.pred.close(dc.geom)
		}
	}
	var firstErr error
	for _, f := range c.stack {
		if err := c.tree.cache.release(ctx, f.node); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.stack = nil
	if c.strategy == 1 && c.node != nil {
		if err := c.tree.cache.release(ctx, c.node); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.node = nil
	return firstErr
}
