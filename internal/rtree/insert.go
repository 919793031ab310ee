package rtree

import (
	"context"
	"fmt"
	"sort"
)

// insertOp carries the state of one top-level Insert call: the reinsertDone
// guard ensures R* forced reinsert fires at most once per height (spec
// section 4.F).
type insertOp struct {
	tree         *Index
	reinsertDone map[int]bool
}

// Insert adds cell to the tree, starting a fresh top-level operation.
func (t *Index) Insert(ctx context.Context, cell Cell) error {
	if err := cell.Validate(); err != nil {
		return err
	}
	op := &insertOp{tree: t, reinsertDone: map[int]bool{}}
	return op.insertAtHeight(ctx, cell, 0)
}

// insertAtHeight descends from the root to the given height via
// ChooseSubtree and inserts cell there. Used both by top-level Insert
// (height 0) and by Reinsert/condense-orphan reinsertion (arbitrary height).
func (op *insertOp) insertAtHeight(ctx context.Context, cell Cell, targetHeight int) error {
	root, err := op.tree.cache.acquire(ctx, 1, nil)
	if err != nil {
		return err
	}
	target, err := op.chooseSubtree(ctx, root, cell, targetHeight)
	if err != nil {
		_ = op.tree.cache.release(ctx, root)
		return err
	}
	return op.rtreeInsertCell(ctx, target, cell, targetHeight)
}

// chooseSubtree descends from cur (already acquired, unparented) down to
// targetHeight, releasing its own transient hold at each level once the
// child has taken over the parent reference (spec section 4.F,
// ChooseLeaf/ChooseSubtree).
func (op *insertOp) chooseSubtree(ctx context.Context, cur *node, cell Cell, targetHeight int) (*node, error) {
	cfg := op.tree.cfg
	height := int(op.tree.cache.depth)
	for height > targetHeight {
		idx, err := pickChild(cfg, cur, cell, height)
		if err != nil {
			_ = op.tree.cache.release(ctx, cur)
			return nil, err
		}
		childNo := uint64(cur.rowidAt(idx, cfg))
		child, err := op.tree.cache.acquire(ctx, childNo, cur)
		if err != nil {
			_ = op.tree.cache.release(ctx, cur)
			return nil, err
		}
		if err := op.tree.cache.release(ctx, cur); err != nil {
			return nil, err
		}
		cur = child
		height--
	}
	return cur, nil
}

// pickChild implements the R* ChooseSubtree rule: at the leaf-parent level
// minimize overlap enlargement (ties: area growth, then area); at every
// other level minimize area growth (ties: current area).
func pickChild(cfg *Config, cur *node, cell Cell, height int) (uint16, error) {
	n := cur.cellCount()
	if n == 0 {
		return 0, errCorruption("internal node has no cells to descend into", nil)
	}
	cells := make([]Cell, n)
	for i := uint16(0); i < n; i++ {
		cells[i] = cur.cell(i, cfg)
	}

	if height == 1 {
		best := -1
		var bestOv, bestGrowth, bestArea WideCoord
		for i, c := range cells {
			ov := overlapEnlargement(c, cell, cells, i)
			gr := growth(c, cell)
			ar := area(c)
			if best < 0 || ov < bestOv ||
				(ov == bestOv && gr < bestGrowth) ||
				(ov == bestOv && gr == bestGrowth && ar < bestArea) {
				best, bestOv, bestGrowth, bestArea = i, ov, gr, ar
			}
		}
		return uint16(best), nil
	}

	best := -1
	var bestGrowth, bestArea WideCoord
	for i, c := range cells {
		gr := growth(c, cell)
		ar := area(c)
		if best < 0 || gr < bestGrowth || (gr == bestGrowth && ar < bestArea) {
			best, bestGrowth, bestArea = i, gr, ar
		}
	}
	return uint16(best), nil
}

// nodeInsertCell writes cell at position NCELL(node) if there is room.
// Returns full=true (without writing) if the node was already at M.
func nodeInsertCell(nd *node, cell Cell, cfg *Config) bool {
	if int(nd.cellCount()) >= cfg.M() {
		return true
	}
	idx := nd.cellCount()
	nd.setCell(idx, cell, cfg)
	nd.setCellCount(idx + 1)
	nd.dirty = true
	return false
}

// rtreeInsertCell is the heart of the insert path (spec section 4.F).
func (op *insertOp) rtreeInsertCell(ctx context.Context, cur *node, cell Cell, height int) error {
	cfg := op.tree.cfg

	if height > 0 {
		if child := op.tree.cache.find(uint64(cell.Rowid)); child != nil {
			if err := reattachParent(ctx, op.tree.cache, child, cur); err != nil {
				_ = op.tree.cache.release(ctx, cur)
				return err
			}
		}
	}

	full := nodeInsertCell(cur, cell, cfg)
	if !full {
		if err := adjustTree(cfg, cell, cur); err != nil {
			_ = op.tree.cache.release(ctx, cur)
			return err
		}
		var err error
		if height == 0 {
			err = op.tree.store.insertRowid(ctx, cell.Rowid, cur.nodeNo)
		} else {
			err = op.tree.store.insertParent(ctx, uint64(cell.Rowid), cur.nodeNo)
		}
		if err != nil {
			_ = op.tree.cache.release(ctx, cur)
			return err
		}
		return op.tree.cache.release(ctx, cur)
	}

	if op.tree.cfg.ForceReinsert && !op.reinsertDone[height] && cur.nodeNo != 1 {
		op.reinsertDone[height] = true
		return op.reinsert(ctx, cur, cell, height)
	}
	return op.splitNode(ctx, cur, cell, height)
}

// reattachParent moves child's parent pointer to newParent, releasing the
// old parent hold (which may itself cascade).
func reattachParent(ctx context.Context, c *cache, child, newParent *node) error {
	if child.parent == newParent {
		return nil
	}
	old := child.parent
	child.parent = nil
	if err := c.attachParent(child, newParent); err != nil {
		return err
	}
	if old != nil {
		return c.release(ctx, old)
	}
	return nil
}

// adjustTree walks from start upward, expanding each ancestor's pointer
// cell to cover box if it doesn't already.
func adjustTree(cfg *Config, box Cell, start *node) error {
	child := start
	anc := start.parent
	for anc != nil {
		idx, err := findChildIndex(anc, child.nodeNo, cfg)
		if err != nil {
			return err
		}
		ancCell := anc.cell(idx, cfg)
		if !contains(ancCell, box) {
			unionInto(&ancCell, box)
			anc.setCell(idx, ancCell, cfg)
			anc.dirty = true
		}
		child = anc
		anc = anc.parent
	}
	return nil
}

// findChildIndex locates the cell in anc whose rowid field equals
// childNodeNo (invariant 4 from spec section 3).
func findChildIndex(anc *node, childNodeNo uint64, cfg *Config) (uint16, error) {
	n := anc.cellCount()
	for i := uint16(0); i < n; i++ {
		if uint64(anc.rowidAt(i, cfg)) == childNodeNo {
			return i, nil
		}
	}
	return 0, errCorruption(fmt.Sprintf("node %d missing pointer cell for child %d", anc.nodeNo, childNodeNo), nil)
}

// collectAllCells gathers nodeFull's existing M cells plus extra into one
// slice of length M+1.
func collectAllCells(nodeFull *node, extra Cell, cfg *Config) []Cell {
	n := nodeFull.cellCount()
	all := make([]Cell, 0, int(n)+1)
	for i := uint16(0); i < n; i++ {
		all = append(all, nodeFull.cell(i, cfg))
	}
	all = append(all, extra)
	return all
}

// reinsert implements R* forced reinsert: the M+1-m cells nearest the
// node's center stay; the m farthest are pulled out and reinserted from
// the root at the same height.
func (op *insertOp) reinsert(ctx context.Context, nodeFull *node, newCell Cell, height int) error {
	cfg := op.tree.cfg
	all := collectAllCells(nodeFull, newCell, cfg)

	center := boundingBoxOf(all[:len(all)-1]) // node's box before the overflowing insert
	centerOf := func(c Cell) []WideCoord {
		pts := make([]WideCoord, c.dims())
		for i := range pts {
			pts[i] = (c.Lo(i) + c.Hi(i)) / 2
		}
		return pts
	}
	nodeCenter := centerOf(center)

	type distCell struct {
		cell Cell
		dist WideCoord
	}
	dc := make([]distCell, len(all))
	for i, c := range all {
		pt := centerOf(c)
		var d WideCoord
		for k := range pt {
			diff := pt[k] - nodeCenter[k]
			d += diff * diff
		}
		dc[i] = distCell{cell: c, dist: d}
	}
	sort.Slice(dc, func(i, j int) bool { return dc[i].dist < dc[j].dist })

	reinsertCount := cfg.m()
	keepCount := len(dc) - reinsertCount

	nodeFull.clear()
	nodeFull.setCellCount(0)
	for i := 0; i < keepCount; i++ {
		nodeInsertCell(nodeFull, dc[i].cell, cfg)
		if dc[i].cell.Rowid != newCell.Rowid {
			continue
		}
		// The new cell stays here, so its map row must point at this node.
		var err error
		if height == 0 {
			err = op.tree.store.insertRowid(ctx, newCell.Rowid, nodeFull.nodeNo)
		} else {
			err = op.tree.store.insertParent(ctx, uint64(newCell.Rowid), nodeFull.nodeNo)
		}
		if err != nil {
			_ = op.tree.cache.release(ctx, nodeFull)
			return err
		}
	}
	op.tree.cache.markDirty(nodeFull)

	if err := fixBoundingBox(cfg, nodeFull); err != nil {
		_ = op.tree.cache.release(ctx, nodeFull)
		return err
	}

	op.tree.stats.incr(&op.tree.stats.Reinserts)

	farthest := make([]Cell, 0, reinsertCount)
	for i := keepCount; i < len(dc); i++ {
		farthest = append(farthest, dc[i].cell)
	}

	if err := op.tree.cache.release(ctx, nodeFull); err != nil {
		return err
	}

	for _, c := range farthest {
		if err := op.insertAtHeight(ctx, c, height); err != nil {
			return err
		}
	}
	return nil
}

// fixBoundingBox recomputes the ancestor pointer cell for child to the
// tight union of child's current cells, then propagates upward.
func fixBoundingBox(cfg *Config, child *node) error {
	if child.parent == nil {
		return nil
	}
	box := tightBoxOf(child, cfg)
	idx, err := findChildIndex(child.parent, child.nodeNo, cfg)
	if err != nil {
		return err
	}
	box.Rowid = int64(child.nodeNo)
	child.parent.setCell(idx, box, cfg)
	child.parent.dirty = true
	return adjustTree(cfg, box, child.parent)
}

func tightBoxOf(nd *node, cfg *Config) Cell {
	n := nd.cellCount()
	cells := make([]Cell, n)
	for i := uint16(0); i < n; i++ {
		cells[i] = nd.cell(i, cfg)
	}
	return boundingBoxOf(cells)
}

func boundingBoxOf(cells []Cell) Cell {
	if len(cells) == 0 {
		return Cell{}
	}
	box := cells[0].clone()
	for _, c := range cells[1:] {
		unionInto(&box, c)
	}
	return box
}

// splitNode implements the R*-tree split algorithm (spec section 4.F).
func (op *insertOp) splitNode(ctx context.Context, nodeFull *node, newCell Cell, height int) error {
	cfg := op.tree.cfg
	all := collectAllCells(nodeFull, newCell, cfg)
	dims := cfg.Dims
	m := cfg.m()
	total := len(all)

	type axisResult struct {
		marginSum WideCoord
		bestK     int
		bestOv    WideCoord
		bestArea  WideCoord
		order     []Cell
	}

	results := make([]axisResult, dims)
	for d := 0; d < dims; d++ {
		order := make([]Cell, total)
		copy(order, all)
		sort.Slice(order, func(i, j int) bool {
			if order[i].Lo(d) != order[j].Lo(d) {
				return order[i].Lo(d) < order[j].Lo(d)
			}
			return order[i].Hi(d) < order[j].Hi(d)
		})

		var res axisResult
		res.order = order
		res.bestK = -1
		for k := m; k <= total-m; k++ {
			bL := boundingBoxOf(order[:k])
			bR := boundingBoxOf(order[k:])
			res.marginSum += margin(bL) + margin(bR)
			ov := intersectVolume(bL, bR)
			ar := area(bL) + area(bR)
			if res.bestK < 0 || ov < res.bestOv || (ov == res.bestOv && ar < res.bestArea) {
				res.bestK, res.bestOv, res.bestArea = k, ov, ar
			}
		}
		results[d] = res
	}

	bestDim := 0
	for d := 1; d < dims; d++ {
		if results[d].marginSum < results[bestDim].marginSum {
			bestDim = d
		}
	}
	chosen := results[bestDim]
	lCells := chosen.order[:chosen.bestK]
	rCells := chosen.order[chosen.bestK:]

	isRoot := nodeFull.nodeNo == 1
	var left, right *node
	var err error
	if isRoot {
		left, err = op.tree.cache.newNode(nil)
		if err != nil {
			return err
		}
		right, err = op.tree.cache.newNode(nil)
		if err != nil {
			_ = op.tree.cache.release(ctx, left)
			return err
		}
	} else {
		left = nodeFull
		left.clear()
		right, err = op.tree.cache.newNode(left.parent)
		if err != nil {
			return err
		}
	}

	for _, c := range lCells {
		nodeInsertCell(left, c, cfg)
	}
	for _, c := range rCells {
		nodeInsertCell(right, c, cfg)
	}
	op.tree.cache.markDirty(left)
	op.tree.cache.markDirty(right)

	if err := op.tree.cache.flush(ctx, left); err != nil {
		return err
	}
	if err := op.tree.cache.flush(ctx, right); err != nil {
		return err
	}

	updateMaps := func(cells []Cell, owner uint64) error {
		for _, c := range cells {
			if height == 0 {
				if err := op.tree.store.insertRowid(ctx, c.Rowid, owner); err != nil {
					return err
				}
				continue
			}
			if err := op.tree.store.insertParent(ctx, uint64(c.Rowid), owner); err != nil {
				return err
			}
			if child := op.tree.cache.find(uint64(c.Rowid)); child != nil {
				target := left
				if owner == right.nodeNo {
					target = right
				}
				if err := reattachParent(ctx, op.tree.cache, child, target); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := updateMaps(rCells, right.nodeNo); err != nil {
		return err
	}
	if isRoot {
		if err := updateMaps(lCells, left.nodeNo); err != nil {
			return err
		}
	} else {
		// left is the former node, so only the new cell can lack a map row
		// pointing at it.
		for _, c := range lCells {
			if c.Rowid == newCell.Rowid {
				if err := updateMaps([]Cell{c}, left.nodeNo); err != nil {
					return err
				}
				break
			}
		}
	}

	op.tree.stats.incr(&op.tree.stats.Splits)

	bL := boundingBoxOf(lCells)
	bL.Rowid = int64(left.nodeNo)
	bR := boundingBoxOf(rCells)
	bR.Rowid = int64(right.nodeNo)

	if isRoot {
		nodeFull.clear()
		newDepth := op.tree.cache.depth + 1
		nodeFull.setDepth(newDepth)
		op.tree.cache.depth = newDepth
		nodeInsertCell(nodeFull, bL, cfg)
		nodeInsertCell(nodeFull, bR, cfg)
		op.tree.cache.markDirty(nodeFull)
		for _, child := range []*node{left, right} {
			if err := op.tree.store.insertParent(ctx, child.nodeNo, nodeFull.nodeNo); err != nil {
				return err
			}
		}

		if err := op.tree.cache.attachParent(left, nodeFull); err != nil {
			return err
		}
		if err := op.tree.cache.attachParent(right, nodeFull); err != nil {
			return err
		}
		// left and right each still carry their own creation reference,
		// now redundant with the edge attachParent just added; drop it so
		// nodeFull's ref reflects only those two structural edges.
		if err := op.tree.cache.release(ctx, left); err != nil {
			_ = op.tree.cache.release(ctx, right)
			return err
		}
		if err := op.tree.cache.release(ctx, right); err != nil {
			return err
		}
		return op.tree.cache.release(ctx, nodeFull)
	}

	parent := left.parent
	if parent == nil {
		// left (== the former root-less top level node) had no parent: this
		// only happens if the tree has a single level, which the isRoot
		// branch above already handles. Defensive corruption guard.
		_ = op.tree.cache.release(ctx, left)
		_ = op.tree.cache.release(ctx, right)
		return errCorruption("non-root split target has no parent", nil)
	}
	// left and right each hold a structural edge on parent already; take an
	// extra transient reference of our own so parent survives the releases
	// below and can be handed to rtreeInsertCell, which owns and releases
	// exactly one reference on whatever node it's given.
	parent.ref++

	if err := op.tree.cache.release(ctx, right); err != nil {
		_ = op.tree.cache.release(ctx, left)
		_ = op.tree.cache.release(ctx, parent)
		return err
	}

	idx, err := findChildIndex(parent, left.nodeNo, cfg)
	if err != nil {
		_ = op.tree.cache.release(ctx, left)
		_ = op.tree.cache.release(ctx, parent)
		return err
	}
	parent.setCell(idx, bL, cfg)
	op.tree.cache.markDirty(parent)
	if err := adjustTree(cfg, bL, parent); err != nil {
		_ = op.tree.cache.release(ctx, left)
		_ = op.tree.cache.release(ctx, parent)
		return err
	}

	if err := op.tree.cache.release(ctx, left); err != nil {
		_ = op.tree.cache.release(ctx, parent)
		return err
	}

	return op.rtreeInsertCell(ctx, parent, bR, height+1)
}
