package rtree

import (
	"context"
	"fmt"
)

// pendingReinsert is one orphaned node's surviving cells, queued by condense
// for reinsertion from the root at the node's former height (spec section
// 4.G step 4, design notes: "(nodeBytes, height) pairs").
type pendingReinsert struct {
	cells  []Cell
	height int
}

// deleteOp carries the state of one top-level Delete call: the owning index
// and the queue of orphans condense produces. The root hold (kept live for
// the whole operation so depth stays known) is a local of Delete itself.
type deleteOp struct {
	tree    *Index
	orphans []pendingReinsert
}

// Delete removes the cell with rowid iDelete from the tree (spec section
// 4.G, rtreeDeleteRowid).
func (t *Index) Delete(ctx context.Context, iDelete int64) error {
	op := &deleteOp{tree: t}

	root, err := t.cache.acquire(ctx, 1, nil)
	if err != nil {
		return err
	}

	leafNo, ok, err := t.store.readRowid(ctx, iDelete)
	if err != nil {
		_ = t.cache.release(ctx, root)
		return err
	}
	if !ok {
		_ = t.cache.release(ctx, root)
		return errCorruption(fmt.Sprintf("rowid %d not present in rowid map", iDelete), nil)
	}

	var leaf *node
	if leafNo == root.nodeNo {
		leaf = root
	} else {
		leaf, err = t.cache.acquire(ctx, leafNo, nil)
		if err != nil {
			_ = t.cache.release(ctx, root)
			return err
		}
	}

	iCell, err := nodeRowidIndex(leaf, iDelete, t.cfg)
	if err != nil {
		_ = t.cache.release(ctx, leaf)
		if leaf != root {
			_ = t.cache.release(ctx, root)
		}
		return err
	}

	if err := op.deleteCell(ctx, leaf, iCell, 0); err != nil {
		_ = t.cache.release(ctx, leaf)
		if leaf != root {
			_ = t.cache.release(ctx, root)
		}
		return err
	}
	// deleteCell either condensed the leaf (already evicted from cache, so
	// this just balances its acquire-given ref) or tightened its ancestor
	// boxes in place (leaving the leaf itself still resident until now).
	if leaf != root {
		if err := t.cache.release(ctx, leaf); err != nil {
			_ = t.cache.release(ctx, root)
			return err
		}
	}

	if err := t.store.deleteRowid(ctx, iDelete); err != nil {
		_ = t.cache.release(ctx, root)
		return err
	}

	if root.depth() > 0 && root.cellCount() == 1 {
		if err := op.collapseRoot(ctx, root); err != nil {
			_ = t.cache.release(ctx, root)
			return err
		}
	}

	if err := op.drainOrphans(ctx); err != nil {
		_ = t.cache.release(ctx, root)
		return err
	}

	return t.cache.release(ctx, root)
}

// nodeRowidIndex linear-scans a leaf for the cell with the given rowid
// (spec section 4.G step 3).
func nodeRowidIndex(leaf *node, rowid int64, cfg *Config) (uint16, error) {
	n := leaf.cellCount()
	for i := uint16(0); i < n; i++ {
		if leaf.rowidAt(i, cfg) == rowid {
			return i, nil
		}
	}
	return 0, errCorruption(fmt.Sprintf("leaf node %d missing cell for rowid %d", leaf.nodeNo, rowid), nil)
}

// fixLeafParent walks from nd up the _parent map, acquiring and attaching
// every ancestor until it reaches one that already has a parent attached or
// the root, so the cache's parent chain is fully populated before deleteCell
// needs to walk it.
// A node already reachable a second time on the same walk is a reference
// cycle and is refused as corruption (spec section 4.G step 4, scenario 7).
func (op *deleteOp) fixLeafParent(ctx context.Context, nd *node) error {
	if nd.nodeNo == 1 || nd.parent != nil {
		return nil
	}

	visited := map[uint64]bool{nd.nodeNo: true}
	cur := nd
	for cur.parent == nil && cur.nodeNo != 1 {
		parentNo, ok, err := op.tree.store.readParent(ctx, cur.nodeNo)
		if err != nil {
			return err
		}
		if !ok {
			return errCorruption(fmt.Sprintf("node %d has no parent map entry", cur.nodeNo), nil)
		}
		if visited[parentNo] {
			return errCorruption(fmt.Sprintf("reference cycle detected at node %d", parentNo), nil)
		}
		visited[parentNo] = true

		parent, err := op.tree.cache.acquire(ctx, parentNo, nil)
		if err != nil {
			return err
		}
		if err := op.tree.cache.attachParent(cur, parent); err != nil {
			_ = op.tree.cache.release(ctx, parent)
			return err
		}
		// attachParent took its own reference on parent via the edge;
		// drop the transient acquire hold, mirroring chooseSubtree.
		if err := op.tree.cache.release(ctx, parent); err != nil {
			return err
		}
		cur = parent
	}
	return nil
}

// deleteCell removes the cell at idx from nd (at the given height), then
// either condenses an under-full non-root node or tightens ancestor boxes
// (spec section 4.G step 4).
func (op *deleteOp) deleteCell(ctx context.Context, nd *node, idx uint16, height int) error {
	cfg := op.tree.cfg

	if err := op.fixLeafParent(ctx, nd); err != nil {
		return err
	}

	n := nd.cellCount()
	b := cfg.bytesPerCell()
	lo := nd.cellOffset(idx, cfg)
	hi := nd.cellOffset(n, cfg)
	copy(nd.data[lo:], nd.data[lo+b:hi])
	nd.setCellCount(n - 1)
	op.tree.cache.markDirty(nd)

	if nd.nodeNo != 1 && int(nd.cellCount()) < cfg.m() {
		return op.removeNode(ctx, nd, height)
	}
	return fixBoundingBox(cfg, nd)
}

// removeNode excises nd from the tree: its parent's pointer cell is deleted
// (recursing into deleteCell one level up), its backing rows are dropped,
// it is evicted from the cache, and its surviving cells are queued for
// reinsertion at the same height (spec section 4.G step 4 / design notes).
func (op *deleteOp) removeNode(ctx context.Context, nd *node, height int) error {
	cfg := op.tree.cfg

	n := nd.cellCount()
	cells := make([]Cell, n)
	for i := uint16(0); i < n; i++ {
		cells[i] = nd.cell(i, cfg)
	}
	if len(cells) > 0 {
		op.orphans = append(op.orphans, pendingReinsert{cells: cells, height: height})
	}

	parent := nd.parent
	if parent == nil {
		return errCorruption(fmt.Sprintf("non-root node %d has no attached parent during condense", nd.nodeNo), nil)
	}
	idx, err := findChildIndex(parent, nd.nodeNo, cfg)
	if err != nil {
		return err
	}
	// Hold parent across the recursive deleteCell call, distinct from the
	// structural edge nd's parent pointer already carries (same discipline
	// as splitNode's handoff into rtreeInsertCell).
	parent.ref++
	if err := op.deleteCell(ctx, parent, idx, height+1); err != nil {
		_ = op.tree.cache.release(ctx, parent)
		return err
	}
	if err := op.tree.cache.release(ctx, parent); err != nil {
		return err
	}

	if err := op.tree.store.deleteNode(ctx, nd.nodeNo); err != nil {
		return err
	}
	if err := op.tree.store.deleteParent(ctx, nd.nodeNo); err != nil {
		return err
	}

	// nd is leaving the tree entirely: drop its own structural hold on
	// parent (the edge attachParent counted when nd was attached) before
	// severing the pointer, so parent's ref doesn't leak.
	nd.parent = nil
	if err := op.tree.cache.release(ctx, parent); err != nil {
		return err
	}

	nd.dirty = false
	op.tree.cache.remove(nd)
	op.tree.stats.incr(&op.tree.stats.Condenses)
	return nil
}

// collapseRoot pulls a depth>0 root's sole surviving child up into the root
// itself, decrementing depth (spec section 4.G step 6).
func (op *deleteOp) collapseRoot(ctx context.Context, root *node) error {
	cfg := op.tree.cfg
	childNo := uint64(root.rowidAt(0, cfg))
	child, err := op.tree.cache.acquire(ctx, childNo, root)
	if err != nil {
		return err
	}

	n := child.cellCount()
	cells := make([]Cell, n)
	for i := uint16(0); i < n; i++ {
		cells[i] = child.cell(i, cfg)
	}

	if err := op.removeNode(ctx, child, int(root.depth())-1); err != nil {
		_ = op.tree.cache.release(ctx, child)
		return err
	}
	// removeNode queued child's cells as orphans at height depth-1; they
	// belong in the root directly, one level up, so undo that queueing and
	// write them straight into root instead.
	op.orphans = op.orphans[:len(op.orphans)-1]

	if err := op.tree.cache.release(ctx, child); err != nil {
		return err
	}

	newDepth := root.depth() - 1
	root.clear()
	root.setDepth(newDepth)
	op.tree.cache.depth = newDepth
	for _, c := range cells {
		nodeInsertCell(root, c, cfg)
		if root.depth() > 0 {
			if err := op.tree.store.insertParent(ctx, uint64(c.Rowid), root.nodeNo); err != nil {
				return err
			}
			if gc := op.tree.cache.find(uint64(c.Rowid)); gc != nil {
				if err := reattachParent(ctx, op.tree.cache, gc, root); err != nil {
					return err
				}
			}
		} else {
			if err := op.tree.store.insertRowid(ctx, c.Rowid, root.nodeNo); err != nil {
				return err
			}
		}
	}
	op.tree.cache.markDirty(root)
	return nil
}

// drainOrphans reinserts every condensed node's surviving cells from the
// root, at each orphan's recorded height (spec section 4.G step 7).
func (op *deleteOp) drainOrphans(ctx context.Context) error {
	for _, orphan := range op.orphans {
		ins := &insertOp{tree: op.tree, reinsertDone: map[int]bool{}}
		for _, c := range orphan.cells {
			if err := ins.insertAtHeight(ctx, c, orphan.height); err != nil {
				return err
			}
		}
	}
	op.orphans = nil
	return nil
}
