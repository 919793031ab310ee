package vtab

import (
	"context"
	"fmt"
	"strings"

	"rtreevtab/internal/rtree"
)

// Constraint is one entry the host's query planner offers BestIndex (spec
// section 6): Column 0 is the rowid alias, 1..2N are the coordinate columns
// in declaration order.
type Constraint struct {
	Column int
	Op     rtree.ConstraintOp
	Usable bool
}

// IndexPlan is BestIndex's answer: which strategy the host should drive
// Filter with, and the idxStr it must hand back unchanged.
type IndexPlan struct {
	IdxNum        int
	IdxStr        string
	Cost          float64
	EstimatedRows int64
}

// ConflictPolicy mirrors the host's conflict-resolution clause on an
// INSERT/UPDATE against the virtual table (spec section 6).
type ConflictPolicy int

const (
	ConflictAbort ConflictPolicy = iota
	ConflictReplace
)

// Table is one connected or created virtual table instance, the shape spec
// section 6's bulleted callback list reduces to once create/connect have
// already run.
type Table interface {
	BestIndex(cs []Constraint) (IndexPlan, error)
	Open(ctx context.Context) (Cursor, error)
	Update(ctx context.Context, oldRowid, newRowid *int64, coords []rtree.WideCoord, conflict ConflictPolicy) error
	Rename(ctx context.Context, newName string) error
	Destroy(ctx context.Context) error

	// DeclarationSQL and Index are introspection helpers beyond the host
	// callback surface: the former is what a real host would feed its
	// declare-vtab call, the latter lets diagnostics and tests reach the
	// wrapped engine directly.
	DeclarationSQL() string
	Index() *rtree.Index
}

// rtreeTable is Table's only implementation: an engine index plus the
// schema column names the host declared it against.
type rtreeTable struct {
	idx    *rtree.Index
	host   rtree.SchemaHost
	schema rtree.Schema
	name   string
}

var _ Table = (*rtreeTable)(nil)

// DeclarationSQL returns the column list the host should declare this
// table's schema with (spec section 4.H: "column 0 is the user rowid
// alias, then 2N coordinate columns named by the caller").
func (t *rtreeTable) DeclarationSQL() string {
	cols := make([]string, 0, 1+len(t.schema.CoordNames))
	cols = append(cols, t.schema.RowidAlias)
	cols = append(cols, t.schema.CoordNames...)
	return fmt.Sprintf("CREATE TABLE x(%s)", strings.Join(cols, ", "))
}

// Index exposes the wrapped engine for diagnostics and tests.
func (t *rtreeTable) Index() *rtree.Index { return t.idx }

// BestIndex implements spec section 4.E's strategy selection over the
// host's constraint list, translating between the vtab layer's
// 0=rowid/1..2N=coordinate column numbering and the engine's own.
func (t *rtreeTable) BestIndex(cs []Constraint) (IndexPlan, error) {
	raw := make([]rtree.RawConstraint, len(cs))
	for i, c := range cs {
		col := rtree.RowidColumn
		if c.Column != 0 {
			col = c.Column - 1
		}
		raw[i] = rtree.RawConstraint{Op: c.Op, Column: col, Usable: c.Usable}
	}
	plan := t.idx.BestIndex(raw)
	return IndexPlan{
		IdxNum:        plan.Strategy,
		IdxStr:        string(plan.IdxStr),
		Cost:          plan.Cost,
		EstimatedRows: plan.EstimatedRows,
	}, nil
}

// Open begins a new cursor, taking a busy slot for the duration (spec
// section 5's nBusy protocol).
func (t *rtreeTable) Open(ctx context.Context) (Cursor, error) {
	if err := t.idx.AcquireCursorSlot(ctx); err != nil {
		return nil, err
	}
	return &rtreeCursor{table: t, cur: t.idx.OpenCursor()}, nil
}

// Update implements spec section 6's update contract: argv[0] is the old
// rowid (nil for a pure insert), argv[1] the new rowid (nil for a pure
// delete), coords the 2N interleaved bounds for an insert or update. The new
// row's shape and bounds, and any duplicate-rowid conflict, are resolved
// before the old row is touched, so a rejected update leaves the table
// untouched instead of deleting the old row on the way to a Constraint error.
func (t *rtreeTable) Update(ctx context.Context, oldRowid, newRowid *int64, coords []rtree.WideCoord, conflict ConflictPolicy) error {
	if newRowid == nil {
		if oldRowid == nil {
			return nil
		}
		return t.idx.Delete(ctx, *oldRowid)
	}

	if len(coords) != 2*t.schema.Dims {
		return rtree.NewConstraintError(fmt.Sprintf("expected %d coordinates, got %d", 2*t.schema.Dims, len(coords)))
	}
	cell := rtree.Cell{Rowid: *newRowid, Coords: append([]rtree.WideCoord(nil), coords...)}
	if err := cell.Validate(); err != nil {
		return err
	}

	sameRow := oldRowid != nil && *oldRowid == *newRowid
	conflictExists := false
	if !sameRow {
		exists, err := t.idx.RowidExists(ctx, *newRowid)
		if err != nil {
			return err
		}
		if exists {
			if conflict != ConflictReplace {
				return rtree.NewConstraintError(fmt.Sprintf("rowid %d already exists", *newRowid))
			}
			conflictExists = true
		}
	}

	if oldRowid != nil {
		if err := t.idx.Delete(ctx, *oldRowid); err != nil {
			return err
		}
	}
	if conflictExists {
		if err := t.idx.Delete(ctx, *newRowid); err != nil {
			return err
		}
	}

	return t.idx.Insert(ctx, cell)
}

// Rename implements spec section 4.H's Rename.
func (t *rtreeTable) Rename(ctx context.Context, newName string) error {
	if err := rtree.Rename(ctx, t.host, t.name, newName); err != nil {
		return err
	}
	t.name = newName
	return nil
}

// Destroy implements spec section 4.H's Destroy: wait for every outstanding
// cursor to close, then drop the backing tables.
func (t *rtreeTable) Destroy(ctx context.Context) error {
	if err := t.idx.Teardown(ctx); err != nil {
		return err
	}
	return rtree.Destroy(ctx, t.host, t.name)
}
