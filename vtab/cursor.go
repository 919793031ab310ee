package vtab

import (
	"context"

	"rtreevtab/internal/rtree"
)

// ValueKind tags a Value's active field, standing in for the dynamic typing
// a host's argv/column value carries (spec section 6).
type ValueKind int

const (
	ValueInt ValueKind = iota
	ValueFloat
	ValueBlob
)

// Value is one argv entry bound into Filter, or one column read back from
// Column — an int64 rowid, a wide coordinate, or a MATCH argument blob.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float rtree.WideCoord
	Blob  []byte
}

func fromEngineValue(v rtree.Value) Value {
	if v.IsRowid {
		return Value{Kind: ValueInt, Int: v.Rowid}
	}
	return Value{Kind: ValueFloat, Float: v.Coord}
}

// Cursor is spec section 6's cursor callback group.
type Cursor interface {
	Filter(ctx context.Context, idxNum int, idxStr string, argv []Value) error
	Next(ctx context.Context) error
	EOF() bool
	Column(i int) (Value, error)
	Rowid() (int64, error)
	Close() error
}

// rtreeCursor is Cursor's only implementation: a wrapper around
// internal/rtree.Cursor that translates the host's idxStr string and
// untyped argv into the engine's strategy/coordinate/MATCH-blob arguments.
type rtreeCursor struct {
	table *rtreeTable
	cur   *rtree.Cursor
}

var _ Cursor = (*rtreeCursor)(nil)

// Filter implements spec section 6's filter(idxNum, idxStr, argv): idxNum 1
// is the direct rowid lookup, argv[0] its rowid; idxNum 2 walks idxStr's
// (opByte, colByte) pairs, pulling each pair's bound value off argv in
// order and routing MATCH operators to the blob list instead.
func (c *rtreeCursor) Filter(ctx context.Context, idxNum int, idxStr string, argv []Value) error {
	if idxNum == 1 {
		var rowidArg int64
		if len(argv) > 0 {
			rowidArg = argv[0].Int
		}
		return c.cur.Filter(ctx, 1, nil, rowidArg, nil, nil)
	}

	raw := []byte(idxStr)
	var coordArgs []rtree.WideCoord
	var matchArgs [][]byte
	ai := 0
	for i := 0; i+1 < len(raw); i += 2 {
		if ai >= len(argv) {
			break
		}
		if rtree.ConstraintOp(raw[i]) == rtree.OpMatch {
			matchArgs = append(matchArgs, argv[ai].Blob)
		} else {
			coordArgs = append(coordArgs, argv[ai].Float)
		}
		ai++
	}
	return c.cur.Filter(ctx, 2, raw, 0, coordArgs, matchArgs)
}

// Next implements spec section 6's next.
func (c *rtreeCursor) Next(ctx context.Context) error { return c.cur.Next(ctx) }

// EOF implements spec section 6's eof.
func (c *rtreeCursor) EOF() bool { return c.cur.EOF() }

// Column implements spec section 6's column(i, ctx).
func (c *rtreeCursor) Column(i int) (Value, error) {
	v, err := c.cur.Column(i)
	if err != nil {
		return Value{}, err
	}
	return fromEngineValue(v), nil
}

// Rowid implements spec section 6's rowid.
func (c *rtreeCursor) Rowid() (int64, error) { return c.cur.Rowid() }

// Close releases the cursor's held nodes and its busy slot. Hosts close
// cursors without a request-scoped context, so release runs against a
// background one, matching the teardown-time release path.
func (c *rtreeCursor) Close() error {
	defer c.table.idx.ReleaseCursorSlot()
	return c.cur.Close(context.Background())
}
