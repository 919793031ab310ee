package rtree

import (
	"context"
	"strings"

	"github.com/klauspost/compress/s2"
	"go.uber.org/zap"
)

// SchemaHost extends Host with the table-definition-level operations that
// Create/Rename/Destroy need (spec section 4.H): creating the three backing
// tables, renaming them atomically, and dropping them. A real database
// implements both Host and SchemaHost against its DDL surface; the
// in-memory test double satisfies SchemaHost trivially.
type SchemaHost interface {
	Host
	CreateTables(ctx context.Context, nodeTable, rowidTable, parentTable string) error
	RenameTables(ctx context.Context, old, new TableNames) error
	DropTables(ctx context.Context, nodeTable, rowidTable, parentTable string) error
}

// TableNames is the triple of backing-table names derived from a virtual
// table's own name (spec section 6: "%_node", "%_rowid", "%_parent").
type TableNames struct {
	Node, Rowid, Parent string
}

// BackingTableNames derives the three backing-table names from tableName.
func BackingTableNames(tableName string) TableNames {
	return TableNames{
		Node:   tableName + "_node",
		Rowid:  tableName + "_rowid",
		Parent: tableName + "_parent",
	}
}

// Schema is the parsed result of a create/connect argument list: the rowid
// alias column name and the 2N coordinate column names, in declaration
// order (spec section 4.H: "column 0 is the user rowid alias, then 2N
// coordinate columns named by the caller").
type Schema struct {
	RowidAlias string
	CoordNames []string
	Dims       int
}

// ParseColumns validates and decodes a create/connect argument list (spec
// section 6: "args[1]=dbName, args[2]=tableName, args[3..]=columnDecls").
// argc is the full args slice length, including the module/db/table name
// slots, per the bound "6 <= argc <= 2*N_MAX+4": with N dimensions a
// well-formed call always carries argc = 4+2N, which is the range's only
// even value for a given N, so the evenness check is really a defense
// against a malformed argv rather than a live constraint.
func ParseColumns(args []string) (Schema, error) {
	argc := len(args)
	if argc < 3 {
		return Schema{}, errConstraint("create/connect requires at least a database and table name", nil)
	}
	if argc < 6 {
		return Schema{}, errConstraint("Too few columns", nil)
	}
	if argc > 2*maxDims+4 {
		return Schema{}, errConstraint("Too many columns", nil)
	}
	if argc%2 != 0 {
		return Schema{}, errConstraint("Wrong number of columns", nil)
	}

	decls := args[3:]
	dims := (argc - 4) / 2
	if len(decls) != 1+2*dims {
		return Schema{}, errConstraint("Wrong number of columns", nil)
	}

	names := make([]string, len(decls))
	for i, d := range decls {
		names[i] = columnName(d)
	}
	return Schema{RowidAlias: names[0], CoordNames: names[1:], Dims: dims}, nil
}

// columnName strips a bare type affinity off a column declaration if the
// caller supplied one ("minx REAL" -> "minx"); the engine itself is
// indifferent to declared SQL types, only to position.
func columnName(decl string) string {
	decl = strings.TrimSpace(decl)
	if i := strings.IndexAny(decl, " \t"); i >= 0 {
		return decl[:i]
	}
	return decl
}

// CreateOptions carries the per-instance knobs Create needs beyond the
// column declarations: the coordinate representation, the R* behaviors,
// and the host's page size to derive a node size from.
type CreateOptions struct {
	CoordKind     CoordKind
	ForceReinsert bool
	Compress      bool
	HostPageSize  int
	Log           *zap.Logger
}

// Create implements spec section 4.H's Create: derive the node size from
// the host's page size, create the three backing tables, write a
// zero-filled row for node 1, and return the bound Index plus the parsed
// column schema for the caller to declare back to the host.
func Create(ctx context.Context, host SchemaHost, args []string, opts CreateOptions) (*Index, Schema, error) {
	schema, err := ParseColumns(args)
	if err != nil {
		return nil, Schema{}, err
	}

	names := BackingTableNames(args[2])
	if err := host.CreateTables(ctx, names.Node, names.Rowid, names.Parent); err != nil {
		return nil, Schema{}, errHost("create backing tables", err)
	}

	nodeSize := deriveNodeSize(opts.HostPageSize, schema.Dims)
	cfg := Config{
		Dims:          schema.Dims,
		CoordKind:     opts.CoordKind,
		NodeSize:      nodeSize,
		ForceReinsert: opts.ForceReinsert,
		Compress:      opts.Compress,
	}

	idx, err := Open(cfg, host, opts.Log)
	if err != nil {
		return nil, Schema{}, err
	}

	zeroRoot := newZeroNode(nodeSize)
	if _, err := idx.store.insertNode(ctx, 1, zeroRoot.data); err != nil {
		return nil, Schema{}, err
	}

	return idx, schema, nil
}

// ConnectOptions carries the per-instance knobs Connect needs: coordinate
// kind and R* behaviors are fixed at Create time and must be supplied
// again identically by the caller (the host is expected to have recorded
// them alongside the virtual table definition); node size and compression
// are instead re-derived from the stored node 1 page.
type ConnectOptions struct {
	CoordKind     CoordKind
	ForceReinsert bool
	Log           *zap.Logger
}

// Connect implements spec section 4.H's Connect: re-derive node size (and
// detect whether pages were compressed at Create) from the stored size of
// row 1 of "_node", then bind an Index over the existing backing tables.
func Connect(ctx context.Context, host SchemaHost, args []string, opts ConnectOptions) (*Index, Schema, error) {
	schema, err := ParseColumns(args)
	if err != nil {
		return nil, Schema{}, err
	}

	raw, ok, err := host.ReadNode(ctx, 1)
	if err != nil {
		return nil, Schema{}, errHost("read node 1 during connect", err)
	}
	if !ok {
		return nil, Schema{}, errCorruption("backing store has no node 1 row", nil)
	}
	nodeSize, compressed := probeNodeSize(raw)

	cfg := Config{
		Dims:          schema.Dims,
		CoordKind:     opts.CoordKind,
		NodeSize:      nodeSize,
		ForceReinsert: opts.ForceReinsert,
		Compress:      compressed,
	}

	idx, err := Open(cfg, host, opts.Log)
	if err != nil {
		return nil, Schema{}, err
	}
	return idx, schema, nil
}

// probeNodeSize infers whether node pages were written compressed: if the
// stored bytes decode as a valid s2 frame into something larger than the
// frame itself, Create must have compressed them, and the decoded length
// is the real node size; otherwise the stored bytes are the page verbatim.
func probeNodeSize(raw []byte) (size int, compressed bool) {
	if decoded, err := s2.Decode(nil, raw); err == nil && len(decoded) > len(raw) {
		return len(decoded), true
	}
	return len(raw), false
}

// Rename implements spec section 4.H's Rename: rewrite the three backing
// table names atomically.
func Rename(ctx context.Context, host SchemaHost, oldTableName, newTableName string) error {
	old := BackingTableNames(oldTableName)
	renamed := BackingTableNames(newTableName)
	if err := host.RenameTables(ctx, old, renamed); err != nil {
		return errHost("rename backing tables", err)
	}
	return nil
}

// Destroy implements spec section 4.H's Destroy: drop the three backing
// tables. t.Teardown must have already been awaited by the caller so no
// cursor is still pinning a node when the tables disappear.
func Destroy(ctx context.Context, host SchemaHost, tableName string) error {
	names := BackingTableNames(tableName)
	if err := host.DropTables(ctx, names.Node, names.Rowid, names.Parent); err != nil {
		return errHost("drop backing tables", err)
	}
	return nil
}
