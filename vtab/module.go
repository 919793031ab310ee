// Package vtab realizes the "virtual-table callback surface" spec.md treats
// as opaque host-defined behavior: a thin Module/Table/Cursor layer over
// internal/rtree.Index so the core engine has a caller that compiles and
// can be driven end to end without a real host database attached.
package vtab

import (
	"context"

	"go.uber.org/zap"

	"rtreevtab/internal/rtree"
)

// ModuleAPI is spec section 6's create/connect callback group.
type ModuleAPI interface {
	Create(ctx context.Context, host rtree.SchemaHost, args []string) (Table, error)
	Connect(ctx context.Context, host rtree.SchemaHost, args []string) (Table, error)
}

// Module is one registered rtree module: a fixed coordinate representation
// and set of R* behaviors shared by every table created or connected
// through it, mirroring how a host registers "rtree" and an int32 variant
// as two distinct modules rather than a per-table option.
type Module struct {
	CoordKind     rtree.CoordKind
	ForceReinsert bool
	Compress      bool
	HostPageSize  int
	Log           *zap.Logger
}

var _ ModuleAPI = (*Module)(nil)

// New builds a Module with the given fixed configuration.
func New(coordKind rtree.CoordKind, forceReinsert, compress bool, hostPageSize int, log *zap.Logger) *Module {
	return &Module{
		CoordKind:     coordKind,
		ForceReinsert: forceReinsert,
		Compress:      compress,
		HostPageSize:  hostPageSize,
		Log:           log,
	}
}

// Create implements spec section 4.H's Create over a freshly provisioned
// set of backing tables.
func (m *Module) Create(ctx context.Context, host rtree.SchemaHost, args []string) (Table, error) {
	idx, schema, err := rtree.Create(ctx, host, args, rtree.CreateOptions{
		CoordKind:     m.CoordKind,
		ForceReinsert: m.ForceReinsert,
		Compress:      m.Compress,
		HostPageSize:  m.HostPageSize,
		Log:           m.Log,
	})
	if err != nil {
		return nil, err
	}
	return &rtreeTable{idx: idx, host: host, schema: schema, name: args[2]}, nil
}

// Connect implements spec section 4.H's Connect over an already-existing
// set of backing tables.
func (m *Module) Connect(ctx context.Context, host rtree.SchemaHost, args []string) (Table, error) {
	idx, schema, err := rtree.Connect(ctx, host, args, rtree.ConnectOptions{
		CoordKind:     m.CoordKind,
		ForceReinsert: m.ForceReinsert,
		Log:           m.Log,
	})
	if err != nil {
		return nil, err
	}
	return &rtreeTable{idx: idx, host: host, schema: schema, name: args[2]}, nil
}
