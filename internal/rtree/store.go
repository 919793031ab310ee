package rtree

import (
	"context"

	"github.com/klauspost/compress/s2"
)

// Host is the backing-store adapter's view of the three tables the host
// database owns (%_node, %_rowid, %_parent — spec section 6), each backed
// by a prepared statement on the host side. It is the only interface the
// engine depends on to reach persistent storage; spec section 1(b) treats
// its implementation as opaque.
type Host interface {
	ReadNode(ctx context.Context, nodeNo uint64) (data []byte, ok bool, err error)
	InsertNode(ctx context.Context, nodeNo uint64, data []byte) (assigned uint64, err error)
	DeleteNode(ctx context.Context, nodeNo uint64) error

	ReadRowid(ctx context.Context, rowid int64) (nodeNo uint64, ok bool, err error)
	InsertRowid(ctx context.Context, rowid int64, nodeNo uint64) error
	DeleteRowid(ctx context.Context, rowid int64) error

	ReadParent(ctx context.Context, nodeNo uint64) (parentNodeNo uint64, ok bool, err error)
	InsertParent(ctx context.Context, nodeNo uint64, parentNodeNo uint64) error
	DeleteParent(ctx context.Context, nodeNo uint64) error
}

// Store is the stateless component C adapter: nine operations over a Host,
// transparently compressing/decompressing node pages when configured.
type Store struct {
	host Host
	cfg  *Config
}

func newStore(host Host, cfg *Config) *Store {
	return &Store{host: host, cfg: cfg}
}

func (s *Store) readNode(ctx context.Context, nodeNo uint64) ([]byte, bool, error) {
	raw, ok, err := s.host.ReadNode(ctx, nodeNo)
	if err != nil {
		return nil, false, errHost("read node", err)
	}
	if !ok {
		return nil, false, nil
	}
	if !s.cfg.Compress {
		return raw, true, nil
	}
	data, err := s2.Decode(nil, raw)
	if err != nil {
		return nil, false, errCorruption("decompress node page", err)
	}
	return data, true, nil
}

func (s *Store) insertNode(ctx context.Context, nodeNo uint64, data []byte) (uint64, error) {
	payload := data
	if s.cfg.Compress {
		payload = s2.Encode(nil, data)
	}
	assigned, err := s.host.InsertNode(ctx, nodeNo, payload)
	if err != nil {
		return 0, errHost("insert node", err)
	}
	return assigned, nil
}

func (s *Store) deleteNode(ctx context.Context, nodeNo uint64) error {
	if err := s.host.DeleteNode(ctx, nodeNo); err != nil {
		return errHost("delete node", err)
	}
	return nil
}

func (s *Store) readRowid(ctx context.Context, rowid int64) (uint64, bool, error) {
	nodeNo, ok, err := s.host.ReadRowid(ctx, rowid)
	if err != nil {
		return 0, false, errHost("read rowid map", err)
	}
	return nodeNo, ok, nil
}

func (s *Store) insertRowid(ctx context.Context, rowid int64, nodeNo uint64) error {
	if err := s.host.InsertRowid(ctx, rowid, nodeNo); err != nil {
		return errHost("insert rowid map", err)
	}
	return nil
}

func (s *Store) deleteRowid(ctx context.Context, rowid int64) error {
	if err := s.host.DeleteRowid(ctx, rowid); err != nil {
		return errHost("delete rowid map", err)
	}
	return nil
}

func (s *Store) readParent(ctx context.Context, nodeNo uint64) (uint64, bool, error) {
	parent, ok, err := s.host.ReadParent(ctx, nodeNo)
	if err != nil {
		return 0, false, errHost("read parent map", err)
	}
	return parent, ok, nil
}

func (s *Store) insertParent(ctx context.Context, nodeNo, parentNodeNo uint64) error {
	if err := s.host.InsertParent(ctx, nodeNo, parentNodeNo); err != nil {
		return errHost("insert parent map", err)
	}
	return nil
}

func (s *Store) deleteParent(ctx context.Context, nodeNo uint64) error {
	if err := s.host.DeleteParent(ctx, nodeNo); err != nil {
		return errHost("delete parent map", err)
	}
	return nil
}
