package rtree

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// maxBusySlots bounds the nBusy counter from spec section 5: the instance
// itself plus every outstanding cursor takes one slot, and teardown blocks
// until it can reclaim every slot except the instance's own.
const maxBusySlots = 1 << 20

// Stats are the observable counters spec section 4.F/4.G expects a test to
// be able to watch instead of reaching into private state.
type Stats struct {
	mu        sync.Mutex
	Splits    int64
	Reinserts int64
	Condenses int64
	CacheHits int64
	CacheMiss int64
}

func (s *Stats) incr(field *int64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Splits: s.Splits, Reinserts: s.Reinserts, Condenses: s.Condenses, CacheHits: s.CacheHits, CacheMiss: s.CacheMiss}
}

// Index is the top-level spatial-index engine instance: one per virtual
// table connection, owning the node cache, the backing-store adapter, the
// predicate registry and the busy-counter teardown protocol.
type Index struct {
	cfg      *Config
	cache    *cache
	store    *Store
	log      *zap.Logger
	registry *predicateRegistry
	stats    Stats
	busy     *semaphore.Weighted
}

// Open wires an Index over an already-created or already-connected set of
// backing tables (spec section 4.H, Create/Connect). Create and Connect in
// lifecycle.go provision or probe the backing tables and then call Open;
// Open itself just binds the runtime object.
func Open(cfg Config, host Host, log *zap.Logger) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Index{
		cfg:  &cfg,
		log:  log,
		busy: semaphore.NewWeighted(maxBusySlots),
	}
	idx.store = newStore(host, idx.cfg)
	idx.cache = newCache(idx.cfg, idx.store, log, &idx.stats)
	idx.registry = newPredicateRegistry()

	if err := idx.busy.Acquire(context.Background(), 1); err != nil {
		return nil, errOOM("acquire instance busy slot", err)
	}
	return idx, nil
}

// Config returns a copy of the index's configuration.
func (t *Index) Config() Config { return *t.cfg }

// Stats returns a snapshot of the observable counters.
func (t *Index) Stats() Stats { return t.stats.Snapshot() }

// Registry exposes the predicate registry for MATCH callback registration.
func (t *Index) Registry() *predicateRegistry { return t.registry }

// RowidExists reports whether rowid already has a row, the check spec
// section 6's update contract needs ("if new rowid already exists: REPLACE
// conflict policy deletes the old row first; any other policy -> CONSTRAINT").
func (t *Index) RowidExists(ctx context.Context, rowid int64) (bool, error) {
	_, ok, err := t.store.readRowid(ctx, rowid)
	return ok, err
}

// AcquireCursorSlot and ReleaseCursorSlot implement the nBusy protocol: open
// cursors each hold a slot; Close (or eventual teardown) releases it.
func (t *Index) AcquireCursorSlot(ctx context.Context) error {
	if err := t.busy.Acquire(ctx, 1); err != nil {
		return errOOM("acquire cursor busy slot", err)
	}
	return nil
}

func (t *Index) ReleaseCursorSlot() {
	t.busy.Release(1)
}

// Teardown blocks until every outstanding cursor has released its slot, then
// returns; the instance's own slot stays held. Call before Destroy/disconnect.
func (t *Index) Teardown(ctx context.Context) error {
	const remaining = maxBusySlots - 1 // instance's own slot, acquired in Open, stays held
	if err := t.busy.Acquire(ctx, remaining); err != nil {
		return errOOM("await quiescence", err)
	}
	t.busy.Release(remaining)
	return nil
}
