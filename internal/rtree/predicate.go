package rtree

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// matchBlobMagic identifies a well-formed MATCH argument blob (spec section
// 4.I / 6, "MATCH blob layout").
const matchBlobMagic uint32 = 0x891245AB

// matchBlobHeaderSize is magic(4) + handle(8) + argCount(4).
const matchBlobHeaderSize = 4 + 8 + 4

// WithinResult is a geometry callback's verdict on a candidate cell.
type WithinResult int

const (
	ResultWithin WithinResult = iota
	ResultOverlap
	ResultDisjoint
)

// GeomState is the per-cursor context a registered predicate operates over:
// the arguments supplied on the right-hand side of MATCH, plus whatever the
// predicate's own Init produced from them.
type GeomState struct {
	Args    []WideCoord
	User    interface{}
	closed  bool
}

// GeomCallback evaluates a candidate cell's coordinate vector against a
// geometry state, reporting within/overlap/disjoint (spec section 4.I).
type GeomCallback func(state *GeomState, coords []WideCoord) (WithinResult, error)

// GeomInit builds the per-cursor User context from the MATCH arguments,
// called once when a cursor's MATCH constraint is deserialized.
type GeomInit func(args []WideCoord) (interface{}, error)

// GeomDestructor releases a GeomState's User context on cursor close.
type GeomDestructor func(user interface{})

type registeredPredicate struct {
	name    string
	handle  uint64
	init    GeomInit
	cb      GeomCallback
	destroy GeomDestructor
}

// predicateRegistry maps MATCH callback handles to registered geometry
// predicates (spec section 4.I).
type predicateRegistry struct {
	mu       sync.RWMutex
	byName   map[string]*registeredPredicate
	byHandle map[uint64]*registeredPredicate
	next     uint64
}

func newPredicateRegistry() *predicateRegistry {
	return &predicateRegistry{
		byName:   map[string]*registeredPredicate{},
		byHandle: map[uint64]*registeredPredicate{},
	}
}

// Register installs a named geometry predicate, returning the opaque handle
// that fills the role of the "callback pointer" field in the MATCH blob
// wire format: Go values have no stable address to serialize, so a handle
// assigned at registration time stands in for it.
func (r *predicateRegistry) Register(name string, init GeomInit, cb GeomCallback, destroy GeomDestructor) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	p := &registeredPredicate{name: name, handle: r.next, init: init, cb: cb, destroy: destroy}
	r.byName[name] = p
	r.byHandle[p.handle] = p
	return p.handle
}

func (r *predicateRegistry) lookup(handle uint64) (*registeredPredicate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byHandle[handle]
	return p, ok
}

// HandleByName resolves a registered predicate's handle, for callers
// constructing a MATCH blob (e.g. a test or the vtab scalar-function glue).
func (r *predicateRegistry) HandleByName(name string) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return p.handle, true
}

// EncodeMatchBlob marshals a handle and its arguments into the wire layout
// a MATCH right-hand side evaluates to (spec section 4.I / 6).
func EncodeMatchBlob(handle uint64, args []WideCoord) []byte {
	buf := make([]byte, matchBlobHeaderSize+8*len(args))
	binary.BigEndian.PutUint32(buf[0:4], matchBlobMagic)
	binary.BigEndian.PutUint64(buf[4:12], handle)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(args)))
	for i, a := range args {
		binary.BigEndian.PutUint64(buf[16+8*i:24+8*i], math.Float64bits(a))
	}
	return buf
}

// decodeMatchBlob validates and unmarshals a MATCH argument blob, rejecting
// wrong magic or a size mismatch against the declared argument count as a
// Constraint error (spec section 7).
func decodeMatchBlob(b []byte) (handle uint64, args []WideCoord, err error) {
	if len(b) < matchBlobHeaderSize {
		return 0, nil, errConstraint("MATCH blob too small for header", nil)
	}
	magic := binary.BigEndian.Uint32(b[0:4])
	if magic != matchBlobMagic {
		return 0, nil, errConstraint(fmt.Sprintf("MATCH blob has wrong magic 0x%08x", magic), nil)
	}
	handle = binary.BigEndian.Uint64(b[4:12])
	nArgs := int(int32(binary.BigEndian.Uint32(b[12:16])))
	if nArgs < 0 {
		return 0, nil, errConstraint("MATCH blob has negative argument count", nil)
	}
	want := matchBlobHeaderSize + 8*nArgs
	if len(b) != want {
		return 0, nil, errConstraint(fmt.Sprintf("MATCH blob size %d does not match header (want %d)", len(b), want), nil)
	}
	args = make([]WideCoord, nArgs)
	for i := range args {
		bits := binary.BigEndian.Uint64(b[16+8*i : 24+8*i])
		args[i] = math.Float64frombits(bits)
	}
	return handle, args, nil
}

// newGeomState resolves handle in the registry and runs its Init over args,
// producing the per-cursor state the query engine will repeatedly invoke
// through descent and leaf filtering.
func (r *predicateRegistry) newGeomState(handle uint64, args []WideCoord) (*GeomState, *registeredPredicate, error) {
	p, ok := r.lookup(handle)
	if !ok {
		return nil, nil, errConstraint(fmt.Sprintf("MATCH blob references unregistered handle %d", handle), nil)
	}
	st := &GeomState{Args: args}
	if p.init != nil {
		user, err := p.init(args)
		if err != nil {
			return nil, nil, errHost("geometry predicate init", err)
		}
		st.User = user
	}
	return st, p, nil
}

// invoke runs p's callback against coords, propagating callback errors as
// HostError (spec section 7).
func (p *registeredPredicate) invoke(st *GeomState, coords []WideCoord) (WithinResult, error) {
	res, err := p.cb(st, coords)
	if err != nil {
		return ResultDisjoint, errHost("geometry predicate callback", err)
	}
	return res, nil
}

// close invokes p's destructor on st, exactly once.
func (p *registeredPredicate) close(st *GeomState) {
	if st.closed {
		return
	}
	st.closed = true
	if p.destroy != nil {
		p.destroy(st.User)
	}
}
