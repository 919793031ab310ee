package rtree

import "github.com/pkg/errors"

// Kind classifies an engine error the way spec section 7 describes it.
type Kind int

const (
	KindOK Kind = iota
	KindOOM
	KindCorruption
	KindConstraint
	KindHostError
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindOOM:
		return "oom"
	case KindCorruption:
		return "corruption"
	case KindConstraint:
		return "constraint"
	case KindHostError:
		return "host-error"
	default:
		return "unknown"
	}
}

// Error is the engine's typed error. Every non-OK status bubbles out as one
// of these, wrapped exactly once at the layer that first detected it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, msg string, cause error) error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func errOOM(msg string, cause error) error {
	return newErr(KindOOM, msg, cause)
}

func errCorruption(msg string, cause error) error {
	return newErr(KindCorruption, msg, cause)
}

func errConstraint(msg string, cause error) error {
	return newErr(KindConstraint, msg, cause)
}

func errHost(msg string, cause error) error {
	return newErr(KindHostError, msg, cause)
}

// NewConstraintError builds a Constraint-kind error for callers outside the
// package (the vtab host-glue layer) that detect an update-contract
// violation the core engine never sees directly, such as a duplicate rowid
// under a non-REPLACE conflict policy.
func NewConstraintError(msg string) error {
	return errConstraint(msg, nil)
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
