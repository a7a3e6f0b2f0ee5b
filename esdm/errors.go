package esdm

import "fmt"

// Kind classifies an esdm error the way callers (and the RPC layer) need
// to distinguish: whether to retry, surface EAGAIN, or treat as fatal.
type Kind int

const (
	// KindInvalidArgument marks a caller-supplied argument that is
	// malformed or out of range.
	KindInvalidArgument Kind = iota
	// KindNotAvailable marks a service that has not reached the
	// operational state yet.
	KindNotAvailable
	// KindWouldBlock marks a non-blocking call that would otherwise wait.
	KindWouldBlock
	// KindTransient marks a failure the caller should expect to clear on
	// retry (RPC disconnect, a single failed seed attempt).
	KindTransient
	// KindPermission marks a privileged operation attempted without the
	// required access.
	KindPermission
	// KindFatal marks a failure that must not be retried (selftest
	// failure, allocation failure).
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotAvailable:
		return "not_available"
	case KindWouldBlock:
		return "would_block"
	case KindTransient:
		return "transient"
	case KindPermission:
		return "permission"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the error type returned across every esdm package boundary.
// It carries enough structure for callers to branch on Kind via
// errors.As, while still composing with fmt.Errorf("...: %w", err).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error, wrapping cause if not nil.
func NewError(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// IsKind reports whether err (or something it wraps) is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
