package linalg

import "fmt"

// Kind classifies a normalized linear-algebra failure. Callers never see the
// linked library's own status codes.
type Kind int

// Failure kinds.
const (
	KindUnavailable Kind = iota // operation not supported by the linked backend
	KindDimension               // operand shapes do not conform
	KindSingular                // matrix is singular to working precision
	KindDivergence              // iterative routine failed to converge
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "backend-unavailable"
	case KindDimension:
		return "dimension-mismatch"
	case KindSingular:
		return "singular-matrix"
	case KindDivergence:
		return "numeric-divergence"
	default:
		return "unknown"
	}
}

// Error is a normalized linear-algebra failure.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("linalg: %s: %s: %s", e.Op, e.Kind, e.Detail)
}

func errf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}
