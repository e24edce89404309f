// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import (
	"errors"
	"fmt"

	"github.com/keel-sci/keel/internal/executor"
	"github.com/keel-sci/keel/internal/linalg"
	"github.com/keel-sci/keel/internal/membuf"
	"github.com/keel-sci/keel/internal/plan"
)

// ErrorType categorizes a compute failure.
type ErrorType int

// Error categories.
const (
	// ErrTypeCapability: the requested strategy is not supported on this
	// host. Recoverable; without Require the selector falls back instead.
	ErrTypeCapability ErrorType = iota
	// ErrTypeAllocation: the memory-pool ceiling was reached. Surfaced to
	// the caller, never retried automatically.
	ErrTypeAllocation
	// ErrTypeBackend: a normalized linear-algebra failure (singular
	// matrix, dimension mismatch, divergence). Never silently corrected.
	ErrTypeBackend
	// ErrTypeWorker: a parallel work unit failed; the first observed
	// failure is propagated after best-effort cancellation.
	ErrTypeWorker
	// ErrTypeInvalid: the request itself is malformed.
	ErrTypeInvalid
)

// String returns the error type's name.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeCapability:
		return "CapabilityUnavailable"
	case ErrTypeAllocation:
		return "AllocationExhausted"
	case ErrTypeBackend:
		return "BackendError"
	case ErrTypeWorker:
		return "WorkerFailure"
	case ErrTypeInvalid:
		return "InvalidRequest"
	default:
		return "Unknown"
	}
}

// Error is a typed compute failure with the operation that produced it.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("keel %s error in %s: %s (caused by: %v)", e.Type, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("keel %s error in %s: %s", e.Type, e.Op, e.Message)
}

// Unwrap allows error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

func invalidErr(op, format string, args ...any) error {
	return &Error{Type: ErrTypeInvalid, Op: op, Message: fmt.Sprintf(format, args...)}
}

// wrapErr normalizes internal failures into the public taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	var lerr *linalg.Error
	switch {
	case errors.Is(err, membuf.ErrAllocationExhausted):
		return &Error{Type: ErrTypeAllocation, Op: op, Message: "memory pool ceiling reached", Err: err}
	case errors.Is(err, executor.ErrClosed):
		return &Error{Type: ErrTypeInvalid, Op: op, Message: "context is closed", Err: err}
	case errors.Is(err, plan.ErrCapabilityUnavailable):
		return &Error{Type: ErrTypeCapability, Op: op, Message: "required strategy unavailable", Err: err}
	case errors.As(err, &lerr):
		return &Error{Type: ErrTypeBackend, Op: op, Message: lerr.Kind.String(), Err: err}
	default:
		return &Error{Type: ErrTypeWorker, Op: op, Message: "work unit failed", Err: err}
	}
}
