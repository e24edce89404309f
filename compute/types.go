// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import (
	"github.com/keel-sci/keel/internal/hwcaps"
	"github.com/keel-sci/keel/internal/membuf"
	"github.com/keel-sci/keel/internal/plan"
	"github.com/keel-sci/keel/internal/rescache"
)

// Buffer is an owned, contiguous numeric storage region with shape
// metadata. Buffers come from a Context's pool and go back to it on
// Release; a buffer has exactly one live owner at a time.
type Buffer = membuf.Buffer

// Shape represents the dimensions of a buffer.
type Shape = membuf.Shape

// DataType is the runtime tag for a buffer's element type.
type DataType = membuf.DataType

// Supported element types.
const (
	Float32 = membuf.Float32
	Float64 = membuf.Float64
	Int32   = membuf.Int32
	Int64   = membuf.Int64
)

// Strategy is one of the runtime's execution strategies.
type Strategy = plan.Strategy

// Execution strategies, in increasing dispatch-overhead order. Auto lets
// the selector pick.
const (
	Auto     = plan.Auto
	Scalar   = plan.Scalar
	SIMD     = plan.SIMD
	Parallel = plan.Parallel
	GPU      = plan.GPU
)

// Capabilities is the immutable host capability descriptor.
type Capabilities = hwcaps.Descriptor

// ArraySource describes a logical array streamed chunk by chunk.
type ArraySource = membuf.ArraySource

// ChunkIter is a lazy, single-pass sequence of buffer views.
type ChunkIter = membuf.ChunkIter

// NewSliceSource wraps an in-memory slice as an ArraySource without copying.
func NewSliceSource[T membuf.Elem](data []T) ArraySource {
	return membuf.NewSliceSource(data)
}

// FuncSource is a synthetic float64 ArraySource generated element-wise.
type FuncSource = membuf.FuncSource

// PoolStats is a snapshot of the buffer pool's counters.
type PoolStats = membuf.Stats

// CacheStats is a snapshot of the result cache's counters.
type CacheStats = rescache.Stats

// Stats aggregates the runtime's diagnostic counters.
type Stats struct {
	Pool    PoolStats
	Cache   CacheStats
	Backend string // linked linear-algebra backend
}
