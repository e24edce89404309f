// Package plan chooses an execution strategy for one compute request.
// Selection is a pure function of the workload, the caller's options, and
// the immutable capability descriptor, so identical requests always produce
// identical plans.
package plan

import (
	"errors"
	"fmt"

	"github.com/keel-sci/keel/internal/hwcaps"
	"github.com/keel-sci/keel/internal/membuf"
)

// Strategy is one of the runtime's execution strategies, ordered by
// dispatch overhead: scalar dispatch is the cheapest, GPU offload the
// most expensive.
type Strategy int

// Execution strategies. Auto is the zero value so an unset hint lets the
// selector pick freely.
const (
	Auto Strategy = iota
	Scalar
	SIMD
	Parallel
	GPU
)

// String returns a human-readable strategy name.
func (s Strategy) String() string {
	switch s {
	case Scalar:
		return "scalar"
	case SIMD:
		return "simd"
	case Parallel:
		return "parallel"
	case GPU:
		return "gpu"
	case Auto:
		return "auto"
	default:
		return "unknown"
	}
}

// ErrCapabilityUnavailable is returned when a required strategy is not
// supported on this host. Without Require the selector falls back instead.
var ErrCapabilityUnavailable = errors.New("plan: required capability unavailable on this host")

// Options carries the per-request knobs for selection.
type Options struct {
	// Hint requests a strategy. With Require false an unavailable hint
	// degrades to the next cheaper strategy; with Require true it fails.
	Hint    Strategy
	Require bool

	// GPUMinElements and ParallelMinElements are the strategy thresholds.
	GPUMinElements      int
	ParallelMinElements int

	// Workers caps the worker count for parallel plans.
	Workers int

	// GPUSupported reports whether the operation has a GPU kernel.
	GPUSupported bool
}

// Plan describes how one compute request will execute. Plans are value
// objects: created per request and discarded after it completes.
type Plan struct {
	Strategy    Strategy
	ChunkSize   int // elements per work unit
	Workers     int
	VectorWidth int // bits, 0 for scalar
}

// String returns a compact description for logging.
func (p Plan) String() string {
	return fmt.Sprintf("%s(chunk=%d workers=%d vec=%d)", p.Strategy, p.ChunkSize, p.Workers, p.VectorWidth)
}

// minChunk keeps per-chunk overhead negligible for tiny workloads.
const minChunk = 1 << 10

// Select picks a strategy for a workload of n elements. The policy prefers
// GPU offload only past GPUMinElements with a device present, then
// SIMD+parallel past ParallelMinElements, then scalar. Small inputs break
// ties toward the strategy with the lowest dispatch overhead.
func Select(n int, dtype membuf.DataType, opts Options, caps *hwcaps.Descriptor) (Plan, error) {
	if opts.Hint != Auto && opts.Hint != Scalar {
		return selectHinted(n, dtype, opts, caps)
	}
	if opts.Hint == Scalar {
		return scalarPlan(), nil
	}
	return selectAuto(n, dtype, opts, caps), nil
}

func selectAuto(n int, dtype membuf.DataType, opts Options, caps *hwcaps.Descriptor) Plan {
	if gpuEligible(n, dtype, opts, caps) {
		return gpuPlan(n)
	}
	if n >= opts.ParallelMinElements && opts.Workers > 1 && caps.Workers > 1 {
		return parallelPlan(n, opts, caps)
	}
	if n >= opts.ParallelMinElements && caps.HasSIMD() {
		return simdPlan(n, caps)
	}
	return scalarPlan()
}

func selectHinted(n int, dtype membuf.DataType, opts Options, caps *hwcaps.Descriptor) (Plan, error) {
	available := func(s Strategy) bool {
		switch s {
		case GPU:
			return caps.GPU.Present && opts.GPUSupported && dtype == membuf.Float32
		case Parallel:
			return opts.Workers > 1 && caps.Workers > 1
		case SIMD:
			return caps.HasSIMD()
		default:
			return true
		}
	}

	if !available(opts.Hint) && opts.Require {
		return Plan{}, fmt.Errorf("%w: %s", ErrCapabilityUnavailable, opts.Hint)
	}
	// Degrade one rung at a time until something is available.
	for s := opts.Hint; s > Scalar; s-- {
		if available(s) {
			switch s {
			case GPU:
				return gpuPlan(n), nil
			case Parallel:
				return parallelPlan(n, opts, caps), nil
			case SIMD:
				return simdPlan(n, caps), nil
			}
		}
	}
	return scalarPlan(), nil
}

func gpuEligible(n int, dtype membuf.DataType, opts Options, caps *hwcaps.Descriptor) bool {
	return caps.GPU.Present &&
		opts.GPUSupported &&
		dtype == membuf.Float32 &&
		opts.GPUMinElements > 0 &&
		n >= opts.GPUMinElements
}

func scalarPlan() Plan {
	return Plan{Strategy: Scalar, ChunkSize: minChunk, Workers: 1}
}

func simdPlan(n int, caps *hwcaps.Descriptor) Plan {
	chunk := chunkFor(n, 1)
	return Plan{Strategy: SIMD, ChunkSize: chunk, Workers: 1, VectorWidth: caps.MaxVectorWidth()}
}

func parallelPlan(n int, opts Options, caps *hwcaps.Descriptor) Plan {
	workers := opts.Workers
	if workers <= 0 || workers > caps.Workers {
		workers = caps.Workers
	}
	chunk := chunkFor(n, workers)
	if maxUnits := (n + chunk - 1) / chunk; maxUnits < workers {
		workers = maxUnits
	}
	return Plan{Strategy: Parallel, ChunkSize: chunk, Workers: workers, VectorWidth: caps.MaxVectorWidth()}
}

func gpuPlan(n int) Plan {
	return Plan{Strategy: GPU, ChunkSize: n, Workers: 1}
}

// chunkFor splits n so each worker sees a few chunks, but never below
// minChunk to keep scheduling overhead bounded.
func chunkFor(n, workers int) int {
	chunk := (n + workers*4 - 1) / (workers * 4)
	if chunk < minChunk {
		chunk = minChunk
	}
	return chunk
}
