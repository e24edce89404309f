// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package compute is the public entry point of the Keel scientific-computing
// runtime.
//
// # Overview
//
// A Context owns the machinery every numeric package computes through:
//   - an immutable host capability descriptor (SIMD widths, cores, memory,
//     GPU presence, linked BLAS/LAPACK backend), detected once per process
//   - a strategy planner that picks scalar, SIMD, parallel, or GPU
//     execution per request
//   - a fixed pool of worker goroutines with deterministic result merging
//   - a size-classed buffer pool under a global byte ceiling
//   - a fingerprint-keyed result cache for repeated pure computations
//
// # Basic Usage
//
//	import "github.com/keel-sci/keel/compute"
//
//	func main() {
//	    rt, err := compute.Open()
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer rt.Close()
//
//	    a, _ := rt.AcquireBuffer(compute.Shape{512, 512}, compute.Float64)
//	    b, _ := rt.AcquireBuffer(compute.Shape{512, 512}, compute.Float64)
//	    defer a.Release()
//	    defer b.Release()
//	    // ... fill a and b ...
//
//	    out, err := rt.Do(ctx, compute.Request{
//	        Op:     compute.OpMatMul,
//	        Inputs: []*compute.Buffer{a, b},
//	    })
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer out.Release()
//	}
//
// # Strategy Selection
//
// Do plans each request from the workload size and the host capabilities.
// The result never depends on the strategy chosen: any two strategies agree
// within floating-point reassociation error. A Request.Hint narrows the
// choice; with Require set an unavailable hint fails with
// ErrTypeCapability instead of degrading.
//
// # Memory
//
// Buffers come from the context's pool and must be released exactly once.
// The pool recycles storage through size-class free lists under a byte
// ceiling; past the ceiling acquisition fails fast (or blocks, with
// WithBlockingPool). Arrays larger than memory stream through ApplyStream
// and friends, which hold at most the configured working set.
//
// # BLAS/LAPACK Backends
//
// Dense linear algebra runs on exactly one backend linked at build time.
// The default is gonum's pure-Go implementation; build tags select
// OpenBLAS, MKL, netlib, or Accelerate instead (see the backend
// subpackages). Linking two backends into one binary panics at init.
package compute
