// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import "math"

// WithinTolerance reports whether a and b agree within relative tolerance
// rtol, falling back to an absolute bound of rtol near zero. NaN matches
// NaN and infinities must match in sign; strategies differ only in
// floating-point reassociation, so equal-shaped results compared this way
// classify any real divergence as a defect.
func WithinTolerance(a, b, rtol float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	if math.IsInf(a, 0) || math.IsInf(b, 0) {
		return a == b
	}
	diff := math.Abs(a - b)
	scale := math.Max(math.Abs(a), math.Abs(b))
	if scale < 1 {
		return diff <= rtol
	}
	return diff <= rtol*scale
}

// BuffersWithinTolerance compares two equal-shaped float buffers
// element-wise with WithinTolerance.
func BuffersWithinTolerance(a, b *Buffer, rtol float64) bool {
	if !a.Shape().Equal(b.Shape()) || a.DType() != b.DType() {
		return false
	}
	switch a.DType() {
	case Float64:
		av, bv := a.AsFloat64(), b.AsFloat64()
		for i := range av {
			if !WithinTolerance(av[i], bv[i], rtol) {
				return false
			}
		}
	case Float32:
		av, bv := a.AsFloat32(), b.AsFloat32()
		for i := range av {
			if !WithinTolerance(float64(av[i]), float64(bv[i]), rtol) {
				return false
			}
		}
	default:
		return false
	}
	return true
}
