// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build !(blas_openblas && cgo)

package openblas

// Enabled reports whether this backend is linked into the build.
func Enabled() bool { return false }
