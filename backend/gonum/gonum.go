// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package gonum pins dense linear algebra to gonum's pure-Go BLAS and
// LAPACK implementations.
//
// This is the runtime's default; importing the package only makes the
// choice explicit and guards against an accelerated backend being linked
// into the same binary by mistake.
package gonum

import "github.com/keel-sci/keel/internal/linalg"

func init() {
	linalg.Use("gonum", true)
}

// Enabled reports whether this backend is linked into the build.
func Enabled() bool { return true }
