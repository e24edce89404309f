// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build blas_openblas && cgo

// Package openblas links dense linear algebra against OpenBLAS through the
// netlib CBLAS/LAPACKE bindings. Build with -tags blas_openblas and an
// OpenBLAS that provides libcblas and liblapacke on the link path.
//
// Exactly one accelerated backend may be linked per binary; combining
// blas_openblas with another blas_* tag panics at startup.
package openblas

import (
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
	blasnetlib "gonum.org/v1/netlib/blas/netlib"
	lapacknetlib "gonum.org/v1/netlib/lapack/netlib"

	"github.com/keel-sci/keel/internal/linalg"
)

func init() {
	blas32.Use(blasnetlib.Implementation{})
	blas64.Use(blasnetlib.Implementation{})
	lapack64.Use(lapacknetlib.Implementation{})
	linalg.Use("openblas", true)
}

// Enabled reports whether this backend is linked into the build.
func Enabled() bool { return true }
