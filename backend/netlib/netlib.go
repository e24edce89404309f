// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

//go:build blas_netlib && cgo

// Package netlib links dense linear algebra against the reference netlib
// BLAS and LAPACK. Build with -tags blas_netlib and libcblas/liblapacke on
// the link path.
//
// The reference libraries make no thread-safety promises, so the runtime
// serializes calls into this backend.
package netlib

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
	linalg.Use("netlib", false)
}

// Enabled reports whether this backend is linked into the build.
func Enabled() bool { return true }
