package linalg

import (
	"sync"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"

	"github.com/keel-sci/keel/internal/membuf"
)

var log = logrus.WithField("sys", "linalg")

// handle is the lazily-created session against the linked backend. It lives
// until process exit.
type handle struct {
	name      string
	serialize bool
	mu        sync.Mutex
}

// Adapter is the uniform entry point for dense linear-algebra primitives.
// Results come from the supplied buffer pool; operands are never mutated.
type Adapter struct {
	pool *membuf.Pool

	once sync.Once
	h    *handle
}

// NewAdapter creates an adapter drawing result buffers from pool.
func NewAdapter(pool *membuf.Pool) *Adapter {
	return &Adapter{pool: pool}
}

// Backend returns the linked backend's identity, initializing the session
// if needed.
func (a *Adapter) Backend() string {
	return a.session().name
}

func (a *Adapter) session() *handle {
	a.once.Do(func() {
		a.h = &handle{
			name:      BackendName(),
			serialize: !backendReentrant(),
		}
		log.WithFields(logrus.Fields{
			"backend":   a.h.name,
			"serialize": a.h.serialize,
		}).Debug("linear-algebra session initialized")
	})
	return a.h
}

// call invokes f against the backend, serializing when the library is not
// reentrant.
func (a *Adapter) call(f func()) {
	h := a.session()
	if h.serialize {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	f()
}

// MatMul computes x @ y for row-major 2D buffers of matching dtype.
func (a *Adapter) MatMul(x, y *membuf.Buffer) (*membuf.Buffer, error) {
	const op = "MatMul"
	m, k, n, err := conformMul(op, x, y)
	if err != nil {
		return nil, err
	}
	if x.DType() != y.DType() {
		return nil, errf(KindDimension, op, "dtype mismatch: %s vs %s", x.DType(), y.DType())
	}

	out, aerr := a.pool.Acquire(membuf.Shape{m, n}, x.DType())
	if aerr != nil {
		return nil, aerr
	}

	switch x.DType() {
	case membuf.Float64:
		ga := blas64.General{Rows: m, Cols: k, Stride: k, Data: x.AsFloat64()}
		gb := blas64.General{Rows: k, Cols: n, Stride: n, Data: y.AsFloat64()}
		gc := blas64.General{Rows: m, Cols: n, Stride: n, Data: out.AsFloat64()}
		a.call(func() { blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, ga, gb, 0, gc) })
	case membuf.Float32:
		ga := blas32.General{Rows: m, Cols: k, Stride: k, Data: x.AsFloat32()}
		gb := blas32.General{Rows: k, Cols: n, Stride: n, Data: y.AsFloat32()}
		gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: out.AsFloat32()}
		a.call(func() { blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, ga, gb, 0, gc) })
	default:
		out.Release()
		return nil, errf(KindUnavailable, op, "dtype %s not supported by %s", x.DType(), a.Backend())
	}
	return out, nil
}

// Factorization holds the LU decomposition of a square float64 matrix.
type Factorization struct {
	lu   *membuf.Buffer
	ipiv []int
	n    int
}

// Release returns the factorization's storage to the pool.
func (f *Factorization) Release() {
	f.lu.Release()
}

// Factorize computes the pivoted LU decomposition of a square float64
// buffer. The operand is copied; it is not consumed.
func (a *Adapter) Factorize(x *membuf.Buffer) (*Factorization, error) {
	const op = "Factorize"
	n, err := conformSquare(op, x)
	if err != nil {
		return nil, err
	}

	lu, aerr := a.pool.Acquire(membuf.Shape{n, n}, membuf.Float64)
	if aerr != nil {
		return nil, aerr
	}
	copy(lu.AsFloat64(), x.AsFloat64())

	ipiv := make([]int, n)
	var ok bool
	a.call(func() {
		ok = lapack64.Getrf(blas64.General{Rows: n, Cols: n, Stride: n, Data: lu.AsFloat64()}, ipiv)
	})
	if !ok {
		lu.Release()
		return nil, errf(KindSingular, op, "%dx%d matrix has a zero pivot", n, n)
	}
	return &Factorization{lu: lu, ipiv: ipiv, n: n}, nil
}

// SolveFactored solves A x = b using a prior factorization of A. rhs may
// carry multiple right-hand sides as columns.
func (a *Adapter) SolveFactored(f *Factorization, rhs *membuf.Buffer) (*membuf.Buffer, error) {
	const op = "Solve"
	if rhs.DType() != membuf.Float64 {
		return nil, errf(KindUnavailable, op, "dtype %s not supported, solve requires float64", rhs.DType())
	}
	shape := rhs.Shape()
	if len(shape) > 2 {
		return nil, errf(KindDimension, op, "rhs must be a vector or matrix, got %s", shape)
	}
	rows := shape[0]
	cols := 1
	if len(shape) == 2 {
		cols = shape[1]
	}
	if rows != f.n {
		return nil, errf(KindDimension, op, "rhs has %d rows, matrix is %dx%d", rows, f.n, f.n)
	}

	out, aerr := a.pool.Acquire(shape, membuf.Float64)
	if aerr != nil {
		return nil, aerr
	}
	copy(out.AsFloat64(), rhs.AsFloat64())

	a.call(func() {
		lapack64.Getrs(blas.NoTrans,
			blas64.General{Rows: f.n, Cols: f.n, Stride: f.n, Data: f.lu.AsFloat64()},
			blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: out.AsFloat64()},
			f.ipiv)
	})
	return out, nil
}

// Solve factors x and solves x @ out = rhs in one call.
func (a *Adapter) Solve(x, rhs *membuf.Buffer) (*membuf.Buffer, error) {
	f, err := a.Factorize(x)
	if err != nil {
		return nil, err
	}
	defer f.Release()
	return a.SolveFactored(f, rhs)
}

// Eigen computes the eigenvalues of a square float64 buffer. The result has
// shape {n, 2}: column 0 holds real parts, column 1 imaginary parts.
func (a *Adapter) Eigen(x *membuf.Buffer) (*membuf.Buffer, error) {
	const op = "Eigen"
	n, err := conformSquare(op, x)
	if err != nil {
		return nil, err
	}

	// mat.Eigen factors a copy; the operand buffer stays intact.
	src := mat.NewDense(n, n, nil)
	copy(src.RawMatrix().Data, x.AsFloat64())

	var eig mat.Eigen
	var ok bool
	a.call(func() { ok = eig.Factorize(src, mat.EigenNone) })
	if !ok {
		return nil, errf(KindDivergence, op, "eigenvalue iteration failed to converge for %dx%d matrix", n, n)
	}
	values := eig.Values(nil)

	out, aerr := a.pool.Acquire(membuf.Shape{n, 2}, membuf.Float64)
	if aerr != nil {
		return nil, aerr
	}
	dst := out.AsFloat64()
	for i, v := range values {
		dst[2*i] = real(v)
		dst[2*i+1] = imag(v)
	}
	return out, nil
}

func conformMul(op string, x, y *membuf.Buffer) (m, k, n int, err error) {
	xs, ys := x.Shape(), y.Shape()
	if len(xs) != 2 || len(ys) != 2 {
		return 0, 0, 0, errf(KindDimension, op, "operands must be 2D, got %s and %s", xs, ys)
	}
	if xs[1] != ys[0] {
		return 0, 0, 0, errf(KindDimension, op, "inner dimensions differ: %s @ %s", xs, ys)
	}
	return xs[0], xs[1], ys[1], nil
}

func conformSquare(op string, x *membuf.Buffer) (int, error) {
	if x.DType() != membuf.Float64 {
		return 0, errf(KindUnavailable, op, "dtype %s not supported, %s requires float64", x.DType(), op)
	}
	s := x.Shape()
	if len(s) != 2 || s[0] != s[1] {
		return 0, errf(KindDimension, op, "matrix must be square 2D, got %s", s)
	}
	return s[0], nil
}
