package linalg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel-sci/keel/internal/membuf"
)

func newPool(t *testing.T) *membuf.Pool {
	t.Helper()
	return membuf.NewPool(64 << 20)
}

func fill(t *testing.T, p *membuf.Pool, shape membuf.Shape, values []float64) *membuf.Buffer {
	t.Helper()
	buf, err := p.Acquire(shape, membuf.Float64)
	require.NoError(t, err)
	copy(buf.AsFloat64(), values)
	return buf
}

func TestMatMulFloat64(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	x := fill(t, p, membuf.Shape{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	y := fill(t, p, membuf.Shape{3, 2}, []float64{7, 8, 9, 10, 11, 12})
	defer x.Release()
	defer y.Release()

	out, err := a.MatMul(x, y)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, membuf.Shape{2, 2}, out.Shape())
	assert.InDeltaSlice(t, []float64{58, 64, 139, 154}, out.AsFloat64(), 1e-12)
}

func TestMatMulFloat32(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	x, err := p.Acquire(membuf.Shape{2, 2}, membuf.Float32)
	require.NoError(t, err)
	copy(x.AsFloat32(), []float32{1, 2, 3, 4})
	y, err := p.Acquire(membuf.Shape{2, 2}, membuf.Float32)
	require.NoError(t, err)
	copy(y.AsFloat32(), []float32{5, 6, 7, 8})
	defer x.Release()
	defer y.Release()

	out, err := a.MatMul(x, y)
	require.NoError(t, err)
	defer out.Release()

	assert.InDeltaSlice(t, []float32{19, 22, 43, 50}, out.AsFloat32(), 1e-5)
}

func TestMatMulDimensionMismatch(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	x := fill(t, p, membuf.Shape{2, 3}, make([]float64, 6))
	y := fill(t, p, membuf.Shape{2, 2}, make([]float64, 4))
	defer x.Release()
	defer y.Release()

	_, err := a.MatMul(x, y)
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindDimension, lerr.Kind)
}

func TestSolveKnownSystem(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	// 2x + y = 5, x + 3y = 10 -> x = 1, y = 3
	m := fill(t, p, membuf.Shape{2, 2}, []float64{2, 1, 1, 3})
	rhs := fill(t, p, membuf.Shape{2}, []float64{5, 10})
	defer m.Release()
	defer rhs.Release()

	out, err := a.Solve(m, rhs)
	require.NoError(t, err)
	defer out.Release()

	assert.InDeltaSlice(t, []float64{1, 3}, out.AsFloat64(), 1e-12)
}

func TestSolveDoesNotMutateOperands(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	m := fill(t, p, membuf.Shape{2, 2}, []float64{2, 1, 1, 3})
	rhs := fill(t, p, membuf.Shape{2}, []float64{5, 10})
	defer m.Release()
	defer rhs.Release()

	out, err := a.Solve(m, rhs)
	require.NoError(t, err)
	out.Release()

	assert.Equal(t, []float64{2, 1, 1, 3}, m.AsFloat64())
	assert.Equal(t, []float64{5, 10}, rhs.AsFloat64())
}

func TestFactorizeSingular(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	m := fill(t, p, membuf.Shape{2, 2}, []float64{1, 2, 2, 4})
	defer m.Release()

	_, err := a.Factorize(m)
	require.Error(t, err)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindSingular, lerr.Kind)
}

func TestEigenSymmetric(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	// [[2, 1], [1, 2]] has eigenvalues 1 and 3.
	m := fill(t, p, membuf.Shape{2, 2}, []float64{2, 1, 1, 2})
	defer m.Release()

	out, err := a.Eigen(m)
	require.NoError(t, err)
	defer out.Release()

	require.Equal(t, membuf.Shape{2, 2}, out.Shape())
	vals := out.AsFloat64()
	got := []float64{vals[0], vals[2]}
	if got[0] > got[1] {
		got[0], got[1] = got[1], got[0]
	}
	assert.InDeltaSlice(t, []float64{1, 3}, got, 1e-12)
	assert.InDelta(t, 0, vals[1], 1e-12)
	assert.InDelta(t, 0, vals[3], 1e-12)
}

func TestSolveRejectsFloat32(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	m, err := p.Acquire(membuf.Shape{2, 2}, membuf.Float32)
	require.NoError(t, err)
	defer m.Release()

	_, err = a.Factorize(m)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, KindUnavailable, lerr.Kind)
}

func TestBackendIdentity(t *testing.T) {
	p := newPool(t)
	a := NewAdapter(p)

	assert.NotEmpty(t, a.Backend())
	assert.Equal(t, a.Backend(), BackendName())
}
