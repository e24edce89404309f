// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel-sci/keel/internal/hwcaps"
)

func newTestContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	rt, err := Open(opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func randomBuffer(t *testing.T, rt *Context, shape Shape, rng *rand.Rand) *Buffer {
	t.Helper()
	buf, err := rt.AcquireBuffer(shape, Float64)
	require.NoError(t, err)
	t.Cleanup(buf.Release)
	data := buf.AsFloat64()
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return buf
}

func randomBuffer32(t *testing.T, rt *Context, shape Shape, rng *rand.Rand) *Buffer {
	t.Helper()
	buf, err := rt.AcquireBuffer(shape, Float32)
	require.NoError(t, err)
	t.Cleanup(buf.Release)
	data := buf.AsFloat32()
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return buf
}

func doOp(t *testing.T, rt *Context, req Request) *Buffer {
	t.Helper()
	out, err := rt.Do(context.Background(), req)
	require.NoError(t, err)
	t.Cleanup(out.Release)
	return out
}

// Every strategy must produce the same numbers, up to floating-point
// reassociation. Hints degrade on hosts missing a capability, which only
// makes the comparison trivially true there.
func TestStrategyParity(t *testing.T) {
	rt := newTestContext(t)
	rng := rand.New(rand.NewSource(42))

	x := randomBuffer(t, rt, Shape{64, 48}, rng)
	y := randomBuffer(t, rt, Shape{48, 80}, rng)
	v := randomBuffer(t, rt, Shape{64, 48}, rng)
	strategies := []Strategy{Scalar, SIMD, Parallel}

	cases := []struct {
		name string
		req  Request
	}{
		{"matmul", Request{Op: OpMatMul, Inputs: []*Buffer{x, y}}},
		{"add", Request{Op: OpAdd, Inputs: []*Buffer{x, v}}},
		{"scale", Request{Op: OpScale, Inputs: []*Buffer{x}, Alpha: 2.5}},
		{"sum", Request{Op: OpSum, Inputs: []*Buffer{x}}},
		{"dot", Request{Op: OpDot, Inputs: []*Buffer{x, v}}},
	}

	for _, op := range cases {
		t.Run(op.name, func(t *testing.T) {
			base := op.req
			base.Hint = Scalar
			ref := doOp(t, rt, base)

			for _, s := range strategies[1:] {
				req := op.req
				req.Hint = s
				got := doOp(t, rt, req)
				assert.True(t, BuffersWithinTolerance(ref, got, 1e-9),
					"%s: %s disagrees with scalar", op.name, s)
			}
		})
	}
}

func TestStrategyParityFloat32(t *testing.T) {
	rt := newTestContext(t)
	rng := rand.New(rand.NewSource(7))

	x := randomBuffer32(t, rt, Shape{32, 32}, rng)
	y := randomBuffer32(t, rt, Shape{32, 32}, rng)

	ref := doOp(t, rt, Request{Op: OpMatMul, Inputs: []*Buffer{x, y}, Hint: Scalar})
	for _, s := range []Strategy{SIMD, Parallel} {
		got := doOp(t, rt, Request{Op: OpMatMul, Inputs: []*Buffer{x, y}, Hint: s})
		assert.True(t, BuffersWithinTolerance(ref, got, 1e-4),
			"float32 matmul: %s disagrees with scalar", s)
	}
}

func TestMatMulKnownValues(t *testing.T) {
	rt := newTestContext(t)

	x, err := rt.AcquireBuffer(Shape{2, 3}, Float64)
	require.NoError(t, err)
	defer x.Release()
	copy(x.AsFloat64(), []float64{1, 2, 3, 4, 5, 6})

	y, err := rt.AcquireBuffer(Shape{3, 2}, Float64)
	require.NoError(t, err)
	defer y.Release()
	copy(y.AsFloat64(), []float64{7, 8, 9, 10, 11, 12})

	out := doOp(t, rt, Request{Op: OpMatMul, Inputs: []*Buffer{x, y}})
	assert.Equal(t, Shape{2, 2}, out.Shape())
	assert.InDeltaSlice(t, []float64{58, 64, 139, 154}, out.AsFloat64(), 1e-12)
}

func TestGPUPlanFallsBackToCPU(t *testing.T) {
	// A host that advertises a GPU but cannot initialize the device must
	// still return the correct result.
	caps := &hwcaps.Descriptor{
		VectorWidths: []int{256},
		Workers:      4,
		GPU:          hwcaps.GPUInfo{Present: true, Adapter: "test adapter"},
		BLASBackend:  "gonum",
	}
	rt := newTestContext(t, withCapabilities(caps), WithGPUThreshold(1))
	rng := rand.New(rand.NewSource(3))

	x := randomBuffer32(t, rt, Shape{16, 16}, rng)
	y := randomBuffer32(t, rt, Shape{16, 16}, rng)

	got := doOp(t, rt, Request{Op: OpMatMul, Inputs: []*Buffer{x, y}, Hint: GPU})
	ref := doOp(t, rt, Request{Op: OpMatMul, Inputs: []*Buffer{x, y}, Hint: Scalar})
	assert.True(t, BuffersWithinTolerance(ref, got, 1e-4))
}

func TestRequireUnavailableStrategy(t *testing.T) {
	caps := &hwcaps.Descriptor{Workers: 4, BLASBackend: "gonum"} // no GPU, no SIMD
	rt := newTestContext(t, withCapabilities(caps))
	rng := rand.New(rand.NewSource(4))

	x := randomBuffer32(t, rt, Shape{8, 8}, rng)
	_, err := rt.Do(context.Background(), Request{
		Op: OpMatMul, Inputs: []*Buffer{x, x}, Hint: GPU, Require: true,
	})
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeCapability, ce.Type)

	// Without Require the same hint degrades and succeeds.
	out := doOp(t, rt, Request{Op: OpMatMul, Inputs: []*Buffer{x, x}, Hint: GPU})
	assert.Equal(t, Shape{8, 8}, out.Shape())
}

func TestAllocationCeiling(t *testing.T) {
	rt := newTestContext(t, WithPoolCeiling(1<<16))

	_, err := rt.AcquireBuffer(Shape{1 << 20}, Float64)
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeAllocation, ce.Type)

	// Within the ceiling allocation still works.
	buf, err := rt.AcquireBuffer(Shape{128}, Float64)
	require.NoError(t, err)
	buf.Release()
}

func TestPoolRecycling(t *testing.T) {
	rt := newTestContext(t)

	a, err := rt.AcquireBuffer(Shape{1024}, Float64)
	require.NoError(t, err)
	a.Release()

	b, err := rt.AcquireBuffer(Shape{1024}, Float64)
	require.NoError(t, err)
	defer b.Release()

	stats := rt.Stats()
	assert.GreaterOrEqual(t, stats.Pool.Hits, uint64(1), "second acquire should hit the free list")

	// A released buffer comes back zeroed.
	for _, v := range b.AsFloat64() {
		require.Zero(t, v)
	}
}

func TestResultCache(t *testing.T) {
	rt := newTestContext(t, WithCacheBudget(16<<20))
	rng := rand.New(rand.NewSource(9))

	x := randomBuffer(t, rt, Shape{32, 32}, rng)
	req := Request{Op: OpMatMul, Inputs: []*Buffer{x, x}, Cacheable: true}

	first := doOp(t, rt, req)
	second := doOp(t, rt, req)

	stats := rt.Stats()
	assert.Equal(t, uint64(1), stats.Cache.Misses)
	assert.Equal(t, uint64(1), stats.Cache.Hits)
	assert.Equal(t, first.Bytes(), second.Bytes())

	// The cached result is a copy: mutating one returned buffer must not
	// leak into later hits.
	second.AsFloat64()[0] = -12345
	third := doOp(t, rt, req)
	assert.Equal(t, first.AsFloat64()[0], third.AsFloat64()[0])
}

func TestCacheKeyCoversConfiguration(t *testing.T) {
	rt := newTestContext(t, WithCacheBudget(16<<20))
	rng := rand.New(rand.NewSource(10))

	x := randomBuffer(t, rt, Shape{256}, rng)
	double := doOp(t, rt, Request{Op: OpScale, Inputs: []*Buffer{x}, Alpha: 2, Cacheable: true})
	triple := doOp(t, rt, Request{Op: OpScale, Inputs: []*Buffer{x}, Alpha: 3, Cacheable: true})

	assert.InDelta(t, 2*x.AsFloat64()[0], double.AsFloat64()[0], 1e-12)
	assert.InDelta(t, 3*x.AsFloat64()[0], triple.AsFloat64()[0], 1e-12)
	assert.Equal(t, uint64(2), rt.Stats().Cache.Misses)
}

func TestSolve(t *testing.T) {
	rt := newTestContext(t)

	a, err := rt.AcquireBuffer(Shape{2, 2}, Float64)
	require.NoError(t, err)
	defer a.Release()
	copy(a.AsFloat64(), []float64{2, 0, 0, 4})

	rhs, err := rt.AcquireBuffer(Shape{2}, Float64)
	require.NoError(t, err)
	defer rhs.Release()
	copy(rhs.AsFloat64(), []float64{2, 8})

	out := doOp(t, rt, Request{Op: OpSolve, Inputs: []*Buffer{a, rhs}})
	assert.InDeltaSlice(t, []float64{1, 2}, out.AsFloat64(), 1e-12)
}

func TestSolveSingularMatrix(t *testing.T) {
	rt := newTestContext(t)

	a, err := rt.AcquireBuffer(Shape{2, 2}, Float64)
	require.NoError(t, err)
	defer a.Release()
	copy(a.AsFloat64(), []float64{1, 1, 1, 1})

	rhs, err := rt.AcquireBuffer(Shape{2}, Float64)
	require.NoError(t, err)
	defer rhs.Release()

	_, err = rt.Do(context.Background(), Request{Op: OpSolve, Inputs: []*Buffer{a, rhs}})
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeBackend, ce.Type)
}

func TestEigen(t *testing.T) {
	rt := newTestContext(t)

	a, err := rt.AcquireBuffer(Shape{2, 2}, Float64)
	require.NoError(t, err)
	defer a.Release()
	copy(a.AsFloat64(), []float64{3, 0, 0, 5})

	out := doOp(t, rt, Request{Op: OpEigen, Inputs: []*Buffer{a}})
	require.Equal(t, Shape{2, 2}, out.Shape())

	vals := out.AsFloat64()
	re := []float64{vals[0], vals[2]}
	sort.Float64s(re)
	assert.InDeltaSlice(t, []float64{3, 5}, re, 1e-12)
	assert.InDelta(t, 0, vals[1], 1e-12)
	assert.InDelta(t, 0, vals[3], 1e-12)
}

func TestRequestValidation(t *testing.T) {
	rt := newTestContext(t)
	rng := rand.New(rand.NewSource(11))

	x := randomBuffer(t, rt, Shape{4, 4}, rng)
	y := randomBuffer(t, rt, Shape{3, 3}, rng)
	f32 := randomBuffer32(t, rt, Shape{4, 4}, rng)

	ints, err := rt.AcquireBuffer(Shape{4}, Int32)
	require.NoError(t, err)
	defer ints.Release()

	cases := []struct {
		name string
		req  Request
	}{
		{"unknown op", Request{Op: "transmogrify", Inputs: []*Buffer{x}}},
		{"wrong arity", Request{Op: OpMatMul, Inputs: []*Buffer{x}}},
		{"nil input", Request{Op: OpAdd, Inputs: []*Buffer{x, nil}}},
		{"mixed dtypes", Request{Op: OpAdd, Inputs: []*Buffer{x, f32}}},
		{"integer dtype", Request{Op: OpSum, Inputs: []*Buffer{ints}}},
		{"non-conforming matmul", Request{Op: OpMatMul, Inputs: []*Buffer{x, y}}},
		{"shape mismatch add", Request{Op: OpAdd, Inputs: []*Buffer{x, y}}},
		{"non-square solve", Request{Op: OpSolve, Inputs: []*Buffer{y, x}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := rt.Do(context.Background(), tc.req)
			require.Error(t, err)
			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, ErrTypeInvalid, ce.Type)
		})
	}
}

func TestDoAfterClose(t *testing.T) {
	rt, err := Open()
	require.NoError(t, err)
	rt.Close()
	rt.Close() // idempotent

	_, err = rt.Do(context.Background(), Request{Op: OpSum})
	require.Error(t, err)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeInvalid, ce.Type)
}

func TestCancelledContext(t *testing.T) {
	rt := newTestContext(t)
	rng := rand.New(rand.NewSource(12))

	x := randomBuffer(t, rt, Shape{1 << 16}, rng)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rt.Do(ctx, Request{Op: OpSum, Inputs: []*Buffer{x}, Hint: Scalar})
	require.Error(t, err)
}

func TestCapabilitiesExposed(t *testing.T) {
	rt := newTestContext(t)

	caps := rt.Capabilities()
	require.NotNil(t, caps)
	assert.Greater(t, caps.Workers, 0)
	assert.NotEmpty(t, caps.BLASBackend)
	assert.Same(t, caps, rt.Capabilities(), "descriptor is shared, never rebuilt")
}
