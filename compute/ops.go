// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import (
	"context"

	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"

	"github.com/keel-sci/keel/internal/executor"
	"github.com/keel-sci/keel/internal/gpu"
	"github.com/keel-sci/keel/internal/plan"
)

// float constrains the element types the numeric kernels operate on.
type float interface {
	~float32 | ~float64
}

// The kernels below implement each operation once per strategy. Strategies
// differ only in scheduling and accumulation order; any two must agree
// within floating-point reassociation error on the same inputs.

func (c *Context) execMatMul(ctx context.Context, pl plan.Plan, x, y *Buffer, outShape Shape) (*Buffer, error) {
	m, k, n := x.Shape()[0], x.Shape()[1], y.Shape()[1]

	switch pl.Strategy {
	case plan.GPU:
		res, err := gpu.MatMulF32(x.AsFloat32(), y.AsFloat32(), m, k, n)
		if err != nil {
			return nil, err
		}
		return c.newResult(outShape, Float32, func(out *Buffer) {
			copy(out.AsFloat32(), res)
		})

	case plan.SIMD:
		return c.adapter.MatMul(x, y)

	default:
		out, err := c.pool.Acquire(outShape, x.DType())
		if err != nil {
			return nil, err
		}
		// The planner sizes chunks in output elements; row partitioning
		// needs whole rows per unit.
		rowPlan := pl
		rowPlan.ChunkSize = max(1, pl.ChunkSize/n)

		var runErr error
		switch x.DType() {
		case Float64:
			runErr = c.runRange(ctx, rowPlan, m, func(start, end int) {
				matmulRows(x.AsFloat64(), y.AsFloat64(), out.AsFloat64(), start, end, k, n)
			})
		default:
			runErr = c.runRange(ctx, rowPlan, m, func(start, end int) {
				matmulRows(x.AsFloat32(), y.AsFloat32(), out.AsFloat32(), start, end, k, n)
			})
		}
		if runErr != nil {
			out.Release()
			return nil, runErr
		}
		return out, nil
	}
}

func (c *Context) execAdd(ctx context.Context, pl plan.Plan, x, y *Buffer, outShape Shape) (*Buffer, error) {
	n := x.NumElements()

	switch pl.Strategy {
	case plan.GPU:
		res, err := gpu.AddF32(x.AsFloat32(), y.AsFloat32())
		if err != nil {
			return nil, err
		}
		return c.newResult(outShape, Float32, func(out *Buffer) {
			copy(out.AsFloat32(), res)
		})

	case plan.SIMD:
		switch x.DType() {
		case Float64:
			return c.newResult(outShape, Float64, func(out *Buffer) {
				dst := out.AsFloat64()
				copy(dst, y.AsFloat64())
				blas64.Axpy(1,
					blas64.Vector{N: n, Data: x.AsFloat64(), Inc: 1},
					blas64.Vector{N: n, Data: dst, Inc: 1})
			})
		default:
			return c.newResult(outShape, Float32, func(out *Buffer) {
				dst := out.AsFloat32()
				copy(dst, y.AsFloat32())
				blas32.Axpy(1,
					blas32.Vector{N: n, Data: x.AsFloat32(), Inc: 1},
					blas32.Vector{N: n, Data: dst, Inc: 1})
			})
		}

	default:
		out, err := c.pool.Acquire(outShape, x.DType())
		if err != nil {
			return nil, err
		}
		var runErr error
		switch x.DType() {
		case Float64:
			runErr = c.runRange(ctx, pl, n, func(start, end int) {
				addRange(x.AsFloat64(), y.AsFloat64(), out.AsFloat64(), start, end)
			})
		default:
			runErr = c.runRange(ctx, pl, n, func(start, end int) {
				addRange(x.AsFloat32(), y.AsFloat32(), out.AsFloat32(), start, end)
			})
		}
		if runErr != nil {
			out.Release()
			return nil, runErr
		}
		return out, nil
	}
}

func (c *Context) execScale(ctx context.Context, pl plan.Plan, x *Buffer, alpha float64, outShape Shape) (*Buffer, error) {
	n := x.NumElements()

	switch pl.Strategy {
	case plan.GPU:
		res, err := gpu.ScaleF32(float32(alpha), x.AsFloat32())
		if err != nil {
			return nil, err
		}
		return c.newResult(outShape, Float32, func(out *Buffer) {
			copy(out.AsFloat32(), res)
		})

	case plan.SIMD:
		switch x.DType() {
		case Float64:
			return c.newResult(outShape, Float64, func(out *Buffer) {
				dst := out.AsFloat64()
				copy(dst, x.AsFloat64())
				blas64.Scal(alpha, blas64.Vector{N: n, Data: dst, Inc: 1})
			})
		default:
			return c.newResult(outShape, Float32, func(out *Buffer) {
				dst := out.AsFloat32()
				copy(dst, x.AsFloat32())
				blas32.Scal(float32(alpha), blas32.Vector{N: n, Data: dst, Inc: 1})
			})
		}

	default:
		out, err := c.pool.Acquire(outShape, x.DType())
		if err != nil {
			return nil, err
		}
		var runErr error
		switch x.DType() {
		case Float64:
			runErr = c.runRange(ctx, pl, n, func(start, end int) {
				scaleRange(alpha, x.AsFloat64(), out.AsFloat64(), start, end)
			})
		default:
			runErr = c.runRange(ctx, pl, n, func(start, end int) {
				scaleRange(float32(alpha), x.AsFloat32(), out.AsFloat32(), start, end)
			})
		}
		if runErr != nil {
			out.Release()
			return nil, runErr
		}
		return out, nil
	}
}

func (c *Context) execSum(ctx context.Context, pl plan.Plan, x *Buffer) (*Buffer, error) {
	n := x.NumElements()

	switch x.DType() {
	case Float64:
		var total float64
		var err error
		if pl.Strategy == plan.SIMD {
			total = floats.Sum(x.AsFloat64())
		} else {
			total, err = reduceRange(ctx, c.exec, pl, n, func(start, end int) float64 {
				return sumRange(x.AsFloat64(), start, end)
			})
			if err != nil {
				return nil, err
			}
		}
		return c.newResult(Shape{1}, Float64, func(out *Buffer) {
			out.AsFloat64()[0] = total
		})

	default:
		total, err := reduceRange(ctx, c.exec, pl, n, func(start, end int) float32 {
			return sumRange(x.AsFloat32(), start, end)
		})
		if err != nil {
			return nil, err
		}
		return c.newResult(Shape{1}, Float32, func(out *Buffer) {
			out.AsFloat32()[0] = total
		})
	}
}

func (c *Context) execDot(ctx context.Context, pl plan.Plan, x, y *Buffer) (*Buffer, error) {
	n := x.NumElements()

	switch x.DType() {
	case Float64:
		var total float64
		var err error
		if pl.Strategy == plan.SIMD {
			total = blas64.Dot(
				blas64.Vector{N: n, Data: x.AsFloat64(), Inc: 1},
				blas64.Vector{N: n, Data: y.AsFloat64(), Inc: 1})
		} else {
			total, err = reduceRange(ctx, c.exec, pl, n, func(start, end int) float64 {
				return dotRange(x.AsFloat64(), y.AsFloat64(), start, end)
			})
			if err != nil {
				return nil, err
			}
		}
		return c.newResult(Shape{1}, Float64, func(out *Buffer) {
			out.AsFloat64()[0] = total
		})

	default:
		var total float32
		var err error
		if pl.Strategy == plan.SIMD {
			total = blas32.Dot(
				blas32.Vector{N: n, Data: x.AsFloat32(), Inc: 1},
				blas32.Vector{N: n, Data: y.AsFloat32(), Inc: 1})
		} else {
			total, err = reduceRange(ctx, c.exec, pl, n, func(start, end int) float32 {
				return dotRange(x.AsFloat32(), y.AsFloat32(), start, end)
			})
			if err != nil {
				return nil, err
			}
		}
		return c.newResult(Shape{1}, Float32, func(out *Buffer) {
			out.AsFloat32()[0] = total
		})
	}
}

// newResult acquires a buffer and fills it in place.
func (c *Context) newResult(shape Shape, dtype DataType, fill func(out *Buffer)) (*Buffer, error) {
	out, err := c.pool.Acquire(shape, dtype)
	if err != nil {
		return nil, err
	}
	fill(out)
	return out, nil
}

// runRange executes unit over [0, n) under the plan. Units write disjoint
// output ranges, so there is nothing to merge.
func (c *Context) runRange(ctx context.Context, pl plan.Plan, n int, unit func(start, end int)) error {
	_, err := executor.Run(ctx, c.exec, pl, n,
		func(_ context.Context, start, end int) (struct{}, error) {
			unit(start, end)
			return struct{}{}, nil
		},
		func(a, _ struct{}) struct{} { return a })
	return err
}

// reduceRange folds unit's partial values in ascending partition order, so
// the result is identical for any worker count.
func reduceRange[T float](ctx context.Context, exec *executor.Pool, pl plan.Plan, n int,
	unit func(start, end int) T) (T, error) {

	return executor.Run(ctx, exec, pl, n,
		func(_ context.Context, start, end int) (T, error) {
			return unit(start, end), nil
		},
		func(a, b T) T { return a + b })
}

func matmulRows[T float](a, b, out []T, start, end, k, n int) {
	for i := start; i < end; i++ {
		row := out[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			brow := b[p*n : (p+1)*n]
			for j, bv := range brow {
				row[j] += av * bv
			}
		}
	}
}

func addRange[T float](x, y, out []T, start, end int) {
	for i := start; i < end; i++ {
		out[i] = x[i] + y[i]
	}
}

func scaleRange[T float](alpha T, x, out []T, start, end int) {
	for i := start; i < end; i++ {
		out[i] = alpha * x[i]
	}
}

func sumRange[T float](x []T, start, end int) T {
	var acc T
	for _, v := range x[start:end] {
		acc += v
	}
	return acc
}

func dotRange[T float](x, y []T, start, end int) T {
	var acc T
	for i := start; i < end; i++ {
		acc += x[i] * y[i]
	}
	return acc
}
