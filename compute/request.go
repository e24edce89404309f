// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/keel-sci/keel/internal/gpu"
	"github.com/keel-sci/keel/internal/plan"
	"github.com/keel-sci/keel/internal/rescache"
)

// Operation names accepted by Do.
const (
	OpMatMul = "matmul"
	OpAdd    = "add"
	OpScale  = "scale"
	OpSum    = "sum"
	OpDot    = "dot"
	OpSolve  = "solve"
	OpEigen  = "eigen"
)

// Request describes one computation. Inputs are borrowed for the duration
// of Do and never mutated; the caller keeps ownership.
type Request struct {
	// Op names the operation, one of the Op* constants.
	Op string
	// Inputs are the operands, in operation order.
	Inputs []*Buffer
	// Alpha is the scalar operand for OpScale; ignored elsewhere.
	Alpha float64
	// Hint requests an execution strategy. The zero value (Auto) lets the
	// planner pick; an unavailable hint degrades to the next cheaper
	// strategy unless Require is set.
	Hint    Strategy
	Require bool
	// Cacheable opts the result into the fingerprint cache. Only pure,
	// deterministic results may be cached; all shipped operations qualify.
	Cacheable bool
}

// opInfo is the static description of one operation: operand arity and a
// validator that also derives the output shape.
type opInfo struct {
	arity   int
	backend bool // executes on the linear-algebra adapter
	outOf   func(req Request) (Shape, error)
}

var ops = map[string]opInfo{
	OpMatMul: {arity: 2, outOf: matmulShape},
	OpAdd:    {arity: 2, outOf: elementwiseShape},
	OpScale:  {arity: 1, outOf: func(req Request) (Shape, error) { return req.Inputs[0].Shape().Clone(), nil }},
	OpSum:    {arity: 1, outOf: reductionShape},
	OpDot:    {arity: 2, outOf: dotShape},
	OpSolve:  {arity: 2, backend: true, outOf: solveShape},
	OpEigen:  {arity: 1, backend: true, outOf: eigenShape},
}

// Do executes one computation and returns a freshly acquired result buffer
// owned by the caller. Strategy selection, caching, and GPU fallback are
// handled here; the numeric result is independent of the strategy chosen.
func (c *Context) Do(ctx context.Context, req Request) (*Buffer, error) {
	if c.closed.Load() {
		return nil, invalidErr(req.Op, "context is closed")
	}
	info, outShape, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	opts := plan.Options{
		Hint:                req.Hint,
		Require:             req.Require,
		GPUMinElements:      c.cfg.GPUMinElements,
		ParallelMinElements: c.cfg.ParallelMinElements,
		Workers:             c.cfg.Workers,
		GPUSupported:        gpu.Supports(req.Op),
	}
	n := workloadElements(req)
	pl, err := plan.Select(n, req.Inputs[0].DType(), opts, c.caps)
	if err != nil {
		return nil, wrapErr(req.Op, err)
	}

	log := c.log.WithFields(logrus.Fields{
		"req": uuid.NewString()[:8],
		"op":  req.Op,
	})
	log.WithFields(logrus.Fields{"n": n, "plan": pl.String()}).Debug("request planned")

	if req.Cacheable && c.cfg.CacheBudget > 0 {
		return c.doCached(ctx, log, req, info, pl, opts, outShape)
	}
	return c.execute(ctx, log, req, info, pl, opts, outShape)
}

// doCached routes the request through the result cache. Cached payloads are
// plain byte copies, so a hit costs one copy into a fresh pool buffer and
// releasing the result cannot invalidate the cache.
func (c *Context) doCached(ctx context.Context, log *logrus.Entry, req Request,
	info opInfo, pl plan.Plan, opts plan.Options, outShape Shape) (*Buffer, error) {

	var cfg [8]byte
	binary.LittleEndian.PutUint64(cfg[:], math.Float64bits(req.Alpha))
	fp := rescache.FingerprintOf(req.Op, cfg[:], req.Inputs...)

	lease, err := c.cache.GetOrCompute(fp, func() ([]byte, error) {
		out, err := c.execute(ctx, log, req, info, pl, opts, outShape)
		if err != nil {
			return nil, err
		}
		defer out.Release()
		data := make([]byte, out.ByteSize())
		copy(data, out.Bytes())
		return data, nil
	})
	if err != nil {
		return nil, wrapErr(req.Op, err)
	}
	defer lease.Release()

	out, err := c.pool.Acquire(outShape, req.Inputs[0].DType())
	if err != nil {
		return nil, wrapErr(req.Op, err)
	}
	copy(out.Bytes(), lease.Bytes())
	return out, nil
}

// execute dispatches one planned request. A GPU plan that fails because the
// device cannot be initialized falls back to a CPU plan; any other failure
// is final.
func (c *Context) execute(ctx context.Context, log *logrus.Entry, req Request,
	info opInfo, pl plan.Plan, opts plan.Options, outShape Shape) (*Buffer, error) {

	if info.backend {
		return c.executeBackend(req)
	}

	out, err := c.executeKernel(ctx, req, pl, outShape)
	if err != nil && pl.Strategy == plan.GPU && errors.Is(err, gpu.ErrUnavailable) {
		c.gpuFallbackOnce.Do(func() {
			c.log.Warn("gpu device unavailable, falling back to cpu for this and future requests")
		})
		opts.GPUSupported = false
		cpuPlan, perr := plan.Select(workloadElements(req), req.Inputs[0].DType(), opts, c.caps)
		if perr != nil {
			return nil, wrapErr(req.Op, perr)
		}
		log.WithField("plan", cpuPlan.String()).Debug("replanned after gpu failure")
		out, err = c.executeKernel(ctx, req, cpuPlan, outShape)
	}
	if err != nil {
		return nil, wrapErr(req.Op, err)
	}
	return out, nil
}

func (c *Context) executeBackend(req Request) (*Buffer, error) {
	var out *Buffer
	var err error
	switch req.Op {
	case OpSolve:
		out, err = c.adapter.Solve(req.Inputs[0], req.Inputs[1])
	case OpEigen:
		out, err = c.adapter.Eigen(req.Inputs[0])
	}
	if err != nil {
		return nil, wrapErr(req.Op, err)
	}
	return out, nil
}

func (c *Context) executeKernel(ctx context.Context, req Request, pl plan.Plan, outShape Shape) (*Buffer, error) {
	switch req.Op {
	case OpMatMul:
		return c.execMatMul(ctx, pl, req.Inputs[0], req.Inputs[1], outShape)
	case OpAdd:
		return c.execAdd(ctx, pl, req.Inputs[0], req.Inputs[1], outShape)
	case OpScale:
		return c.execScale(ctx, pl, req.Inputs[0], req.Alpha, outShape)
	case OpSum:
		return c.execSum(ctx, pl, req.Inputs[0])
	case OpDot:
		return c.execDot(ctx, pl, req.Inputs[0], req.Inputs[1])
	default:
		return nil, invalidErr(req.Op, "no kernel registered")
	}
}

// validate checks arity, operand health, and dtype agreement, then derives
// the output shape.
func (c *Context) validate(req Request) (opInfo, Shape, error) {
	info, ok := ops[req.Op]
	if !ok {
		return opInfo{}, nil, invalidErr(req.Op, "unknown operation")
	}
	if len(req.Inputs) != info.arity {
		return opInfo{}, nil, invalidErr(req.Op, "want %d inputs, got %d", info.arity, len(req.Inputs))
	}
	for i, in := range req.Inputs {
		if in == nil {
			return opInfo{}, nil, invalidErr(req.Op, "input %d is nil", i)
		}
		if dt := in.DType(); dt != Float32 && dt != Float64 {
			return opInfo{}, nil, invalidErr(req.Op, "input %d has dtype %s, numeric operations require float32 or float64", i, dt)
		}
		if in.DType() != req.Inputs[0].DType() {
			return opInfo{}, nil, invalidErr(req.Op, "mixed dtypes: input 0 is %s, input %d is %s",
				req.Inputs[0].DType(), i, in.DType())
		}
	}
	outShape, err := info.outOf(req)
	if err != nil {
		return opInfo{}, nil, err
	}
	return info, outShape, nil
}

// workloadElements sizes the workload for strategy selection: the output
// element count for matmul (each output element is a k-length dot product),
// the input element count otherwise.
func workloadElements(req Request) int {
	if req.Op == OpMatMul {
		return req.Inputs[0].Shape()[0] * req.Inputs[1].Shape()[1]
	}
	return req.Inputs[0].NumElements()
}

func matmulShape(req Request) (Shape, error) {
	xs, ys := req.Inputs[0].Shape(), req.Inputs[1].Shape()
	if len(xs) != 2 || len(ys) != 2 {
		return nil, invalidErr(req.Op, "operands must be 2D, got %s and %s", xs, ys)
	}
	if xs[1] != ys[0] {
		return nil, invalidErr(req.Op, "inner dimensions differ: %s @ %s", xs, ys)
	}
	return Shape{xs[0], ys[1]}, nil
}

func elementwiseShape(req Request) (Shape, error) {
	xs, ys := req.Inputs[0].Shape(), req.Inputs[1].Shape()
	if !xs.Equal(ys) {
		return nil, invalidErr(req.Op, "shape mismatch: %s vs %s", xs, ys)
	}
	return xs.Clone(), nil
}

func reductionShape(req Request) (Shape, error) {
	return Shape{1}, nil
}

func dotShape(req Request) (Shape, error) {
	if req.Inputs[0].NumElements() != req.Inputs[1].NumElements() {
		return nil, invalidErr(req.Op, "length mismatch: %d vs %d",
			req.Inputs[0].NumElements(), req.Inputs[1].NumElements())
	}
	return Shape{1}, nil
}

func solveShape(req Request) (Shape, error) {
	xs, rs := req.Inputs[0].Shape(), req.Inputs[1].Shape()
	if len(xs) != 2 || xs[0] != xs[1] {
		return nil, invalidErr(req.Op, "coefficient matrix must be square 2D, got %s", xs)
	}
	if len(rs) < 1 || len(rs) > 2 || rs[0] != xs[0] {
		return nil, invalidErr(req.Op, "rhs %s does not conform to %s", rs, xs)
	}
	return rs.Clone(), nil
}

func eigenShape(req Request) (Shape, error) {
	xs := req.Inputs[0].Shape()
	if len(xs) != 2 || xs[0] != xs[1] {
		return nil, invalidErr(req.Op, "matrix must be square 2D, got %s", xs)
	}
	return Shape{xs[0], 2}, nil
}
