// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import (
	"context"

	"github.com/keel-sci/keel/internal/gpu"
	"github.com/keel-sci/keel/internal/plan"
)

// ApplyStream visits src chunk by chunk, holding at most the working-set
// limit of pooled memory. The chunk view passed to fn is only valid for the
// duration of the call; offset is the chunk's element offset within src.
func (c *Context) ApplyStream(ctx context.Context, src ArraySource, fn func(offset int, chunk *Buffer) error) error {
	const op = "ApplyStream"
	it, err := c.ChunkedView(src, 0)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := ctx.Err(); err != nil {
			return wrapErr(op, err)
		}
		if err := fn(it.Offset(), it.Chunk()); err != nil {
			return wrapErr(op, err)
		}
	}
	return wrapErr(op, it.Err())
}

// SumStream reduces src to its sum without ever materializing it. Chunks
// stream through one pooled buffer; each chunk is reduced under the usual
// strategy selection, and partials accumulate in float64 regardless of the
// source dtype.
func (c *Context) SumStream(ctx context.Context, src ArraySource) (float64, error) {
	const op = "SumStream"
	if dt := src.DType(); dt != Float32 && dt != Float64 {
		return 0, invalidErr(op, "source dtype %s, streaming reduction requires float32 or float64", dt)
	}

	var total float64
	err := c.ApplyStream(ctx, src, func(_ int, chunk *Buffer) error {
		n := chunk.NumElements()
		pl, err := plan.Select(n, chunk.DType(), plan.Options{
			GPUMinElements:      c.cfg.GPUMinElements,
			ParallelMinElements: c.cfg.ParallelMinElements,
			Workers:             c.cfg.Workers,
			GPUSupported:        gpu.Supports(OpSum),
		}, c.caps)
		if err != nil {
			return err
		}

		switch chunk.DType() {
		case Float64:
			partial, err := reduceRange(ctx, c.exec, pl, n, func(start, end int) float64 {
				return sumRange(chunk.AsFloat64(), start, end)
			})
			if err != nil {
				return err
			}
			total += partial
		default:
			partial, err := reduceRange(ctx, c.exec, pl, n, func(start, end int) float32 {
				return sumRange(chunk.AsFloat32(), start, end)
			})
			if err != nil {
				return err
			}
			total += float64(partial)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// MeanStream is SumStream divided by the source length.
func (c *Context) MeanStream(ctx context.Context, src ArraySource) (float64, error) {
	if src.Len() == 0 {
		return 0, invalidErr("MeanStream", "source is empty")
	}
	total, err := c.SumStream(ctx, src)
	if err != nil {
		return 0, err
	}
	return total / float64(src.Len()), nil
}
