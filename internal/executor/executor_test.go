package executor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keel-sci/keel/internal/plan"
)

func parallelPlan(workers, chunk int) plan.Plan {
	return plan.Plan{Strategy: plan.Parallel, Workers: workers, ChunkSize: chunk}
}

func TestRunSumMatchesAcrossWorkerCounts(t *testing.T) {
	data := make([]float64, 100_000)
	for i := range data {
		data[i] = float64(i%101) / 7
	}
	sumUnit := func(_ context.Context, start, end int) (float64, error) {
		var s float64
		for _, v := range data[start:end] {
			s += v
		}
		return s, nil
	}
	add := func(a, b float64) float64 { return a + b }

	var want float64
	for _, v := range data {
		want += v
	}

	for _, workers := range []int{1, 2, runtime.NumCPU()} {
		p := NewPool(workers)
		got, err := Run(context.Background(), p, parallelPlan(workers, 1024), len(data), sumUnit, add)
		p.Close()

		require.NoError(t, err)
		// Fixed partition-order merge keeps the float result bit-stable.
		assert.Equal(t, want, got, "workers=%d", workers)
	}
}

func TestRunMergesInPartitionOrder(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	// Concatenation is associative but not commutative: the result is
	// only correct if merge order follows partition index.
	unit := func(_ context.Context, start, end int) ([]int, error) {
		out := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	concat := func(a, b []int) []int { return append(a, b...) }

	for trial := 0; trial < 20; trial++ {
		got, err := Run(context.Background(), p, parallelPlan(4, 7), 100, unit, concat)
		require.NoError(t, err)
		require.Len(t, got, 100)
		for i, v := range got {
			require.Equal(t, i, v)
		}
	}
}

func TestRunSurfacesFirstFailure(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	boom := errors.New("numeric overflow in unit")
	unit := func(_ context.Context, start, _ int) (int, error) {
		if start >= 512 {
			return 0, boom
		}
		return 1, nil
	}

	_, err := Run(context.Background(), p, parallelPlan(4, 128), 4096, unit,
		func(a, b int) int { return a + b })
	assert.ErrorIs(t, err, boom)
}

func TestRunCancelsRemainingUnits(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var executed atomic.Int64
	boom := errors.New("fail fast")
	unit := func(_ context.Context, start, _ int) (int, error) {
		executed.Add(1)
		if start == 0 {
			return 0, boom
		}
		return 1, nil
	}

	_, err := Run(context.Background(), p, parallelPlan(2, 1), 10_000, unit,
		func(a, b int) int { return a + b })
	require.ErrorIs(t, err, boom)
	assert.Less(t, executed.Load(), int64(10_000), "cancellation should skip most units")
}

func TestRunRespectsCallerCancellation(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, p, parallelPlan(2, 8), 1024,
		func(ctx context.Context, _, _ int) (int, error) { return 1, nil },
		func(a, b int) int { return a + b })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRecoversUnitPanic(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	_, err := Run(context.Background(), p, parallelPlan(2, 16), 64,
		func(_ context.Context, start, _ int) (int, error) {
			if start == 16 {
				panic("overflow signal")
			}
			return 1, nil
		},
		func(a, b int) int { return a + b })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "overflow signal")
}

func TestRunSequentialFallback(t *testing.T) {
	p := NewPool(4)
	defer p.Close()

	// Workers=1 plans never touch the queue.
	got, err := Run(context.Background(), p, plan.Plan{Strategy: plan.Scalar, Workers: 1, ChunkSize: 10}, 100,
		func(_ context.Context, start, end int) (int, error) { return end - start, nil },
		func(a, b int) int { return a + b })

	require.NoError(t, err)
	assert.Equal(t, 100, got)
}

func TestRunEmptyWorkload(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	got, err := Run(context.Background(), p, parallelPlan(2, 8), 0,
		func(_ context.Context, _, _ int) (int, error) { return 1, nil },
		func(a, b int) int { return a + b })
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestPoolCloseIdempotent(t *testing.T) {
	p := NewPool(2)
	p.Close()
	assert.NotPanics(t, p.Close)
}

func TestRunAfterCloseFails(t *testing.T) {
	p := NewPool(2)
	p.Close()

	assert.NotPanics(t, func() {
		_, err := Run(context.Background(), p, parallelPlan(2, 8), 1024,
			func(_ context.Context, start, end int) (int, error) { return end - start, nil },
			func(a, b int) int { return a + b })
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestCloseDuringRunsDoesNotPanic(t *testing.T) {
	p := NewPool(4)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := Run(context.Background(), p, parallelPlan(4, 16), 256,
					func(_ context.Context, start, end int) (int, error) { return end - start, nil },
					func(a, b int) int { return a + b })
				if errors.Is(err, ErrClosed) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
			}
		}()
	}
	p.Close()
	wg.Wait()
}
