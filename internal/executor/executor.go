// Package executor runs partitionable workloads on a fixed pool of
// long-lived workers and merges partial results deterministically.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/keel-sci/keel/internal/plan"
)

var log = logrus.WithField("sys", "executor")

// ErrClosed is returned by Run on a pool whose Close has begun.
var ErrClosed = errors.New("executor: pool is closed")

// task is one queued work unit.
type task func()

// Pool is a fixed set of worker goroutines consuming a bounded task queue.
// One pool is shared process-wide across all compute requests; beyond
// "eventually scheduled" it makes no fairness guarantees.
type Pool struct {
	tasks chan task
	wg    sync.WaitGroup

	// gate orders task submission against Close: Run holds the read side
	// while queueing so Close cannot close the channel under a send.
	gate   sync.RWMutex
	closed bool
}

// NewPool starts workers long-lived worker goroutines.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{tasks: make(chan task, workers*2)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				t()
			}
		}()
	}
	log.WithField("workers", workers).Debug("worker pool started")
	return p
}

// Close stops the workers after the queued tasks drain. It waits for any
// Run that is mid-submission; later Runs fail with ErrClosed.
func (p *Pool) Close() {
	p.gate.Lock()
	if p.closed {
		p.gate.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.gate.Unlock()
	p.wg.Wait()
}

// partial carries one chunk's output, indexed by partition so the merge
// order never depends on completion order.
type partial[T any] struct {
	index int
	value T
	err   error
}

// Run partitions [0, n) into pl.ChunkSize units, executes them under the
// plan's worker count, and folds the partial results with combine in
// ascending partition order. For a deterministic final result combine must
// be associative; commutativity is not needed since merge order is fixed.
//
// The first failing unit cancels the remaining units best-effort
// (cancellation is observed between chunks, not within one) and its error
// is returned; partial work is discarded, never returned.
func Run[T any](ctx context.Context, p *Pool, pl plan.Plan, n int,
	unit func(ctx context.Context, start, end int) (T, error),
	combine func(a, b T) T) (T, error) {

	var zero T
	if n <= 0 {
		return zero, nil
	}
	chunk := pl.ChunkSize
	if chunk <= 0 || chunk > n {
		chunk = n
	}
	nUnits := (n + chunk - 1) / chunk

	if pl.Workers <= 1 || nUnits == 1 {
		return runSequential(ctx, n, chunk, unit, combine)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]partial[T], nUnits)
	var wg sync.WaitGroup
	wg.Add(nUnits)

	p.gate.RLock()
	if p.closed {
		p.gate.RUnlock()
		return zero, ErrClosed
	}
	for i := 0; i < nUnits; i++ {
		i := i
		start := i * chunk
		end := min(start+chunk, n)
		p.tasks <- func() {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				results[i] = partial[T]{index: i, err: err}
				return
			}
			v, err := runUnit(ctx, start, end, unit)
			results[i] = partial[T]{index: i, value: v, err: err}
			if err != nil {
				cancel() // best-effort: remaining units bail at their boundary
			}
		}
	}
	p.gate.RUnlock()
	wg.Wait()

	// Surface the first failure in partition order and discard the rest.
	for _, r := range results {
		if r.err != nil && !errors.Is(r.err, context.Canceled) {
			return zero, r.err
		}
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	acc := results[0].value
	for _, r := range results[1:] {
		acc = combine(acc, r.value)
	}
	return acc, nil
}

func runSequential[T any](ctx context.Context, n, chunk int,
	unit func(ctx context.Context, start, end int) (T, error),
	combine func(a, b T) T) (T, error) {

	var zero T
	var acc T
	for start := 0; start < n; start += chunk {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := runUnit(ctx, start, min(start+chunk, n), unit)
		if err != nil {
			return zero, err
		}
		if start == 0 {
			acc = v
		} else {
			acc = combine(acc, v)
		}
	}
	return acc, nil
}

// runUnit executes one chunk, converting a panic (e.g. a numeric overflow
// signal) into an error instead of taking down a shared worker.
func runUnit[T any](ctx context.Context, start, end int,
	unit func(ctx context.Context, start, end int) (T, error)) (v T, err error) {

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor: unit [%d, %d) panicked: %v", start, end, r)
		}
	}()
	return unit(ctx, start, end)
}
