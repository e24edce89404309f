// Copyright 2025 The Keel Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package compute

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/keel-sci/keel/internal/config"
	"github.com/keel-sci/keel/internal/executor"
	"github.com/keel-sci/keel/internal/hwcaps"
	"github.com/keel-sci/keel/internal/linalg"
	"github.com/keel-sci/keel/internal/membuf"
	"github.com/keel-sci/keel/internal/rescache"
)

// Option adjusts a Context at construction.
type Option func(*settings)

type settings struct {
	cfg  config.Config
	caps *hwcaps.Descriptor
}

// WithWorkers overrides the worker-pool size.
func WithWorkers(n int) Option {
	return func(s *settings) { s.cfg.Workers = n }
}

// WithPoolCeiling overrides the buffer pool's byte ceiling.
func WithPoolCeiling(bytes uint64) Option {
	return func(s *settings) { s.cfg.PoolCeiling = bytes }
}

// WithBlockingPool makes buffer acquisition wait at the ceiling instead of
// failing fast.
func WithBlockingPool() Option {
	return func(s *settings) { s.cfg.PoolBlock = true }
}

// WithCacheBudget overrides the result cache's byte budget. Zero disables
// result caching; results are unchanged, only latency.
func WithCacheBudget(bytes uint64) Option {
	return func(s *settings) { s.cfg.CacheBudget = bytes }
}

// WithGPUThreshold overrides the element count above which GPU offload is
// considered.
func WithGPUThreshold(elements int) Option {
	return func(s *settings) { s.cfg.GPUMinElements = elements }
}

// WithParallelThreshold overrides the element count above which SIMD and
// multi-threaded execution are considered.
func WithParallelThreshold(elements int) Option {
	return func(s *settings) { s.cfg.ParallelMinElements = elements }
}

// WithWorkingSetLimit overrides the resident-byte bound for streaming.
func WithWorkingSetLimit(bytes uint64) Option {
	return func(s *settings) { s.cfg.WorkingSetLimit = bytes }
}

// withCapabilities injects a fabricated capability descriptor. Test-only:
// production contexts always detect the real host.
func withCapabilities(caps *hwcaps.Descriptor) Option {
	return func(s *settings) { s.caps = caps }
}

// Context is the runtime handle numeric packages compute through. It owns
// the worker pool, the buffer pool, the result cache, and the
// linear-algebra session, all built from one immutable capability
// descriptor. Contexts are safe for concurrent use.
type Context struct {
	caps    *hwcaps.Descriptor
	cfg     config.Config
	pool    *membuf.Pool
	cache   *rescache.Cache
	exec    *executor.Pool
	adapter *linalg.Adapter
	log     *logrus.Entry

	gpuFallbackOnce sync.Once
	closed          atomic.Bool
}

// Open builds a runtime context. Tunables default to the process
// configuration (environment and optional config file, read once); options
// override per context.
func Open(opts ...Option) (*Context, error) {
	s := settings{cfg: config.Load()}
	for _, opt := range opts {
		opt(&s)
	}
	if s.caps == nil {
		s.caps = hwcaps.Detect()
	}
	if s.cfg.Workers <= 0 {
		s.cfg.Workers = s.caps.Workers
	}

	var poolOpts []membuf.PoolOption
	if s.cfg.PoolBlock {
		poolOpts = append(poolOpts, membuf.WithBlocking())
	}
	pool := membuf.NewPool(s.cfg.PoolCeiling, poolOpts...)

	c := &Context{
		caps:    s.caps,
		cfg:     s.cfg,
		pool:    pool,
		cache:   rescache.New(s.cfg.CacheBudget),
		exec:    executor.NewPool(s.cfg.Workers),
		adapter: linalg.NewAdapter(pool),
		log:     logrus.WithField("sys", "compute"),
	}
	c.log.WithFields(logrus.Fields{
		"caps":    s.caps.String(),
		"workers": s.cfg.Workers,
	}).Debug("runtime context opened")
	return c, nil
}

// Close stops the worker pool and drains the buffer pool. The context must
// not be used afterwards; a request racing Close fails with an
// InvalidRequest error rather than executing on a stopped pool.
func (c *Context) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.exec.Close()
	c.pool.Drain()
}

// Capabilities returns the immutable host capability descriptor.
func (c *Context) Capabilities() *Capabilities {
	return c.caps
}

// Stats returns the runtime's diagnostic counters.
func (c *Context) Stats() Stats {
	return Stats{
		Pool:    c.pool.Stats(),
		Cache:   c.cache.Stats(),
		Backend: c.adapter.Backend(),
	}
}

// AcquireBuffer returns a zeroed buffer from the context's pool. The caller
// owns it until Release.
func (c *Context) AcquireBuffer(shape Shape, dtype DataType) (*Buffer, error) {
	buf, err := c.pool.Acquire(shape, dtype)
	if err != nil {
		return nil, wrapErr("AcquireBuffer", err)
	}
	return buf, nil
}

// ChunkedView streams src through the pool in views of at most chunkBytes.
// A zero chunkBytes uses the configured working-set limit.
func (c *Context) ChunkedView(src ArraySource, chunkBytes uint64) (*ChunkIter, error) {
	if chunkBytes == 0 {
		chunkBytes = c.cfg.WorkingSetLimit
	}
	it, err := c.pool.ChunkedView(src, chunkBytes)
	if err != nil {
		return nil, wrapErr("ChunkedView", err)
	}
	return it, nil
}
