package membuf

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

var log = logrus.WithField("sys", "membuf")

// ErrAllocationExhausted is returned when an acquisition would push the pool
// past its configured ceiling and the pool is in fail-fast mode.
var ErrAllocationExhausted = errors.New("membuf: allocation would exceed pool ceiling")

const (
	// minClassBytes is the smallest size class. Requests below it round up.
	minClassBytes = 256

	// defaultSlabsPerClass caps the free list of each size class.
	defaultSlabsPerClass = 32
)

// Stats is a snapshot of the pool's counters.
type Stats struct {
	LiveBytes   uint64 // bytes currently owned by callers
	PooledBytes uint64 // bytes parked on free lists
	PeakBytes   uint64 // high-water mark of live+pooled bytes
	FreshAllocs uint64 // allocations that missed the free lists
	Hits        uint64 // acquisitions served from the free lists
	Frees       uint64 // slabs dropped past the per-class cap
}

// Pool hands out Buffers backed by size-class free lists under a global byte
// ceiling. Release parks storage on the free list of its class instead of
// freeing it; slabs past the per-class cap are dropped for the GC to reclaim.
type Pool struct {
	ceiling       uint64
	block         bool
	slabsPerClass int
	sem           *semaphore.Weighted
	waiters       atomic.Int64

	mu    sync.Mutex
	free  map[int][][]byte // class index -> parked slabs
	stats Stats
}

// PoolOption adjusts pool construction.
type PoolOption func(*Pool)

// WithBlocking makes Acquire wait for space at the ceiling instead of
// failing fast.
func WithBlocking() PoolOption {
	return func(p *Pool) { p.block = true }
}

// WithSlabsPerClass overrides the free-list cap of each size class.
func WithSlabsPerClass(n int) PoolOption {
	return func(p *Pool) { p.slabsPerClass = n }
}

// NewPool creates a pool with the given byte ceiling.
func NewPool(ceiling uint64, opts ...PoolOption) *Pool {
	if ceiling == 0 {
		ceiling = 1 << 62 // effectively unbounded
	}
	p := &Pool{
		ceiling:       ceiling,
		slabsPerClass: defaultSlabsPerClass,
		sem:           semaphore.NewWeighted(int64(ceiling)),
		free:          make(map[int][][]byte),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ceiling returns the configured byte ceiling.
func (p *Pool) Ceiling() uint64 {
	return p.ceiling
}

// classFor returns the size-class index and byte size for a request.
func classFor(byteSize int) (int, uint64) {
	if byteSize < minClassBytes {
		byteSize = minClassBytes
	}
	idx := bits.Len(uint(byteSize - 1)) // ceil(log2)
	return idx, uint64(1) << idx
}

// Acquire returns a zeroed buffer of the given shape and dtype, preferring
// the free list of the matching size class. At the ceiling it either fails
// with ErrAllocationExhausted or, for a blocking pool, waits for a release.
func (p *Pool) Acquire(shape Shape, dtype DataType) (*Buffer, error) {
	return p.AcquireContext(context.Background(), shape, dtype)
}

// AcquireContext is Acquire with cancellation while waiting at the ceiling.
func (p *Pool) AcquireContext(ctx context.Context, shape Shape, dtype DataType) (*Buffer, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("membuf: invalid shape: %w", err)
	}
	byteSize := shape.NumElements() * dtype.Size()
	cls, clsBytes := classFor(byteSize)
	if clsBytes > p.ceiling {
		return nil, fmt.Errorf("%w: need %d bytes, ceiling %d", ErrAllocationExhausted, clsBytes, p.ceiling)
	}

	slab := p.takeFree(cls, clsBytes)
	if slab == nil {
		// Fresh allocation: reserve ceiling budget first. Parked slabs of
		// other classes hold budget too, so drop enough of them before
		// failing or blocking; idle storage must never starve live work.
		if !p.sem.TryAcquire(int64(clsBytes)) {
			p.reclaim(clsBytes)
			if !p.sem.TryAcquire(int64(clsBytes)) {
				if !p.block {
					return nil, fmt.Errorf("%w: need %d bytes, ceiling %d", ErrAllocationExhausted, clsBytes, p.ceiling)
				}
				p.waiters.Add(1)
				// A slab parked between the reclaim above and the waiter
				// registration would strand its budget; sweep once more now
				// that releases go straight to the semaphore.
				p.reclaim(clsBytes)
				err := p.sem.Acquire(ctx, int64(clsBytes))
				p.waiters.Add(-1)
				if err != nil {
					return nil, fmt.Errorf("membuf: acquire cancelled: %w", err)
				}
			}
		}
		slab = make([]byte, clsBytes)
		p.mu.Lock()
		p.stats.FreshAllocs++
		p.stats.LiveBytes += clsBytes
		p.notePeakLocked()
		p.mu.Unlock()
	}

	data := slab[:byteSize]
	clear(data)
	return &Buffer{
		slab:   slab,
		data:   data,
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		class:  cls,
		pool:   p,
	}, nil
}

// Release returns a buffer's storage to the pool. Equivalent to buf.Release.
func (p *Pool) Release(buf *Buffer) {
	buf.Release()
}

// takeFree pops a parked slab of the class, moving its bytes live.
func (p *Pool) takeFree(cls int, clsBytes uint64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	slabs := p.free[cls]
	if len(slabs) == 0 {
		return nil
	}
	slab := slabs[len(slabs)-1]
	p.free[cls] = slabs[:len(slabs)-1]
	p.stats.PooledBytes -= clsBytes
	p.stats.LiveBytes += clsBytes
	p.stats.Hits++
	p.notePeakLocked()
	return slab
}

// recycle parks a released slab or drops it. With blocked acquirers waiting
// at the ceiling the slab is dropped so the semaphore budget frees up.
func (p *Pool) recycle(buf *Buffer) {
	clsBytes := uint64(len(buf.slab))

	p.mu.Lock()
	p.stats.LiveBytes -= clsBytes
	park := p.waiters.Load() == 0 && len(p.free[buf.class]) < p.slabsPerClass
	if park {
		p.free[buf.class] = append(p.free[buf.class], buf.slab)
		p.stats.PooledBytes += clsBytes
	} else {
		p.stats.Frees++
	}
	p.mu.Unlock()

	if !park {
		p.sem.Release(int64(clsBytes))
	}
}

// reclaim drops parked slabs, oldest first within each class, until at
// least need bytes of ceiling budget return to the semaphore.
func (p *Pool) reclaim(need uint64) {
	p.mu.Lock()
	var freed uint64
	for cls, slabs := range p.free {
		for len(slabs) > 0 && freed < need {
			freed += uint64(len(slabs[0]))
			slabs = slabs[1:]
			p.stats.Frees++
		}
		if len(slabs) == 0 {
			delete(p.free, cls)
		} else {
			p.free[cls] = slabs
		}
		if freed >= need {
			break
		}
	}
	p.stats.PooledBytes -= freed
	p.mu.Unlock()

	if freed > 0 {
		p.sem.Release(int64(freed))
	}
}

// Drain drops all parked slabs, releasing their ceiling budget.
func (p *Pool) Drain() {
	p.mu.Lock()
	var freed uint64
	for cls, slabs := range p.free {
		for _, slab := range slabs {
			freed += uint64(len(slab))
			p.stats.Frees++
		}
		delete(p.free, cls)
	}
	p.stats.PooledBytes -= freed
	p.mu.Unlock()

	if freed > 0 {
		p.sem.Release(int64(freed))
		log.WithField("bytes", freed).Debug("pool drained")
	}
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pool) notePeakLocked() {
	held := p.stats.LiveBytes + p.stats.PooledBytes
	if held > p.stats.PeakBytes {
		p.stats.PeakBytes = held
	}
}
