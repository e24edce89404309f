// Package rescache memoizes expensive, pure numeric computations keyed by a
// content fingerprint. It is strictly an optimization: with the cache
// disabled every call falls through to the compute function and the numeric
// results are unchanged.
package rescache

import (
	"container/list"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("sys", "rescache")

// Stats is a snapshot of the cache's counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Bytes     uint64
	Entries   int
}

// entry is one cached result. Entries on the LRU list are owned by the
// cache; readers pin them so eviction never drops data someone is copying.
type entry struct {
	fp      Fingerprint
	data    []byte
	readers int
	elem    *list.Element // nil for entries too large to retain
}

// flight tracks an in-progress computation so concurrent requests for the
// same fingerprint wait for the leader instead of duplicating work.
type flight struct {
	done chan struct{}
	ent  *entry
	err  error
}

// Cache is a byte-budgeted, least-recently-used result cache with
// at-most-one in-flight computation per fingerprint. A zero budget disables
// retention entirely.
type Cache struct {
	budget uint64

	mu      sync.Mutex
	entries map[Fingerprint]*entry
	flights map[Fingerprint]*flight
	lru     *list.List // front = most recent
	stats   Stats
}

// New creates a cache with the given byte budget.
func New(budget uint64) *Cache {
	return &Cache{
		budget:  budget,
		entries: make(map[Fingerprint]*entry),
		flights: make(map[Fingerprint]*flight),
		lru:     list.New(),
	}
}

// Lease is pinned read access to a cached result. The bytes must be treated
// as immutable and are valid until Release.
type Lease struct {
	c   *Cache
	ent *entry
}

// Bytes returns the cached payload.
func (l *Lease) Bytes() []byte {
	return l.ent.data
}

// Release unpins the entry, making it evictable again. If pinned readers
// were keeping the cache over budget, the overshoot is trimmed here rather
// than deferred to the next insert.
func (l *Lease) Release() {
	l.c.mu.Lock()
	l.ent.readers--
	if l.c.stats.Bytes > l.c.budget {
		l.c.evictLocked()
	}
	l.c.mu.Unlock()
}

// GetOrCompute returns the cached result for fp, or runs compute to produce
// it. At most one computation per fingerprint is in flight: concurrent
// callers block on the leader's result. A hit never re-executes compute; a
// failed computation is never cached and the error is shared with the
// callers that were waiting on it.
func (c *Cache) GetOrCompute(fp Fingerprint, compute func() ([]byte, error)) (*Lease, error) {
	c.mu.Lock()
	if ent, ok := c.entries[fp]; ok {
		ent.readers++
		c.lru.MoveToFront(ent.elem)
		c.stats.Hits++
		c.mu.Unlock()
		return &Lease{c: c, ent: ent}, nil
	}
	if fl, ok := c.flights[fp]; ok {
		c.mu.Unlock()
		<-fl.done
		if fl.err != nil {
			return nil, fl.err
		}
		c.mu.Lock()
		fl.ent.readers++
		if fl.ent.elem != nil {
			c.lru.MoveToFront(fl.ent.elem)
		}
		c.stats.Hits++
		c.mu.Unlock()
		return &Lease{c: c, ent: fl.ent}, nil
	}

	// Miss with no flight: become the leader.
	fl := &flight{done: make(chan struct{})}
	c.flights[fp] = fl
	c.stats.Misses++
	c.mu.Unlock()

	data, err := compute()

	c.mu.Lock()
	delete(c.flights, fp)
	if err != nil {
		fl.err = err
		c.mu.Unlock()
		close(fl.done)
		return nil, err
	}
	ent := &entry{fp: fp, data: data, readers: 1}
	if c.budget > 0 && uint64(len(data)) <= c.budget {
		ent.elem = c.lru.PushFront(ent)
		c.entries[fp] = ent
		c.stats.Bytes += uint64(len(data))
		c.evictLocked()
	}
	fl.ent = ent
	c.mu.Unlock()
	close(fl.done)
	return &Lease{c: c, ent: ent}, nil
}

// evictLocked drops least-recently-used entries with zero readers until the
// budget holds. Pinned entries are skipped, so the total may transiently
// exceed the budget while readers are active.
func (c *Cache) evictLocked() {
	elem := c.lru.Back()
	for c.stats.Bytes > c.budget && elem != nil {
		prev := elem.Prev()
		ent := elem.Value.(*entry)
		if ent.readers == 0 {
			c.lru.Remove(elem)
			delete(c.entries, ent.fp)
			c.stats.Bytes -= uint64(len(ent.data))
			c.stats.Evictions++
			log.WithField("fp", ent.fp.String()[:12]).Debug("evicted cache entry")
		}
		elem = prev
	}
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}
