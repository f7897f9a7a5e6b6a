// Package cache's core type, Cache, implements spec.md §4.G: a bounded
// LRU-with-TTL map keyed by Fingerprint, plus single-flight coalescing
// via do_or_wait. Single-flight is hand-rolled rather than built on
// golang.org/x/sync/singleflight because spec.md §5 requires promoting
// the next waiter to producer when the current producer's own request
// is cancelled — singleflight.Group has no such per-waiter promotion
// hook; the whole group shares one Do call and one cancellation.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// Entry is a cached response body plus its insertion time (spec.md §3).
type Entry struct {
	Body         any
	InsertionTime time.Time
}

// Stats is the read-only snapshot exposed by the cache's status accessor
// (spec.md §4.G).
type Stats struct {
	Hits     uint64
	Misses   uint64
	Size     int
	Capacity int
	TTL      time.Duration
}

// HitRate returns Hits / (Hits + Misses), or 0 when no lookups happened yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Producer computes the body for a fingerprint; it is given the
// (possibly promoted) context for the currently active leader.
type Producer func(ctx context.Context) (any, error)

type cacheRecord struct {
	fp    Fingerprint
	entry Entry
}

// Cache is the bounded, TTL-indexed, single-flight response cache.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu        sync.Mutex
	entries   map[Fingerprint]*list.Element // list.Element.Value is *cacheRecord
	recency   *list.List                    // front = most recently used
	inflights map[Fingerprint]*inflightEntry

	hits   uint64
	misses uint64
}

// New builds a Cache with the given capacity (0 means never store, but
// single-flight coalescing still applies) and TTL.
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity:  capacity,
		ttl:       ttl,
		entries:   make(map[Fingerprint]*list.Element),
		recency:   list.New(),
		inflights: make(map[Fingerprint]*inflightEntry),
	}
}

// Get returns the cached entry for fp if it is still fresh as of now,
// lazily evicting it if expired (spec.md §4.G, §8 property 1).
func (c *Cache) Get(fp Fingerprint, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(fp, now)
}

func (c *Cache) getLocked(fp Fingerprint, now time.Time) (Entry, bool) {
	el, ok := c.entries[fp]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	rec := el.Value.(*cacheRecord)
	if now.Sub(rec.entry.InsertionTime) > c.ttl {
		c.recency.Remove(el)
		delete(c.entries, fp)
		c.misses++
		return Entry{}, false
	}
	c.recency.MoveToFront(el)
	c.hits++
	return rec.entry, true
}

// Set inserts or replaces fp's entry, evicting the least-recently-used
// entry first if at capacity (spec.md §4.G). Capacity 0 is a no-op store
// — the cache always misses but single-flight still coalesces.
func (c *Cache) Set(fp Fingerprint, body any, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(fp, body, now)
}

func (c *Cache) setLocked(fp Fingerprint, body any, now time.Time) {
	if c.capacity <= 0 {
		return
	}

	if el, ok := c.entries[fp]; ok {
		rec := el.Value.(*cacheRecord)
		rec.entry = Entry{Body: body, InsertionTime: now}
		c.recency.MoveToFront(el)
		return
	}

	if len(c.entries) >= c.capacity {
		back := c.recency.Back()
		if back != nil {
			rec := back.Value.(*cacheRecord)
			c.recency.Remove(back)
			delete(c.entries, rec.fp)
		}
	}

	el := c.recency.PushFront(&cacheRecord{fp: fp, entry: Entry{Body: body, InsertionTime: now}})
	c.entries[fp] = el
}

// Stats returns a snapshot of the cache's counters (spec.md §4.G).
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     len(c.entries),
		Capacity: c.capacity,
		TTL:      c.ttl,
	}
}

// waiter is one caller suspended on an in-flight producer's result.
type waiter struct {
	ctx      context.Context
	resultCh chan waiterResult
}

type waiterResult struct {
	body any
	err  error
}

// inflightEntry tracks every waiter for one fingerprint's in-flight
// computation (spec.md §3 InFlight).
type inflightEntry struct {
	mu      sync.Mutex
	waiters []*waiter
}

// ErrCancelled is returned to a do_or_wait caller whose own context was
// cancelled, whether or not it was acting as the producing leader.
var ErrCancelled = errors.New("cache: request cancelled")

// DoOrWait is the single-flight operation (spec.md §4.G). If a fresh
// cached entry exists it is returned immediately. Otherwise the caller
// joins (or starts) the in-flight computation for fp: the first caller
// becomes the leader and invokes producer with its own context; later
// callers wait for the leader's result. If the leader's context is
// cancelled mid-computation, the next waiter (if any) is promoted to
// leader and producer is invoked again with the new leader's context —
// every other waiter keeps waiting on the same eventual result.
func (c *Cache) DoOrWait(ctx context.Context, fp Fingerprint, producer Producer) (any, error) {
	now := time.Now()

	c.mu.Lock()
	if entry, ok := c.getLocked(fp, now); ok {
		c.mu.Unlock()
		return entry.Body, nil
	}

	w := &waiter{ctx: ctx, resultCh: make(chan waiterResult, 1)}

	if inf, ok := c.inflights[fp]; ok {
		inf.mu.Lock()
		inf.waiters = append(inf.waiters, w)
		inf.mu.Unlock()
		c.mu.Unlock()
		return c.await(fp, inf, w)
	}

	inf := &inflightEntry{waiters: []*waiter{w}}
	c.inflights[fp] = inf
	c.mu.Unlock()

	go c.run(fp, inf, producer)

	return c.await(fp, inf, w)
}

// run drives the producer loop for fp, promoting the next waiter to
// leader whenever the current leader's context is cancelled, until
// either a result is produced or no waiters remain.
func (c *Cache) run(fp Fingerprint, inf *inflightEntry, producer Producer) {
	for {
		inf.mu.Lock()
		if len(inf.waiters) == 0 {
			inf.mu.Unlock()
			c.mu.Lock()
			delete(c.inflights, fp)
			c.mu.Unlock()
			return
		}
		leader := inf.waiters[0]
		inf.mu.Unlock()

		body, err := producer(leader.ctx)

		if err != nil && leader.ctx.Err() != nil {
			inf.mu.Lock()
			inf.waiters = removeWaiter(inf.waiters, leader)
			inf.mu.Unlock()
			leader.resultCh <- waiterResult{err: ErrCancelled}
			continue
		}

		inf.mu.Lock()
		waiters := inf.waiters
		inf.waiters = nil
		inf.mu.Unlock()

		c.mu.Lock()
		delete(c.inflights, fp)
		if err == nil {
			c.setLocked(fp, body, time.Now())
		}
		c.mu.Unlock()

		for _, w := range waiters {
			if err == nil {
				w.resultCh <- waiterResult{body: body}
			} else {
				w.resultCh <- waiterResult{err: err}
			}
		}
		return
	}
}

// await suspends the caller until its waiter receives a result, the
// leader/promoted producer publishes one, or the caller's own context is
// cancelled first — in which case it removes itself from the waiter set
// so it is not delivered a stale result later.
func (c *Cache) await(fp Fingerprint, inf *inflightEntry, w *waiter) (any, error) {
	select {
	case r := <-w.resultCh:
		return r.body, r.err
	case <-w.ctx.Done():
		inf.mu.Lock()
		inf.waiters = removeWaiter(inf.waiters, w)
		inf.mu.Unlock()
		return nil, ErrCancelled
	}
}

func removeWaiter(waiters []*waiter, target *waiter) []*waiter {
	out := waiters[:0]
	for _, w := range waiters {
		if w != target {
			out = append(out, w)
		}
	}
	return out
}
