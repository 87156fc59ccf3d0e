package pool

import (
	"container/list"
	"time"
)

// Chain is the ordered container of idle proxies, keyed by idle-start
// time (spec §4.A). It is a map+list structure in the same shape as the
// teacher's pkg/query/cache.go StmtCache: a map for O(1) membership lookup
// backed by a container/list.List that gives O(1) push/pop at either end.
//
// Chain performs no locking of its own — per spec §4.A the pool manager is
// the single serializer of chain mutations. Every exported method must be
// called with the owning Manager's lock held.
type Chain struct {
	order *list.List
	index map[*Proxy]*list.Element
}

// NewChain creates an empty chain.
func NewChain() *Chain {
	return &Chain{
		order: list.New(),
		index: make(map[*Proxy]*list.Element),
	}
}

// Len returns the number of idle entries.
func (c *Chain) Len() int {
	return c.order.Len()
}

// Add stamps p's idle time, sets its state to IDLE, and inserts it at the
// back (most-recently-idle end). A released proxy is already IDLE when it
// arrives here: the release path sets that state as it leaves IN_USE, so
// a second release of the same proxy is refused before it reaches the
// chain.
func (c *Chain) Add(p *Proxy, idleSince time.Time) {
	p.markIdleAt(idleSince)
	elem := c.order.PushBack(p)
	c.index[p] = elem
}

// PopMostRecent removes and returns the youngest-idle entry (LIFO on idle
// time), or false if the chain is empty. LIFO reuse maximizes warm
// cache / TCP keepalive reuse per spec §3.
func (c *Chain) PopMostRecent() (*Proxy, bool) {
	elem := c.order.Back()
	if elem == nil {
		return nil, false
	}
	c.order.Remove(elem)
	p := elem.Value.(*Proxy)
	delete(c.index, p)
	return p, true
}

// PeekOldest returns up to n of the oldest-idle entries without removing
// them, for the maintenance scheduler's non-destructive keepalive probe.
func (c *Chain) PeekOldest(n int) []*Proxy {
	if n <= 0 {
		return nil
	}
	out := make([]*Proxy, 0, n)
	for elem := c.order.Front(); elem != nil && len(out) < n; elem = elem.Next() {
		out = append(out, elem.Value.(*Proxy))
	}
	return out
}

// RemoveIdleLongerThan removes and returns every entry whose idle_since
// precedes now-duration, ordered oldest-first.
func (c *Chain) RemoveIdleLongerThan(duration time.Duration, now time.Time) []*Proxy {
	cutoff := now.Add(-duration)
	var out []*Proxy
	elem := c.order.Front()
	for elem != nil {
		next := elem.Next()
		p := elem.Value.(*Proxy)
		if p.IdleSince().Before(cutoff) {
			c.order.Remove(elem)
			delete(c.index, p)
			out = append(out, p)
		}
		elem = next
	}
	return out
}

// Remove takes a specific proxy out of the chain, e.g. after a failed
// keepalive probe. Reports whether it was present.
func (c *Chain) Remove(p *Proxy) bool {
	elem, ok := c.index[p]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.index, p)
	return true
}

// Contains reports whether p is currently chained (idle).
func (c *Chain) Contains(p *Proxy) bool {
	_, ok := c.index[p]
	return ok
}
