package runtime

import "sync"

// CurrentAndMax is a thread-safe counter with an upper bound.
type CurrentAndMax struct {
	mu      sync.RWMutex
	current uint64
	max     uint64
}

// Allocate reserves delta units. It fails atomically when the addition
// would overflow or exceed the maximum.
func (c *CurrentAndMax) Allocate(delta uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current+delta < c.current {
		return false
	}
	if c.current+delta > c.max {
		return false
	}
	c.current += delta
	return true
}

// Free returns delta units. Freeing more than is outstanding is a bug.
func (c *CurrentAndMax) Free(delta uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current-delta > c.current {
		panic("runtime: quota underflow")
	}
	c.current -= delta
}

// Current returns the outstanding allocation.
func (c *CurrentAndMax) Current() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Max returns the allocation ceiling.
func (c *CurrentAndMax) Max() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.max
}

// SetMax replaces the allocation ceiling. Outstanding allocations above
// the new ceiling stay allocated; further allocation fails until they
// are freed.
func (c *CurrentAndMax) SetMax(newMax uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.max = newMax
}

// ResourceQuota bounds memory pages and table elements. A quota may be
// shared by several memories and tables; they draw from the same pool.
type ResourceQuota struct {
	MemoryPages CurrentAndMax
	TableElems  CurrentAndMax
}

// NewResourceQuota returns an effectively unlimited quota.
func NewResourceQuota() *ResourceQuota {
	q := &ResourceQuota{}
	q.MemoryPages.max = ^uint64(0)
	q.TableElems.max = ^uint64(0)
	return q
}

// NewBoundedResourceQuota returns a quota with the given ceilings.
func NewBoundedResourceQuota(maxPages, maxTableElems uint64) *ResourceQuota {
	q := &ResourceQuota{}
	q.MemoryPages.max = maxPages
	q.TableElems.max = maxTableElems
	return q
}
