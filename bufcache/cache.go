// Package bufcache implements the fixed-capacity, write-back, LRU buffer
// cache that mediates all traffic between the inode/directory layers and
// the block device. It follows the single cache-wide mutex plus
// per-entry condition variable design described for the buffer cache in
// the filesystem core's specification: at most one goroutine holds a given
// entry at a time, and the cache lock is held across device I/O on a miss
// so that misses serialize device traffic.
package bufcache

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pintos-go/filesys/block"
)

// NumEntries is the fixed number of slots in the cache.
const NumEntries = 64

// entry is one cache slot. Unlike the teacher's channel-actor lru_buf, this
// implementation protects every slot's metadata (sector, valid, dirty,
// refCount, LRU links) with the single cache-wide mutex; the payload is
// guarded by the pin itself, and the per-entry condition variable
// serializes goroutines waiting to pin that one slot.
type entry struct {
	block    [block.SectorSize]byte
	sector   uint32
	valid    bool
	dirty    bool
	refCount int
	cond     *sync.Cond

	prev, next *entry // LRU list links; front = most recently used
}

// Entry is the handle returned by Acquire. Callers may read and (if they
// acquired with write intent) mutate Block in place for the duration of the
// pin; Release must be called exactly once per successful Acquire.
type Entry struct {
	e *entry
}

// Block returns the live backing array for this pinned entry. Mutations
// are visible to subsequent acquirers of the same sector once Release is
// called.
func (p Entry) Block() *[block.SectorSize]byte { return &p.e.block }

// Sector returns the sector number this entry currently mirrors. Stable
// for the lifetime of the pin (invariant I6).
func (p Entry) Sector() uint32 { return p.e.sector }

// Cache is a fixed-capacity LRU buffer cache over a single block.Device.
type Cache struct {
	mu sync.Mutex

	dev     block.Device
	entries [NumEntries]*entry
	front   *entry // most recently used
	rear    *entry // least recently used; eviction starts here

	accessCount     uint64
	hitCount        uint64
	blockWriteCount uint64 // writes issued by the cache itself (write-back)

	log *slog.Logger
}

// New creates a Cache backed by dev. All entries start invalid.
func New(dev block.Device) *Cache {
	c := &Cache{dev: dev, log: slog.Default().With("component", "bufcache")}
	for i := range c.entries {
		e := &entry{}
		e.cond = sync.NewCond(&c.mu)
		c.entries[i] = e
	}
	for i := 1; i < NumEntries; i++ {
		c.entries[i].prev = c.entries[i-1]
		c.entries[i-1].next = c.entries[i]
	}
	c.front = c.entries[0]
	c.rear = c.entries[NumEntries-1]
	return c
}

func (c *Cache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.front = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.rear = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.front
	if c.front != nil {
		c.front.prev = e
	}
	c.front = e
	if c.rear == nil {
		c.rear = e
	}
}

// writeBack synchronously flushes a dirty entry to the device. Caller must
// hold c.mu.
func (c *Cache) writeBack(e *entry) error {
	if !e.valid || !e.dirty {
		return nil
	}
	if err := c.dev.Write(e.sector, e.block[:]); err != nil {
		return fmt.Errorf("bufcache: write-back sector %d: %w", e.sector, err)
	}
	e.dirty = false
	c.blockWriteCount++
	return nil
}

// findUnpinnedVictim scans from the LRU tail for the first entry with no
// outstanding pin. In steady use pins are held only for the duration of a
// single memcpy, so the tail itself is almost always free; the scan exists
// so a slow pinner elsewhere in the list cannot corrupt cache state.
func (c *Cache) findUnpinnedVictim() *entry {
	for e := c.rear; e != nil; e = e.prev {
		if e.refCount == 0 {
			return e
		}
	}
	return nil
}

// Acquire returns a pinned Entry mirroring sector sec, blocking until any
// other pin on that sector is released. If write is true the entry is
// marked dirty immediately, per the "acquire with write intent" contract.
func (c *Cache) Acquire(sec uint32, write bool) (Entry, error) {
	c.mu.Lock()
	c.accessCount++

	var found *entry
	for _, e := range c.entries {
		if e.valid && e.sector == sec {
			found = e
			break
		}
	}

	if found != nil {
		c.hitCount++
		for found.refCount > 0 {
			found.cond.Wait()
		}
		c.unlink(found)
		c.pushFront(found)
		if write {
			found.dirty = true
		}
		found.refCount++
		c.mu.Unlock()
		return Entry{found}, nil
	}

	victim := c.findUnpinnedVictim()
	if victim == nil {
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("bufcache: all %d entries pinned", NumEntries)
	}
	c.unlink(victim)

	if victim.valid && victim.dirty {
		if err := c.writeBack(victim); err != nil {
			c.pushFront(victim)
			c.mu.Unlock()
			return Entry{}, err
		}
	}

	if err := c.dev.Read(sec, victim.block[:]); err != nil {
		victim.valid = false
		c.pushFront(victim)
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("bufcache: read sector %d: %w", sec, err)
	}
	victim.sector = sec
	victim.valid = true
	victim.dirty = write

	c.pushFront(victim)
	victim.refCount++
	c.mu.Unlock()
	return Entry{victim}, nil
}

// Release drops the pin acquired by Acquire, waking any goroutine blocked
// waiting for this entry.
func (c *Cache) Release(p Entry) {
	if p.e == nil {
		return
	}
	c.mu.Lock()
	p.e.refCount--
	if p.e.refCount < 0 {
		c.mu.Unlock()
		panic("bufcache: released an entry more times than it was acquired")
	}
	p.e.cond.Broadcast()
	c.mu.Unlock()
}

// Flush writes back every dirty, valid entry. Used during filesystem
// shutdown.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if err := c.writeBack(e); err != nil {
			return err
		}
	}
	return nil
}

// Reset flushes dirty entries and then invalidates the entire cache,
// forcing subsequent acquires to miss. It also zeroes the hit-rate
// counters. This is a test-only hook (spec.md §9: "treat it as a test
// hook, not a production operation") used to make hit-rate measurements
// deterministic.
func (c *Cache) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if err := c.writeBack(e); err != nil {
			return err
		}
		e.valid = false
	}
	c.accessCount = 0
	c.hitCount = 0
	return nil
}

// Stats returns the access count, hit count and cache-issued write count,
// all guarded by the cache lock as spec.md §4.1 requires.
func (c *Cache) Stats() (access, hit, writes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessCount, c.hitCount, c.blockWriteCount
}

// HitRate returns hitCount/accessCount, or 0 if the cache has never been
// accessed. Backs the bc_stat hit-rate instrumentation hook.
func (c *Cache) HitRate() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessCount == 0 {
		return 0
	}
	return float32(c.hitCount) / float32(c.accessCount)
}

// Device returns the underlying block device, primarily so callers can
// read its WriteCount() for the bc_stat device-write instrumentation hook.
func (c *Cache) Device() block.Device { return c.dev }
