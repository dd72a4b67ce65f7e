package inode

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pintos-go/filesys/bufcache"
)

// SectorAllocator is the dependency the inode layer needs from the
// free-sector map: single-sector allocate/release. It is declared here,
// at the point of use, rather than imported from a freemap package, so
// that freemap (which itself persists its bitmap through this package's
// Table/Handle) can depend on inode without creating an import cycle.
type SectorAllocator interface {
	Allocate() (uint32, error)
	Release(sector uint32) error
}

// Handle is the in-memory, shared handle for a single on-disk inode.
// Exactly one Handle exists per sector that is currently open anywhere
// (invariant I4); multiple callers opening the same sector share one
// Handle and a reference count.
type Handle struct {
	table *Table

	sector uint32

	mu             sync.Mutex
	openCount      int
	removed        bool
	denyWriteCount int
}

// Sector returns the disk sector this handle's inode lives at.
func (h *Handle) Sector() uint32 { return h.sector }

// Table is the open-inode table: a registry mapping sector numbers to
// their unique in-memory Handle, plus the cache and allocator the I/O
// engine needs to service reads, writes and resizes.
type Table struct {
	cache *bufcache.Cache
	alloc SectorAllocator

	mu      sync.Mutex // protects handles membership only; never held across I/O
	handles map[uint32]*Handle

	log *slog.Logger
}

// NewTable creates an open-inode table backed by cache, using alloc to
// grow and shrink block maps during Resize. alloc may be nil at
// construction time and supplied later via SetAllocator: the free-sector
// map itself is a file whose backing inode this same table must create,
// so the bootstrap/mount sequence in package filesys constructs the table
// before the allocator it will use is ready.
func NewTable(cache *bufcache.Cache, alloc SectorAllocator) *Table {
	return &Table{
		cache:   cache,
		alloc:   alloc,
		handles: make(map[uint32]*Handle),
		log:     slog.Default().With("component", "inode"),
	}
}

// SetAllocator installs the allocator Resize delegates to. Called once,
// after the free-sector map has either been bootstrapped (format) or
// loaded (mount), both of which need this table to already exist.
func (t *Table) SetAllocator(alloc SectorAllocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alloc = alloc
}

// Create initializes a fresh on-disk inode of length bytes (zero-filled,
// newly allocated data blocks) at sector. The caller is responsible for
// having allocated sector itself (mirroring Pintos's inode_create, which
// is always preceded by a free_map_allocate for the inode's own sector).
// Create does not open the inode; call Open afterward for a Handle.
func (t *Table) Create(sector uint32, length int64, isDir bool) error {
	if length < 0 || length > MaxFileSize {
		return fmt.Errorf("inode: invalid initial length %d", length)
	}

	d := diskLayout{Magic: Magic}
	if isDir {
		d.IsDir = 1
	}

	if err := t.resizeDiskInode(&d, length); err != nil {
		// Best-effort rollback to an empty file, mirroring inode_create's
		// fallback resize(0) on a failed initial grow.
		t.resizeDiskInode(&d, 0)
		return err
	}

	entry, err := t.cache.Acquire(sector, true)
	if err != nil {
		return err
	}
	encodeDisk(entry.Block()[:], d)
	t.cache.Release(entry)
	return nil
}

// Open returns the shared Handle for sector, creating one if this is the
// first opener. Subsequent opens of the same sector bump the reference
// count and return the same Handle (invariant I4).
func (t *Table) Open(sector uint32) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.handles[sector]; ok {
		h.mu.Lock()
		h.openCount++
		h.mu.Unlock()
		return h, nil
	}

	h := &Handle{table: t, sector: sector, openCount: 1}
	t.handles[sector] = h
	return h, nil
}

// Close releases one reference to h. On the last close, if h was marked
// removed, its block map and inode sector are freed (deferred truncation).
func (t *Table) Close(h *Handle) error {
	if h == nil {
		return nil
	}

	t.mu.Lock()
	h.mu.Lock()
	h.openCount--
	if h.openCount < 0 {
		h.mu.Unlock()
		t.mu.Unlock()
		panic("inode: closed a handle more times than it was opened")
	}
	last := h.openCount == 0
	removed := h.removed
	if last {
		delete(t.handles, h.sector)
	}
	h.mu.Unlock()
	t.mu.Unlock()

	if !last || !removed {
		return nil
	}

	// Free all data/indirect blocks, then the inode sector itself. This
	// runs outside both locks, since it performs blocking device I/O.
	if err := t.resize(h, 0); err != nil {
		return fmt.Errorf("inode: freeing blocks for removed sector %d: %w", h.sector, err)
	}
	return t.alloc.Release(h.sector)
}

// DenyWrite disables writes to h's inode. Safe to call from multiple
// openers; each must eventually call AllowWrite.
func (h *Handle) DenyWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.denyWriteCount++
	if h.denyWriteCount > h.openCount {
		panic("inode: deny_write_count exceeded open_count")
	}
}

// AllowWrite re-enables writes previously disabled by DenyWrite.
func (h *Handle) AllowWrite() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.denyWriteCount <= 0 {
		panic("inode: allow_write called without a matching deny_write")
	}
	h.denyWriteCount--
}

// Remove marks h to be deleted once its last opener closes it.
func (h *Handle) Remove() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = true
}

// OpenCount returns the number of outstanding opens of h.
func (h *Handle) OpenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openCount
}

// IsDir reports whether h's inode is marked as a directory.
func (t *Table) IsDir(h *Handle) (bool, error) {
	entry, err := t.cache.Acquire(h.sector, false)
	if err != nil {
		return false, err
	}
	defer t.cache.Release(entry)
	d, err := decodeDisk(entry.Block()[:])
	if err != nil {
		return false, err
	}
	if d.Magic != Magic {
		panic(fmt.Sprintf("inode: magic mismatch at sector %d: corruption", h.sector))
	}
	return d.IsDir != 0, nil
}

// Length returns the current byte length of h's inode.
func (t *Table) Length(h *Handle) (int64, error) {
	entry, err := t.cache.Acquire(h.sector, false)
	if err != nil {
		return 0, err
	}
	defer t.cache.Release(entry)
	d, err := decodeDisk(entry.Block()[:])
	if err != nil {
		return 0, err
	}
	return int64(d.Length), nil
}
