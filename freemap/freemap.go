// Package freemap implements the free-sector bitmap: one bit per device
// sector, persisted as an ordinary file through the inode layer at a fixed
// well-known sector (inode.FreeMapSector). It mirrors the teacher's
// alloctbl package's alloc_bit/free_bit word-scan algorithm, narrowed from
// a dual inode+zone bitmap to the single sector bitmap the filesystem core
// needs.
package freemap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/pintos-go/filesys/ferrors"
	"github.com/pintos-go/filesys/inode"
)

const bitsPerWord = 32

// Map is the in-memory free-sector bitmap. Before Bind is called it can
// already be allocated from and released to (Allocate/Release only touch
// the in-memory words), which is what lets Bootstrap allocate the data
// sectors of the bitmap's own backing file before that file exists on
// disk.
type Map struct {
	mu    sync.Mutex
	words []uint32
	nbits uint32

	tbl *inode.Table
	h   *inode.Handle // nil until Bind/opened
}

// New creates an in-memory bitmap with room for nbits sectors, all marked
// free except sector 0 and sector 1, which are permanently reserved for
// the free map's own inode and the root directory's inode respectively
// (inode.FreeMapSector, inode.RootDirSector).
func New(nbits uint32) *Map {
	m := &Map{
		words: make([]uint32, (nbits+bitsPerWord-1)/bitsPerWord),
		nbits: nbits,
	}
	m.setBit(inode.FreeMapSector)
	m.setBit(inode.RootDirSector)
	return m
}

func (m *Map) setBit(b uint32) {
	m.words[b/bitsPerWord] |= 1 << (b % bitsPerWord)
}

func (m *Map) clearBit(b uint32) {
	m.words[b/bitsPerWord] &^= 1 << (b % bitsPerWord)
}

// Bind attaches the open-inode table this map should use to persist
// itself once Bootstrap has given it a backing Handle. Called once,
// after the table exists but (during format) potentially before the free
// map's own inode has been created on disk.
func (m *Map) Bind(tbl *inode.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tbl = tbl
}

// Allocate finds and marks in-use the lowest-numbered free sector.
// Mirrors alloc_bit's word-skip-on-all-ones scan, simplified to a single
// bitmap and backed by math/bits.TrailingZeros32 instead of the teacher's
// manual bit-shift loop.
func (m *Map) Allocate() (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.words {
		if w == 0xFFFFFFFF {
			continue
		}
		bit := uint32(bits.TrailingZeros32(^w))
		b := uint32(i)*bitsPerWord + bit
		if b >= m.nbits {
			break
		}
		m.words[i] = w | (1 << bit)
		if err := m.persist(); err != nil {
			m.words[i] = w
			return 0, err
		}
		return b, nil
	}
	return 0, ferrors.ErrNoSpace
}

// Release marks sector b free again. Panics if b was not allocated, the
// same assertion the teacher's free_bit makes against freeing an unused
// bit.
func (m *Map) Release(b uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b >= m.nbits {
		return fmt.Errorf("freemap: sector %d out of range", b)
	}
	word := b / bitsPerWord
	mask := uint32(1) << (b % bitsPerWord)
	if m.words[word]&mask == 0 {
		panic(fmt.Sprintf("freemap: tried to free unused sector %d", b))
	}
	m.clearBit(b)
	if err := m.persist(); err != nil {
		m.words[word] |= mask
		return err
	}
	return nil
}

// persist writes the bitmap out through the bound inode handle, if one
// has been attached yet. During early format bootstrap (before the free
// map's own inode exists), this is a no-op; Bootstrap flushes the full
// bitmap itself once the backing inode is ready.
func (m *Map) persist() error {
	if m.tbl == nil || m.h == nil {
		return nil
	}
	return m.writeLocked()
}

// writeLocked serializes the full bitmap to the bound handle. Caller must
// hold m.mu.
func (m *Map) writeLocked() error {
	buf := make([]byte, len(m.words)*4)
	for i, w := range m.words {
		buf[i*4+0] = byte(w)
		buf[i*4+1] = byte(w >> 8)
		buf[i*4+2] = byte(w >> 16)
		buf[i*4+3] = byte(w >> 24)
	}
	_, err := m.tbl.WriteAt(m.h, buf, 0)
	return err
}

// Bootstrap formats m's backing inode on a brand new volume: m must
// already be the SectorAllocator tbl was constructed with (via
// inode.NewTable or Table.SetAllocator), since creating the bitmap's own
// backing inode may itself need to grow m's in-memory bitmap before any
// of it has ever touched disk. Mirrors free_map_create's bootstrap order
// in original_source/src/filesys/filesys.c's do_format: bind the table,
// allocate/zero the data sectors, then attach the backing handle and
// flush.
func (m *Map) Bootstrap(tbl *inode.Table) error {
	m.Bind(tbl)

	length := int64(len(m.words)) * 4
	if err := tbl.Create(inode.FreeMapSector, length, false); err != nil {
		return fmt.Errorf("freemap: creating backing inode: %w", err)
	}
	h, err := tbl.Open(inode.FreeMapSector)
	if err != nil {
		return fmt.Errorf("freemap: opening backing inode: %w", err)
	}
	m.mu.Lock()
	m.h = h
	err = m.writeLocked()
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("freemap: initial flush: %w", err)
	}
	return nil
}

// Open loads an existing free map from its well-known sector.
func Open(tbl *inode.Table, nbits uint32) (*Map, error) {
	h, err := tbl.Open(inode.FreeMapSector)
	if err != nil {
		return nil, fmt.Errorf("freemap: opening backing inode: %w", err)
	}
	m := &Map{
		words: make([]uint32, (nbits+bitsPerWord-1)/bitsPerWord),
		nbits: nbits,
		tbl:   tbl,
		h:     h,
	}
	buf := make([]byte, len(m.words)*4)
	if _, err := tbl.ReadAt(h, buf, 0); err != nil {
		return nil, fmt.Errorf("freemap: reading bitmap: %w", err)
	}
	for i := range m.words {
		m.words[i] = uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
	}
	return m, nil
}

// NBits returns the total number of sectors this bitmap covers.
func (m *Map) NBits() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nbits
}

// IsUsed reports whether sector b is currently marked in use.
func (m *Map) IsUsed(b uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b >= m.nbits {
		return false
	}
	return m.words[b/bitsPerWord]&(1<<(b%bitsPerWord)) != 0
}

// UsedCount returns the number of sectors currently marked in use,
// backing the used-bit-count testable property of spec.md §8.
func (m *Map) UsedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.words {
		n += bits.OnesCount32(w)
	}
	return n
}

// Close flushes the bitmap one final time and closes its backing handle.
func (m *Map) Close() error {
	m.mu.Lock()
	err := m.writeLocked()
	h := m.h
	tbl := m.tbl
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if h == nil {
		return nil
	}
	return tbl.Close(h)
}
