package inode

import (
	"fmt"

	"github.com/pintos-go/filesys/block"
)

// Resize grows or shrinks h's inode to newSize bytes, allocating or
// releasing sectors tier by tier (direct, indirect, doubly-indirect) as
// described by the resize algorithm: newly allocated sectors are
// zero-filled, freed sectors are returned to the allocator, and indirect
// backing blocks are themselves allocated on first need and released once
// all their children are unused. Length is only updated on full success;
// on failure the caller should re-invoke Resize with the inode's original
// length to roll back whatever was added (best-effort — see DESIGN.md).
func (t *Table) Resize(h *Handle, newSize int64) error {
	return t.resize(h, newSize)
}

func (t *Table) resize(h *Handle, newSize int64) error {
	entry, err := t.cache.Acquire(h.sector, false)
	if err != nil {
		return err
	}
	d, err := decodeDisk(entry.Block()[:])
	t.cache.Release(entry)
	if err != nil {
		return err
	}
	if d.Magic != Magic && d.Magic != 0 {
		panic(fmt.Sprintf("inode: magic mismatch at sector %d: corruption", h.sector))
	}

	if err := t.resizeDiskInode(&d, newSize); err != nil {
		return err
	}

	entry, err = t.cache.Acquire(h.sector, true)
	if err != nil {
		return err
	}
	encodeDisk(entry.Block()[:], d)
	t.cache.Release(entry)
	return nil
}

func (t *Table) zeroSector(sec uint32) error {
	entry, err := t.cache.Acquire(sec, true)
	if err != nil {
		return err
	}
	for i := range entry.Block() {
		entry.Block()[i] = 0
	}
	t.cache.Release(entry)
	return nil
}

func (t *Table) readIndirect(sec uint32) ([PointersPerBlock]uint32, error) {
	entry, err := t.cache.Acquire(sec, false)
	if err != nil {
		return [PointersPerBlock]uint32{}, err
	}
	ptrs := readIndirectBlock(entry.Block()[:])
	t.cache.Release(entry)
	return ptrs, nil
}

func (t *Table) writeIndirect(sec uint32, ptrs [PointersPerBlock]uint32) error {
	entry, err := t.cache.Acquire(sec, true)
	if err != nil {
		return err
	}
	writeIndirectBlock(entry.Block()[:], ptrs)
	t.cache.Release(entry)
	return nil
}

// resizeDiskInode implements the tier-by-tier resize over a decoded
// in-memory copy of the inode record. It allocates/releases through
// t.alloc and zero-fills/reads/writes indirection blocks through t.cache,
// but does not itself persist d back to its own inode sector — the caller
// (resize, or Create) does that once resizeDiskInode returns successfully.
func (t *Table) resizeDiskInode(d *diskLayout, newSize int64) error {
	if newSize < 0 || newSize > MaxFileSize {
		return fmt.Errorf("inode: requested size %d exceeds maximum file size %d", newSize, MaxFileSize)
	}

	const sectorSize = int64(block.SectorSize)

	for i := 0; i < NumDirect; i++ {
		thresh := int64(i) * sectorSize
		switch {
		case newSize <= thresh && d.Direct[i] != NoSector:
			if err := t.alloc.Release(d.Direct[i]); err != nil {
				return err
			}
			d.Direct[i] = NoSector
		case newSize > thresh && d.Direct[i] == NoSector:
			sec, err := t.alloc.Allocate()
			if err != nil {
				return err
			}
			if err := t.zeroSector(sec); err != nil {
				return err
			}
			d.Direct[i] = sec
		}
	}

	if d.Indirect == NoSector && newSize <= NumDirect*sectorSize {
		d.Length = int32(newSize)
		return nil
	}

	var ip [PointersPerBlock]uint32
	if d.Indirect == NoSector {
		sec, err := t.alloc.Allocate()
		if err != nil {
			return err
		}
		d.Indirect = sec
	} else {
		var err error
		ip, err = t.readIndirect(d.Indirect)
		if err != nil {
			return err
		}
	}

	for i := 0; i < PointersPerBlock; i++ {
		thresh := int64(NumDirect+i) * sectorSize
		switch {
		case newSize <= thresh && ip[i] != NoSector:
			if err := t.alloc.Release(ip[i]); err != nil {
				return err
			}
			ip[i] = NoSector
		case newSize > thresh && ip[i] == NoSector:
			sec, err := t.alloc.Allocate()
			if err != nil {
				return err
			}
			if err := t.zeroSector(sec); err != nil {
				return err
			}
			ip[i] = sec
		}
	}
	if err := t.writeIndirect(d.Indirect, ip); err != nil {
		return err
	}

	if newSize <= NumDirect*sectorSize {
		if err := t.alloc.Release(d.Indirect); err != nil {
			return err
		}
		d.Indirect = NoSector
	}

	if d.DoublyIndirect == NoSector && newSize <= (NumDirect+PointersPerBlock)*sectorSize {
		d.Length = int32(newSize)
		return nil
	}

	var dip [PointersPerBlock]uint32
	if d.DoublyIndirect == NoSector {
		sec, err := t.alloc.Allocate()
		if err != nil {
			return err
		}
		d.DoublyIndirect = sec
	} else {
		var err error
		dip, err = t.readIndirect(d.DoublyIndirect)
		if err != nil {
			return err
		}
	}

	for i := 0; i < PointersPerBlock; i++ {
		tierBase := int64(NumDirect+PointersPerBlock+PointersPerBlock*i) * sectorSize
		if dip[i] == NoSector && newSize <= tierBase {
			break
		}

		var innerIP [PointersPerBlock]uint32
		if dip[i] == NoSector {
			sec, err := t.alloc.Allocate()
			if err != nil {
				return err
			}
			dip[i] = sec
		} else {
			var err error
			innerIP, err = t.readIndirect(dip[i])
			if err != nil {
				return err
			}
		}

		for j := 0; j < PointersPerBlock; j++ {
			thresh := tierBase + int64(j)*sectorSize
			switch {
			case newSize <= thresh && innerIP[j] != NoSector:
				if err := t.alloc.Release(innerIP[j]); err != nil {
					return err
				}
				innerIP[j] = NoSector
			case newSize > thresh && innerIP[j] == NoSector:
				sec, err := t.alloc.Allocate()
				if err != nil {
					return err
				}
				if err := t.zeroSector(sec); err != nil {
					return err
				}
				innerIP[j] = sec
			}
		}
		if err := t.writeIndirect(dip[i], innerIP); err != nil {
			return err
		}

		if newSize <= tierBase {
			if err := t.alloc.Release(dip[i]); err != nil {
				return err
			}
			dip[i] = NoSector
		}
	}
	if err := t.writeIndirect(d.DoublyIndirect, dip); err != nil {
		return err
	}

	if newSize <= (NumDirect+PointersPerBlock)*sectorSize {
		if err := t.alloc.Release(d.DoublyIndirect); err != nil {
			return err
		}
		d.DoublyIndirect = NoSector
	}

	d.Length = int32(newSize)
	return nil
}
