// Package inode implements the on-disk inode layout, the block-map resize
// algorithm, the in-memory open-inode table, and the read/write engine atop
// the buffer cache. It has no knowledge of directories or paths; those are
// built on top of the ReadAt/WriteAt primitives this package exposes.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/pintos-go/filesys/block"
)

const (
	// NumDirect is the number of direct block pointers in an inode.
	NumDirect = 123
	// PointersPerBlock is the number of sector numbers that fit in one
	// indirect block (512 / 4).
	PointersPerBlock = block.SectorSize / 4
	// Magic is the sanity-check constant stored in every on-disk inode.
	Magic uint32 = 0x494e4f44

	// FreeMapSector is the reserved sector holding the free-sector map's
	// inode.
	FreeMapSector uint32 = 0
	// RootDirSector is the reserved sector holding the root directory's
	// inode.
	RootDirSector uint32 = 1

	// NoSector is the "hole / unallocated" sentinel used by block-map
	// pointers. Sector 0 can never be a data sector (it is permanently
	// reserved for the free map), so it doubles as the zero value.
	NoSector uint32 = 0
)

// MaxFileSize is the largest length, in bytes, representable by the
// direct/indirect/doubly-indirect block map: (123 + 128 + 128*128) sectors.
const MaxFileSize = int64(NumDirect+PointersPerBlock+PointersPerBlock*PointersPerBlock) * block.SectorSize

// diskLayout is the exact 512-byte on-disk inode record:
// length(4) + is_dir(4) + direct[123](492) + indirect(4) + doubly_indirect(4) + magic(4) = 512.
type diskLayout struct {
	Length         int32
	IsDir          uint32
	Direct         [NumDirect]uint32
	Indirect       uint32
	DoublyIndirect uint32
	Magic          uint32
}

func decodeDisk(buf []byte) (diskLayout, error) {
	var d diskLayout
	if len(buf) != block.SectorSize {
		return d, fmt.Errorf("inode: sector buffer must be %d bytes", block.SectorSize)
	}
	r := byteReader{buf: buf}
	d.Length = int32(r.u32())
	d.IsDir = r.u32()
	for i := range d.Direct {
		d.Direct[i] = r.u32()
	}
	d.Indirect = r.u32()
	d.DoublyIndirect = r.u32()
	d.Magic = r.u32()
	return d, r.err
}

func encodeDisk(buf []byte, d diskLayout) {
	w := byteWriter{buf: buf}
	w.u32(uint32(d.Length))
	w.u32(d.IsDir)
	for _, v := range d.Direct {
		w.u32(v)
	}
	w.u32(d.Indirect)
	w.u32(d.DoublyIndirect)
	w.u32(d.Magic)
}

// byteReader/byteWriter are tiny fixed-width little-endian cursors over a
// sector buffer; encoding/binary.Read/Write would work equally well here
// but would allocate a reflect-driven walk per field for a struct this hot
// (every ReadAt/WriteAt touches it), so the loop is unrolled by hand the
// way the teacher's common/read.go unrolls its own block copies.
type byteReader struct {
	buf []byte
	off int
	err error
}

func (r *byteReader) u32() uint32 {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.err = fmt.Errorf("inode: short read decoding disk inode")
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

type byteWriter struct {
	buf []byte
	off int
}

func (w *byteWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func readIndirectBlock(buf []byte) [PointersPerBlock]uint32 {
	var out [PointersPerBlock]uint32
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out
}

func writeIndirectBlock(buf []byte, ptrs [PointersPerBlock]uint32) {
	for i, v := range ptrs {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
}
