// Package directory implements directories as ordinary files: a
// directory's contents are a packed array of fixed-size entry records
// read and written through the inode layer's ReadAt/WriteAt, exactly as
// the buffer cache and inode layers below it are unaware that some files
// hold directory entries rather than arbitrary bytes.
//
// Grounded on the teacher's fs/dirops.go (Lookup/Link/Unlink/IsEmpty over
// a search_dir mode enum), restructured as direct methods over an
// inode.Handle instead of the teacher's FileSystem RPC plumbing.
package directory

import (
	"github.com/pintos-go/filesys/ferrors"
	"github.com/pintos-go/filesys/inode"
)

// NameMax is the longest name a directory entry can hold, not counting a
// trailing NUL.
const NameMax = 14

const entrySize = 1 + 4 + (NameMax + 1) // in_use + inode_sector + name

// Dir is an opened directory: a thin wrapper around an inode.Handle that
// understands the packed entry-record format. The readdir cursor is held
// here, per handle, as spec'd.
type Dir struct {
	tbl  *inode.Table
	h    *inode.Handle
	next int64 // byte offset of the next readdir entry
}

// Open wraps an already-open directory inode handle for directory-entry
// access.
func Open(tbl *inode.Table, h *inode.Handle) *Dir {
	return &Dir{tbl: tbl, h: h}
}

// Handle returns the underlying inode handle, e.g. to Close it.
func (d *Dir) Handle() *inode.Handle { return d.h }

type record struct {
	inUse  bool
	sector uint32
	name   string
}

func decodeRecord(buf []byte) record {
	var r record
	r.inUse = buf[0] != 0
	r.sector = uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24
	nameBuf := buf[5 : 5+NameMax+1]
	n := 0
	for n < len(nameBuf) && nameBuf[n] != 0 {
		n++
	}
	r.name = string(nameBuf[:n])
	return r
}

func encodeRecord(buf []byte, r record) {
	if r.inUse {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	buf[1] = byte(r.sector)
	buf[2] = byte(r.sector >> 8)
	buf[3] = byte(r.sector >> 16)
	buf[4] = byte(r.sector >> 24)
	nameBuf := buf[5 : 5+NameMax+1]
	for i := range nameBuf {
		nameBuf[i] = 0
	}
	copy(nameBuf, r.name)
}

func (d *Dir) readRecordAt(ofs int64) (record, bool, error) {
	buf := make([]byte, entrySize)
	n, err := d.tbl.ReadAt(d.h, buf, ofs)
	if err != nil {
		return record{}, false, err
	}
	if n < entrySize {
		return record{}, false, nil
	}
	return decodeRecord(buf), true, nil
}

func (d *Dir) writeRecordAt(ofs int64, r record) error {
	buf := make([]byte, entrySize)
	encodeRecord(buf, r)
	_, err := d.tbl.WriteAt(d.h, buf, ofs)
	return err
}

// Create formats sector as a brand new, empty directory inode: the
// standard two bootstrap entries, `.` and `..`, are added by the caller
// via Add once the inode has been created and opened (mirroring
// dir_create leaving entry population to its caller in filesys.c's
// do_format and filesys_mkdir).
func Create(tbl *inode.Table, sector uint32, entryCountHint int) error {
	return tbl.Create(sector, int64(entryCountHint)*entrySize, true)
}

// Lookup linear-scans in_use entries for name, returning the inode sector
// it names. `.` and `..` are ordinary entries stored in the first two
// slots and require no special-casing here.
func (d *Dir) Lookup(name string) (uint32, error) {
	length, err := d.tbl.Length(d.h)
	if err != nil {
		return 0, err
	}
	for ofs := int64(0); ofs+entrySize <= length; ofs += entrySize {
		r, ok, err := d.readRecordAt(ofs)
		if err != nil {
			return 0, err
		}
		if ok && r.inUse && r.name == name {
			return r.sector, nil
		}
	}
	return 0, ferrors.ErrNotFound
}

// Add inserts a new entry mapping name to sector, reusing the first
// !in_use slot before extending the file. Rejects empty names, names
// longer than NameMax, and duplicates.
func (d *Dir) Add(name string, sector uint32) error {
	if name == "" {
		return ferrors.ErrInvalidPath
	}
	if len(name) > NameMax {
		return ferrors.ErrNameTooLong
	}

	length, err := d.tbl.Length(d.h)
	if err != nil {
		return err
	}

	freeOfs := int64(-1)
	for ofs := int64(0); ofs+entrySize <= length; ofs += entrySize {
		r, ok, err := d.readRecordAt(ofs)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if r.inUse {
			if r.name == name {
				return ferrors.ErrExists
			}
			continue
		}
		if freeOfs < 0 {
			freeOfs = ofs
		}
	}

	if freeOfs < 0 {
		freeOfs = length
	}
	return d.writeRecordAt(freeOfs, record{inUse: true, sector: sector, name: name})
}

// Remove marks name's slot !in_use. It does not itself decide whether the
// named inode should be deferred-truncated; the caller (filesys) opens
// that inode's handle and calls its Remove method.
func (d *Dir) Remove(name string) error {
	length, err := d.tbl.Length(d.h)
	if err != nil {
		return err
	}
	for ofs := int64(0); ofs+entrySize <= length; ofs += entrySize {
		r, ok, err := d.readRecordAt(ofs)
		if err != nil {
			return err
		}
		if ok && r.inUse && r.name == name {
			return d.writeRecordAt(ofs, record{})
		}
	}
	return ferrors.ErrNotFound
}

// IsEmpty reports whether the directory holds only the `.` and `..`
// bootstrap entries.
func (d *Dir) IsEmpty() (bool, error) {
	length, err := d.tbl.Length(d.h)
	if err != nil {
		return false, err
	}
	count := 0
	for ofs := int64(0); ofs+entrySize <= length; ofs += entrySize {
		r, ok, err := d.readRecordAt(ofs)
		if err != nil {
			return false, err
		}
		if ok && r.inUse {
			count++
			if r.name != "." && r.name != ".." {
				return false, nil
			}
		}
	}
	return count <= 2, nil
}

// Rewind resets the readdir cursor to the start of the directory.
func (d *Dir) Rewind() { d.next = 0 }

// Readdir returns the next entry name, skipping `.`, `..`, and freed
// slots, advancing the handle's stateful cursor. ok is false once the
// directory is exhausted.
func (d *Dir) Readdir() (name string, ok bool, err error) {
	length, err := d.tbl.Length(d.h)
	if err != nil {
		return "", false, err
	}
	for d.next+entrySize <= length {
		ofs := d.next
		d.next += entrySize
		r, got, err := d.readRecordAt(ofs)
		if err != nil {
			return "", false, err
		}
		if !got || !r.inUse {
			continue
		}
		if r.name == "." || r.name == ".." {
			continue
		}
		return r.name, true, nil
	}
	return "", false, nil
}

// EntrySize exposes the packed record width, e.g. for sizing a freshly
// created directory's initial_size hint.
func EntrySize() int { return entrySize }

// Entry is one in_use directory record, returned by Entries.
type Entry struct {
	Name   string
	Sector uint32
}

// Entries returns every in_use record in the directory, including "."
// and "..", in on-disk order. Unlike Readdir it does not consume the
// handle's stateful iterator; it exists for callers (e.g. an offline
// consistency checker) that need both the name and the sector of every
// child in one pass.
func (d *Dir) Entries() ([]Entry, error) {
	length, err := d.tbl.Length(d.h)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for ofs := int64(0); ofs+entrySize <= length; ofs += entrySize {
		r, ok, err := d.readRecordAt(ofs)
		if err != nil {
			return nil, err
		}
		if ok && r.inUse {
			out = append(out, Entry{Name: r.name, Sector: r.sector})
		}
	}
	return out, nil
}
