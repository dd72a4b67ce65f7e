// Package filesys is the facade the rest of a kernel (syscall dispatcher,
// process control blocks, the boot-time formatter) consumes: it mounts a
// block.Device, owns the buffer cache, the open-inode table and the
// free-sector map, and exposes filesys_create/open/remove/chdir/mkdir as
// Go methods. It has no knowledge of user pointers, system-call argument
// marshaling, or scheduling — those stay outside this module, per the
// spec's external-collaborator boundary.
//
// Grounded on the teacher's fs/syscalls.go (do_open/do_unlink/do_mkdir/
// do_rmdir/do_chdir shape, new_node/unlink_prep helpers in fs/utils.go),
// narrowed from its multi-device mount table down to the single mounted
// volume this filesystem core describes, and combined with
// original_source/src/filesys/filesys.c (filesys_create/open/remove,
// do_format) for the exact bootstrap and cleanup sequencing.
package filesys

import (
	"fmt"
	"log/slog"

	"github.com/pintos-go/filesys/bufcache"
	"github.com/pintos-go/filesys/block"
	"github.com/pintos-go/filesys/directory"
	"github.com/pintos-go/filesys/ferrors"
	"github.com/pintos-go/filesys/freemap"
	"github.com/pintos-go/filesys/inode"
)

// FS is one mounted volume: a block device, the buffer cache layered over
// it, the open-inode table, and the free-sector map that backs
// allocation. Every Session created from an FS shares these.
type FS struct {
	dev   block.Device
	cache *bufcache.Cache
	tbl   *inode.Table
	fmap  *freemap.Map

	log *slog.Logger
}

// Format lays down a brand new, empty filesystem on dev: a fresh free-
// sector map at inode.FreeMapSector and an empty root directory at
// inode.RootDirSector, mirroring do_format's bootstrap order (bitmap
// first, then root directory, then its "." and ".." entries). dev must
// be freshly zeroed or its prior contents are undefined once Format
// returns.
func Format(dev block.Device) (*FS, error) {
	cache := bufcache.New(dev)
	tbl := inode.NewTable(cache, nil)
	fmap := freemap.New(dev.SectorCount())
	tbl.SetAllocator(fmap)

	if err := fmap.Bootstrap(tbl); err != nil {
		return nil, fmt.Errorf("filesys: format: bootstrapping free map: %w", err)
	}

	if err := tbl.Create(inode.RootDirSector, 0, true); err != nil {
		return nil, fmt.Errorf("filesys: format: creating root directory: %w", err)
	}
	root, err := tbl.Open(inode.RootDirSector)
	if err != nil {
		return nil, fmt.Errorf("filesys: format: opening root directory: %w", err)
	}
	rd := directory.Open(tbl, root)
	if err := rd.Add(".", inode.RootDirSector); err != nil {
		tbl.Close(root)
		return nil, fmt.Errorf("filesys: format: linking root .: %w", err)
	}
	if err := rd.Add("..", inode.RootDirSector); err != nil {
		tbl.Close(root)
		return nil, fmt.Errorf("filesys: format: linking root ..: %w", err)
	}
	if err := tbl.Close(root); err != nil {
		return nil, fmt.Errorf("filesys: format: closing root directory: %w", err)
	}

	return &FS{
		dev:   dev,
		cache: cache,
		tbl:   tbl,
		fmap:  fmap,
		log:   slog.Default().With("component", "filesys"),
	}, nil
}

// Mount loads an already-formatted filesystem from dev.
func Mount(dev block.Device) (*FS, error) {
	cache := bufcache.New(dev)
	tbl := inode.NewTable(cache, nil)
	fmap, err := freemap.Open(tbl, dev.SectorCount())
	if err != nil {
		return nil, fmt.Errorf("filesys: mount: loading free map: %w", err)
	}
	tbl.SetAllocator(fmap)

	return &FS{
		dev:   dev,
		cache: cache,
		tbl:   tbl,
		fmap:  fmap,
		log:   slog.Default().With("component", "filesys"),
	}, nil
}

// Done flushes the free map and the buffer cache. It does not close the
// underlying device.
func (fs *FS) Done() error {
	if err := fs.fmap.Close(); err != nil {
		return fmt.Errorf("filesys: done: closing free map: %w", err)
	}
	if err := fs.cache.Flush(); err != nil {
		return fmt.Errorf("filesys: done: flushing buffer cache: %w", err)
	}
	return nil
}

// BufferCacheReset invalidates the buffer cache and zeroes its hit-rate
// counters. Backs the bc_reset test-only syscall hook.
func (fs *FS) BufferCacheReset() error { return fs.cache.Reset() }

// BufferCacheHitRate returns the cache's hit rate since it was created or
// last reset by BufferCacheReset. Backs the
// bc_stat test-only syscall hook.
func (fs *FS) BufferCacheHitRate() float32 { return fs.cache.HitRate() }

// BufferCacheStats returns the raw access/hit/write-back counters.
func (fs *FS) BufferCacheStats() (access, hit, writes uint64) { return fs.cache.Stats() }

// DeviceWriteCount returns the number of sector writes issued to the
// underlying device since it was opened.
func (fs *FS) DeviceWriteCount() uint64 { return fs.dev.WriteCount() }

// Table exposes the underlying open-inode table, for tools (an offline
// consistency checker) that need to walk the block map of an inode
// directly rather than through a Handle.
func (fs *FS) Table() *inode.Table { return fs.tbl }

// FreeMap exposes the underlying free-sector bitmap, for the same reason
// as Table.
func (fs *FS) FreeMap() *freemap.Map { return fs.fmap }

// OpenInode, CloseInode, IsDir and Lookup implement pathresolve.Opener.
// They are declared here rather than on a dedicated adapter type because
// FS already owns the one inode.Table a mounted volume needs.

func (fs *FS) OpenInode(sector uint32) (*inode.Handle, error) {
	return fs.tbl.Open(sector)
}

func (fs *FS) CloseInode(h *inode.Handle) error {
	return fs.tbl.Close(h)
}

func (fs *FS) IsDir(h *inode.Handle) (bool, error) {
	return fs.tbl.IsDir(h)
}

func (fs *FS) Lookup(dirHandle *inode.Handle, name string) (uint32, error) {
	isDir, err := fs.tbl.IsDir(dirHandle)
	if err != nil {
		return 0, err
	}
	if !isDir {
		return 0, ferrors.ErrNotDir
	}
	d := directory.Open(fs.tbl, dirHandle)
	return d.Lookup(name)
}
