package filesys

import (
	"sync"

	"github.com/pintos-go/filesys/directory"
	"github.com/pintos-go/filesys/ferrors"
	"github.com/pintos-go/filesys/inode"
)

// Handle is the tagged file-or-directory variant exposed to the
// syscall-dispatch layer's file-descriptor table: one inode.Handle,
// tagged as a plain file or wrapped with directory-entry iteration when
// it is a directory. spec.md §9 models this as "a tagged variant of two
// cases... no virtual dispatch is required"; isDir plus an optional *Dir
// is that variant in Go.
type Handle struct {
	fs    *FS
	ih    *inode.Handle
	isDir bool
	dir   *directory.Dir // non-nil iff isDir

	mu  sync.Mutex
	pos int64
}

// wrapHandle tags an already-open inode handle as a file or directory
// Handle, reading its is_dir flag exactly once.
func (fs *FS) wrapHandle(ih *inode.Handle) (*Handle, error) {
	isDir, err := fs.tbl.IsDir(ih)
	if err != nil {
		return nil, err
	}
	h := &Handle{fs: fs, ih: ih, isDir: isDir}
	if isDir {
		h.dir = directory.Open(fs.tbl, ih)
	}
	return h, nil
}

// IsDir reports whether this handle names a directory.
func (h *Handle) IsDir() bool { return h.isDir }

// GetInode returns the underlying inode.Handle, e.g. for the syscall
// layer's executable-text deny-write bookkeeping.
func (h *Handle) GetInode() *inode.Handle { return h.ih }

// Read copies up to len(p) bytes starting at the handle's current seek
// position and advances it by the number of bytes actually read. Reading
// a directory-tagged handle as a file is spec.md §9's open question 1:
// this implementation returns ferrors.ErrIsDir rather than exposing raw
// directory records.
func (h *Handle) Read(p []byte) (int, error) {
	if h.isDir {
		return 0, ferrors.ErrIsDir
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.fs.tbl.ReadAt(h.ih, p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Write copies len(p) bytes to the handle's current seek position,
// extending the file if necessary, and advances the position by the
// number of bytes actually written (0 if writes are currently denied).
func (h *Handle) Write(p []byte) (int, error) {
	if h.isDir {
		return 0, ferrors.ErrIsDir
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	n, err := h.fs.tbl.WriteAt(h.ih, p, h.pos)
	h.pos += int64(n)
	return n, err
}

// Seek moves the handle's current position to pos, regardless of the
// file's current length (reads past the new length short-circuit to 0
// bytes; writes past it extend the file, per spec.md's extension
// scenario).
func (h *Handle) Seek(pos int64) {
	h.mu.Lock()
	h.pos = pos
	h.mu.Unlock()
}

// Tell returns the handle's current position.
func (h *Handle) Tell() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pos
}

// Length returns the current byte length of the underlying inode.
func (h *Handle) Length() (int64, error) {
	return h.fs.tbl.Length(h.ih)
}

// DenyWrite marks the underlying inode's writes denied, e.g. while it is
// loaded as a running executable image.
func (h *Handle) DenyWrite() { h.ih.DenyWrite() }

// AllowWrite undoes one DenyWrite.
func (h *Handle) AllowWrite() { h.ih.AllowWrite() }

// Readdir returns the next directory entry name, skipping "." and "..",
// advancing this handle's stateful iterator. ok is false once exhausted.
// Only valid on a directory-tagged handle.
func (h *Handle) Readdir() (name string, ok bool, err error) {
	if !h.isDir {
		return "", false, ferrors.ErrNotDir
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dir.Readdir()
}

// Close releases the handle's reference on the underlying inode.
func (h *Handle) Close() error {
	return h.fs.tbl.Close(h.ih)
}
