package filesys

import (
	"fmt"
	"sync"

	"github.com/pintos-go/filesys/directory"
	"github.com/pintos-go/filesys/ferrors"
	"github.com/pintos-go/filesys/inode"
	"github.com/pintos-go/filesys/pathresolve"
)

// Session is the Go-native stand-in for the out-of-scope kernel's struct
// proc's cwd field: a lightweight holder of one open current-working-
// directory handle, letting independent callers (goroutines standing in
// for kernel threads) each walk relative paths against their own working
// directory over one mounted FS. It is not a process: it carries no file
// descriptor table, no pid, nothing beyond the one CWD handle spec.md's
// path resolver needs.
type Session struct {
	fs *FS

	mu  sync.Mutex
	cwd *inode.Handle
}

// NewSession opens a Session rooted at the filesystem's root directory.
func (fs *FS) NewSession() (*Session, error) {
	root, err := fs.tbl.Open(inode.RootDirSector)
	if err != nil {
		return nil, fmt.Errorf("filesys: opening root for new session: %w", err)
	}
	return &Session{fs: fs, cwd: root}, nil
}

// Close releases the session's CWD handle.
func (s *Session) Close() error {
	s.mu.Lock()
	cwd := s.cwd
	s.cwd = nil
	s.mu.Unlock()
	return s.fs.tbl.Close(cwd)
}

func (s *Session) snapshotCWD() *inode.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// withRoot opens a fresh handle to the root directory for the duration of
// one path-resolution call and closes it again, so callers never have to
// manage root's lifetime themselves.
func (s *Session) withRoot(fn func(root *inode.Handle) error) error {
	root, err := s.fs.tbl.Open(inode.RootDirSector)
	if err != nil {
		return err
	}
	defer s.fs.tbl.Close(root)
	return fn(root)
}

func (s *Session) resolveFull(path string) (*inode.Handle, error) {
	var out *inode.Handle
	err := s.withRoot(func(root *inode.Handle) error {
		h, err := pathresolve.ResolveFull(s.fs, root, s.snapshotCWD(), path)
		out = h
		return err
	})
	return out, err
}

func (s *Session) resolveParent(path string) (*inode.Handle, string, error) {
	var parent *inode.Handle
	var name string
	err := s.withRoot(func(root *inode.Handle) error {
		p, n, err := pathresolve.ResolveParent(s.fs, root, s.snapshotCWD(), path)
		parent, name = p, n
		return err
	})
	return parent, name, err
}

// Chdir resolves path and, if it names a directory, makes it the
// session's new CWD, closing the previous one, returning whether it
// succeeded. Mirrors filesys_chdir's bool return.
func (s *Session) Chdir(path string) bool {
	return s.chdir(path) == nil
}

func (s *Session) chdir(path string) error {
	target, err := s.resolveFull(path)
	if err != nil {
		return err
	}
	isDir, err := s.fs.tbl.IsDir(target)
	if err != nil {
		s.fs.tbl.Close(target)
		return err
	}
	if !isDir {
		s.fs.tbl.Close(target)
		return ferrors.ErrNotDir
	}

	s.mu.Lock()
	old := s.cwd
	s.cwd = target
	s.mu.Unlock()
	return s.fs.tbl.Close(old)
}

// Create makes a new regular file named by path, sized initialSize bytes
// (all zero), and returns whether it succeeded. Mirrors filesys_create's
// bool return.
func (s *Session) Create(path string, initialSize int64) bool {
	return s.create(path, initialSize) == nil
}

func (s *Session) create(path string, initialSize int64) error {
	parent, name, err := s.resolveParent(path)
	if err != nil {
		return err
	}
	defer s.fs.tbl.Close(parent)

	sector, err := s.fs.fmap.Allocate()
	if err != nil {
		return err
	}
	if err := s.fs.tbl.Create(sector, initialSize, false); err != nil {
		s.fs.fmap.Release(sector)
		return err
	}

	pd := directory.Open(s.fs.tbl, parent)
	if err := pd.Add(name, sector); err != nil {
		s.discard(sector)
		return err
	}
	return nil
}

// discard frees a just-allocated inode (its block map and its own
// sector) after a failed Create/Mkdir, by opening it, marking it removed,
// and closing it — the same deferred-truncation path an ordinary unlink
// takes.
func (s *Session) discard(sector uint32) {
	h, err := s.fs.tbl.Open(sector)
	if err != nil {
		return
	}
	h.Remove()
	s.fs.tbl.Close(h)
}

// Mkdir makes a new, empty directory named by path (containing only "."
// and "..") and returns whether it succeeded.
func (s *Session) Mkdir(path string) bool {
	return s.mkdir(path) == nil
}

func (s *Session) mkdir(path string) error {
	parent, name, err := s.resolveParent(path)
	if err != nil {
		return err
	}
	defer s.fs.tbl.Close(parent)

	sector, err := s.fs.fmap.Allocate()
	if err != nil {
		return err
	}
	if err := s.fs.tbl.Create(sector, 0, true); err != nil {
		s.fs.fmap.Release(sector)
		return err
	}

	h, err := s.fs.tbl.Open(sector)
	if err != nil {
		s.discard(sector)
		return err
	}
	d := directory.Open(s.fs.tbl, h)
	if err := d.Add(".", sector); err != nil {
		s.fs.tbl.Close(h)
		s.discard(sector)
		return err
	}
	if err := d.Add("..", parent.Sector()); err != nil {
		s.fs.tbl.Close(h)
		s.discard(sector)
		return err
	}
	if err := s.fs.tbl.Close(h); err != nil {
		s.discard(sector)
		return err
	}

	pd := directory.Open(s.fs.tbl, parent)
	if err := pd.Add(name, sector); err != nil {
		s.discard(sector)
		return err
	}
	return nil
}

// Open resolves path and wraps the inode it names in a Handle. Returns
// nil, error if no such path exists.
func (s *Session) Open(path string) (*Handle, error) {
	ih, err := s.resolveFull(path)
	if err != nil {
		return nil, err
	}
	h, err := s.fs.wrapHandle(ih)
	if err != nil {
		s.fs.tbl.Close(ih)
		return nil, err
	}
	return h, nil
}

// Remove deletes the file or empty, unopened-elsewhere directory named by
// path, returning whether it succeeded. Unifies the cleanup the teacher's
// filesys_remove splits across branches (spec.md §9 open question 3): the
// opened inode handle is always closed through one path regardless of
// whether the removed entry turned out to be a file or a directory.
func (s *Session) Remove(path string) bool {
	return s.remove(path) == nil
}

func (s *Session) remove(path string) error {
	parent, name, err := s.resolveParent(path)
	if err != nil {
		return err
	}
	defer s.fs.tbl.Close(parent)

	if name == "." || name == ".." {
		return ferrors.ErrInvalidPath
	}

	pd := directory.Open(s.fs.tbl, parent)
	sector, err := pd.Lookup(name)
	if err != nil {
		return err
	}

	h, err := s.fs.tbl.Open(sector)
	if err != nil {
		return err
	}

	isDir, err := s.fs.tbl.IsDir(h)
	if err != nil {
		s.fs.tbl.Close(h)
		return err
	}
	if isDir {
		d := directory.Open(s.fs.tbl, h)
		empty, err := d.IsEmpty()
		if err != nil {
			s.fs.tbl.Close(h)
			return err
		}
		if !empty {
			s.fs.tbl.Close(h)
			return ferrors.ErrNotEmpty
		}
		if h.OpenCount() > 1 {
			s.fs.tbl.Close(h)
			return ferrors.ErrBusy
		}
	}

	if err := pd.Remove(name); err != nil {
		s.fs.tbl.Close(h)
		return err
	}
	h.Remove()
	return s.fs.tbl.Close(h)
}
