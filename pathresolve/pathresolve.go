// Package pathresolve splits and walks filesystem paths against the
// directory layer, producing either a parent-directory-handle-plus-name
// pair or a terminal inode handle.
//
// Grounded on the teacher's fs/utils.go lastDir/advance pattern (split off
// the trailing component, walk the rest) and the Pintos
// dir_file_path_num_parts/dir_split_file_path/dir_resolve_path call
// pattern in original_source/src/filesys/filesys.c.
package pathresolve

import (
	"strings"

	"github.com/pintos-go/filesys/directory"
	"github.com/pintos-go/filesys/ferrors"
	"github.com/pintos-go/filesys/inode"
)

// Opener is the dependency pathresolve needs from the filesystem facade:
// open/close an inode handle by sector, tell whether one is a directory,
// and look up a name within an already-open directory handle. Declared
// at point of use so pathresolve does not import filesys (which imports
// pathresolve), avoiding a cycle.
type Opener interface {
	OpenInode(sector uint32) (*inode.Handle, error)
	CloseInode(h *inode.Handle) error
	IsDir(h *inode.Handle) (bool, error)
	Lookup(dirHandle *inode.Handle, name string) (uint32, error)
}

// Split breaks path into its non-empty components, ignoring doubled and
// trailing slashes. "a//b/" becomes ["a", "b"]; "/" becomes [].
func Split(path string) []string {
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// walk resolves every component in parts starting from start, returning
// the terminal handle. Every intermediate component, and the final one
// when requireDirAtEnd is true, must itself be a directory. The caller
// owns closing the returned handle; walk closes every intermediate handle
// it opens along the way, but never closes start itself.
func walk(o Opener, start *inode.Handle, parts []string, requireDirAtEnd bool) (*inode.Handle, error) {
	cur := start
	ownsCur := false

	closeCur := func() {
		if ownsCur {
			o.CloseInode(cur)
		}
	}

	for _, part := range parts {
		isDir, err := o.IsDir(cur)
		if err != nil {
			closeCur()
			return nil, err
		}
		if !isDir {
			closeCur()
			return nil, ferrors.ErrNotDir
		}

		var sector uint32
		switch part {
		case ".":
			sector = cur.Sector()
		default:
			sector, err = o.Lookup(cur, part)
			if err != nil {
				closeCur()
				return nil, err
			}
		}

		next, err := o.OpenInode(sector)
		if err != nil {
			closeCur()
			return nil, err
		}
		closeCur()
		cur = next
		ownsCur = true
	}

	if requireDirAtEnd {
		isDir, err := o.IsDir(cur)
		if err != nil {
			closeCur()
			return nil, err
		}
		if !isDir {
			closeCur()
			return nil, ferrors.ErrNotDir
		}
	}

	return cur, nil
}

// ResolveFull walks every component of path starting from root (absolute)
// or cwd (relative), returning the terminal inode handle. Used by chdir
// and by open, including opening "/" itself.
func ResolveFull(o Opener, root, cwd *inode.Handle, path string) (*inode.Handle, error) {
	parts := Split(path)
	start := cwd
	if strings.HasPrefix(path, "/") || cwd == nil {
		start = root
	}
	if len(parts) == 0 {
		return dupHandle(o, start)
	}
	return walk(o, start, parts, false)
}

// ResolveParent splits off path's final component and walks the rest,
// returning the opened parent directory handle and the final component
// name. Used by create, mkdir and remove.
func ResolveParent(o Opener, root, cwd *inode.Handle, path string) (*inode.Handle, string, error) {
	parts := Split(path)
	if len(parts) == 0 {
		return nil, "", ferrors.ErrInvalidPath
	}
	final := parts[len(parts)-1]
	if len(final) > directory.NameMax {
		return nil, "", ferrors.ErrNameTooLong
	}

	start := cwd
	if strings.HasPrefix(path, "/") || cwd == nil {
		start = root
	}
	if len(parts) == 1 {
		h, err := dupHandle(o, start)
		return h, final, err
	}
	parent, err := walk(o, start, parts[:len(parts)-1], true)
	return parent, final, err
}

func dupHandle(o Opener, h *inode.Handle) (*inode.Handle, error) {
	return o.OpenInode(h.Sector())
}
