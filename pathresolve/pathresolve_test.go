package pathresolve

import (
	"errors"
	"testing"

	"github.com/pintos-go/filesys/block"
	"github.com/pintos-go/filesys/bufcache"
	"github.com/pintos-go/filesys/directory"
	"github.com/pintos-go/filesys/ferrors"
	"github.com/pintos-go/filesys/inode"
)

type bumpAllocator struct {
	next uint32
	free map[uint32]bool
}

func newBumpAllocator(start uint32) *bumpAllocator {
	return &bumpAllocator{next: start, free: make(map[uint32]bool)}
}

func (a *bumpAllocator) Allocate() (uint32, error) {
	for b := range a.free {
		delete(a.free, b)
		return b, nil
	}
	b := a.next
	a.next++
	return b, nil
}

func (a *bumpAllocator) Release(b uint32) error {
	a.free[b] = true
	return nil
}

// testFS is a minimal Opener: enough plumbing to exercise path resolution
// without pulling in package filesys (which itself depends on this
// package), mirroring how package filesys implements Opener in production.
type testFS struct {
	tbl *inode.Table
}

func (fs *testFS) OpenInode(sector uint32) (*inode.Handle, error) { return fs.tbl.Open(sector) }
func (fs *testFS) CloseInode(h *inode.Handle) error               { return fs.tbl.Close(h) }
func (fs *testFS) IsDir(h *inode.Handle) (bool, error)            { return fs.tbl.IsDir(h) }

func (fs *testFS) Lookup(dirHandle *inode.Handle, name string) (uint32, error) {
	isDir, err := fs.tbl.IsDir(dirHandle)
	if err != nil {
		return 0, err
	}
	if !isDir {
		return 0, ferrors.ErrNotDir
	}
	return directory.Open(fs.tbl, dirHandle).Lookup(name)
}

// buildTree sets up:
//
//	/ (root, sector 1)
//	  a/ (sector 2)
//	    b (sector 3, a regular file)
func buildTree(t *testing.T) (*testFS, *inode.Handle) {
	t.Helper()
	dev := block.NewMemDevice(512)
	cache := bufcache.New(dev)
	tbl := inode.NewTable(cache, newBumpAllocator(4))
	fs := &testFS{tbl: tbl}

	if err := directory.Create(tbl, 1, 4); err != nil {
		t.Fatalf("Create root: %v", err)
	}
	root, err := tbl.Open(1)
	if err != nil {
		t.Fatalf("Open root: %v", err)
	}
	rd := directory.Open(tbl, root)
	must(t, rd.Add(".", 1))
	must(t, rd.Add("..", 1))

	if err := directory.Create(tbl, 2, 4); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	ah, err := tbl.Open(2)
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	ad := directory.Open(tbl, ah)
	must(t, ad.Add(".", 2))
	must(t, ad.Add("..", 1))
	must(t, rd.Add("a", 2))
	must(t, tbl.Close(ah))

	if err := tbl.Create(3, 0, false); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	must(t, ad.Add("b", 3))

	return fs, root
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResolveFullAbsolute(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	h, err := ResolveFull(fs, root, root, "/a/b")
	if err != nil {
		t.Fatalf("ResolveFull: %v", err)
	}
	defer fs.CloseInode(h)
	if h.Sector() != 3 {
		t.Fatalf("resolved sector = %d, want 3", h.Sector())
	}
}

func TestResolveFullRelative(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	cwd, err := fs.OpenInode(2) // "a"
	if err != nil {
		t.Fatalf("OpenInode: %v", err)
	}
	defer fs.CloseInode(cwd)

	h, err := ResolveFull(fs, root, cwd, "b")
	if err != nil {
		t.Fatalf("ResolveFull: %v", err)
	}
	defer fs.CloseInode(h)
	if h.Sector() != 3 {
		t.Fatalf("resolved sector = %d, want 3", h.Sector())
	}
}

func TestResolveFullDotDot(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	cwd, err := fs.OpenInode(2)
	if err != nil {
		t.Fatalf("OpenInode: %v", err)
	}
	defer fs.CloseInode(cwd)

	h, err := ResolveFull(fs, root, cwd, "../a/b")
	if err != nil {
		t.Fatalf("ResolveFull: %v", err)
	}
	defer fs.CloseInode(h)
	if h.Sector() != 3 {
		t.Fatalf("resolved sector = %d, want 3", h.Sector())
	}
}

func TestResolveFullEmptyPathReturnsStart(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	h, err := ResolveFull(fs, root, root, "")
	if err != nil {
		t.Fatalf("ResolveFull: %v", err)
	}
	defer fs.CloseInode(h)
	if h.Sector() != root.Sector() {
		t.Fatalf("empty path should resolve to the starting handle's sector")
	}
}

func TestResolveFullThroughNonDirectoryFails(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	if _, err := ResolveFull(fs, root, root, "/a/b/c"); !errors.Is(err, ferrors.ErrNotDir) {
		t.Fatalf("resolving through a file component = %v, want ErrNotDir", err)
	}
}

func TestResolveFullMissingComponentFails(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	if _, err := ResolveFull(fs, root, root, "/a/nope"); !errors.Is(err, ferrors.ErrNotFound) {
		t.Fatalf("resolving a missing name = %v, want ErrNotFound", err)
	}
}

func TestResolveParentSplitsFinalComponent(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	parent, name, err := ResolveParent(fs, root, root, "/a/b")
	if err != nil {
		t.Fatalf("ResolveParent: %v", err)
	}
	defer fs.CloseInode(parent)
	if name != "b" {
		t.Fatalf("name = %q, want b", name)
	}
	if parent.Sector() != 2 {
		t.Fatalf("parent sector = %d, want 2", parent.Sector())
	}
}

func TestResolveParentSingleComponent(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	parent, name, err := ResolveParent(fs, root, root, "a")
	if err != nil {
		t.Fatalf("ResolveParent: %v", err)
	}
	defer fs.CloseInode(parent)
	if name != "a" {
		t.Fatalf("name = %q, want a", name)
	}
	if parent.Sector() != root.Sector() {
		t.Fatalf("parent sector = %d, want root's %d", parent.Sector(), root.Sector())
	}
}

func TestResolveParentEmptyPathFails(t *testing.T) {
	fs, root := buildTree(t)
	defer fs.CloseInode(root)

	if _, _, err := ResolveParent(fs, root, root, ""); !errors.Is(err, ferrors.ErrInvalidPath) {
		t.Fatalf("ResolveParent(\"\") = %v, want ErrInvalidPath", err)
	}
}

func TestSplit(t *testing.T) {
	cases := map[string][]string{
		"/":       {},
		"a//b/":   {"a", "b"},
		"a/b/c":   {"a", "b", "c"},
		"":        {},
		"///a///": {"a"},
	}
	for path, want := range cases {
		got := Split(path)
		if len(got) != len(want) {
			t.Fatalf("Split(%q) = %v, want %v", path, got, want)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("Split(%q) = %v, want %v", path, got, want)
			}
		}
	}
}
