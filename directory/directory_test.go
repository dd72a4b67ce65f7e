package directory

import (
	"errors"
	"testing"

	"github.com/pintos-go/filesys/block"
	"github.com/pintos-go/filesys/bufcache"
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
	if b == 0 {
		return errors.New("bumpAllocator: cannot release sector 0")
	}
	a.free[b] = true
	return nil
}

func newTestDir(t *testing.T) (*inode.Table, *Dir) {
	t.Helper()
	dev := block.NewMemDevice(512)
	cache := bufcache.New(dev)
	tbl := inode.NewTable(cache, newBumpAllocator(2))

	const sector = 1
	if err := Create(tbl, sector, 4); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := tbl.Open(sector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	d := Open(tbl, h)
	if err := d.Add(".", sector); err != nil {
		t.Fatalf("Add(.): %v", err)
	}
	if err := d.Add("..", sector); err != nil {
		t.Fatalf("Add(..): %v", err)
	}
	return tbl, d
}

func TestAddAndLookup(t *testing.T) {
	_, d := newTestDir(t)

	if err := d.Add("foo", 42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sector, err := d.Lookup("foo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if sector != 42 {
		t.Fatalf("Lookup(foo) = %d, want 42", sector)
	}
}

func TestLookupMissing(t *testing.T) {
	_, d := newTestDir(t)
	if _, err := d.Lookup("nope"); !errors.Is(err, ferrors.ErrNotFound) {
		t.Fatalf("Lookup(nope) = %v, want ErrNotFound", err)
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	_, d := newTestDir(t)
	if err := d.Add("foo", 42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Add("foo", 43); !errors.Is(err, ferrors.ErrExists) {
		t.Fatalf("Add duplicate = %v, want ErrExists", err)
	}
}

func TestAddNameTooLong(t *testing.T) {
	_, d := newTestDir(t)
	long := "this-name-is-way-too-long-for-a-directory-entry"
	if err := d.Add(long, 42); !errors.Is(err, ferrors.ErrNameTooLong) {
		t.Fatalf("Add(long name) = %v, want ErrNameTooLong", err)
	}
}

func TestRemoveReusesSlot(t *testing.T) {
	_, d := newTestDir(t)
	if err := d.Add("foo", 42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Fill the last spare slot so that Add can only avoid growing the
	// directory by reusing foo's freed slot.
	if err := d.Add("baz", 43); err != nil {
		t.Fatalf("Add: %v", err)
	}
	lengthBefore, err := d.tbl.Length(d.h)
	if err != nil {
		t.Fatalf("Length: %v", err)
	}

	if err := d.Remove("foo"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := d.Lookup("foo"); !errors.Is(err, ferrors.ErrNotFound) {
		t.Fatalf("Lookup after Remove = %v, want ErrNotFound", err)
	}

	if err := d.Add("bar", 99); err != nil {
		t.Fatalf("Add after Remove: %v", err)
	}
	lengthAfter, err := d.tbl.Length(d.h)
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if lengthAfter != lengthBefore {
		t.Fatalf("Add after Remove grew the directory (length %d -> %d) instead of reusing the freed slot", lengthBefore, lengthAfter)
	}
}

func TestIsEmpty(t *testing.T) {
	_, d := newTestDir(t)
	empty, err := d.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if !empty {
		t.Fatalf("a freshly created directory with only . and .. should be empty")
	}

	if err := d.Add("foo", 42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	empty, err = d.IsEmpty()
	if err != nil {
		t.Fatalf("IsEmpty: %v", err)
	}
	if empty {
		t.Fatalf("a directory with a real entry should not be empty")
	}
}

func TestReaddirSkipsDotEntries(t *testing.T) {
	_, d := newTestDir(t)
	if err := d.Add("foo", 42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := d.Add("bar", 43); err != nil {
		t.Fatalf("Add: %v", err)
	}

	seen := map[string]bool{}
	for {
		name, ok, err := d.Readdir()
		if err != nil {
			t.Fatalf("Readdir: %v", err)
		}
		if !ok {
			break
		}
		if name == "." || name == ".." {
			t.Fatalf("Readdir must skip . and .., saw %q", name)
		}
		seen[name] = true
	}
	if !seen["foo"] || !seen["bar"] {
		t.Fatalf("Readdir missed entries, saw %v", seen)
	}
}

func TestEntriesIncludesDotEntries(t *testing.T) {
	_, d := newTestDir(t)
	if err := d.Add("foo", 42); err != nil {
		t.Fatalf("Add: %v", err)
	}

	entries, err := d.Entries()
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	names := map[string]uint32{}
	for _, e := range entries {
		names[e.Name] = e.Sector
	}
	if _, ok := names["."]; !ok {
		t.Fatalf("Entries should include .")
	}
	if _, ok := names[".."]; !ok {
		t.Fatalf("Entries should include ..")
	}
	if names["foo"] != 42 {
		t.Fatalf("Entries[foo] = %d, want 42", names["foo"])
	}
}
