// Package testutil provides helpers shared by this module's package-level
// tests: collision-free scratch disk images and a small harness for
// driving several concurrent "threads" against one mounted filesystem.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pintos-go/filesys/block"
	"github.com/pintos-go/filesys/filesys"
)

// TempDevicePath returns a scratch disk-image path under the test's
// temporary directory, unique per call (via a random uuid) so parallel
// subtests never collide on the same backing file.
func TempDevicePath(t testing.TB) string {
	return filepath.Join(t.TempDir(), uuid.NewString()+".img")
}

// NewFormattedFS creates a fresh nsectors-sector file-backed device at a
// unique scratch path and formats it, returning the mounted filesystem
// and a cleanup func that removes the backing file.
func NewFormattedFS(t testing.TB, nsectors uint32) (*filesys.FS, func()) {
	path := TempDevicePath(t)
	dev, err := block.CreateFileDevice(path, nsectors)
	if err != nil {
		t.Fatalf("testutil: creating device: %v", err)
	}
	fs, err := filesys.Format(dev)
	if err != nil {
		t.Fatalf("testutil: formatting device: %v", err)
	}
	return fs, func() {
		fs.Done()
		dev.Close()
		os.Remove(path)
	}
}

// RunThreads fans n concurrent goroutines out over fn, each passed its own
// index, standing in for the kernel threads spec.md's concurrency scenarios
// describe as racing against one mounted filesystem. It returns the first
// error any goroutine returned, if any, mirroring errgroup.Group.Wait.
func RunThreads(n int, fn func(i int) error) error {
	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}
