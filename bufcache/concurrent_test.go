package bufcache_test

import (
	"sync"
	"testing"

	"github.com/pintos-go/filesys/block"
	"github.com/pintos-go/filesys/bufcache"
	"github.com/pintos-go/filesys/internal/testutil"
)

// TestConcurrentAcquireBlocksUntilRelease exercises the one property the
// per-entry sync.Cond exists for: a second goroutine acquiring a pinned
// sector must not proceed until the first pinner releases it.
func TestConcurrentAcquireBlocksUntilRelease(t *testing.T) {
	dev := block.NewMemDevice(4)
	c := bufcache.New(dev)

	first, err := c.Acquire(0, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}

	holding := make(chan struct{})
	allowRelease := make(chan struct{})

	err = testutil.RunThreads(2, func(i int) error {
		switch i {
		case 0:
			close(holding)
			<-allowRelease
			record("release")
			c.Release(first)
		case 1:
			<-holding
			close(allowRelease)
			e, err := c.Acquire(0, false)
			if err != nil {
				return err
			}
			record("acquired-second")
			c.Release(e)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunThreads: %v", err)
	}

	if len(events) != 2 || events[0] != "release" || events[1] != "acquired-second" {
		t.Fatalf("second Acquire must not complete until after the first Release, got %v", events)
	}
}
