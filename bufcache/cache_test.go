package bufcache

import (
	"testing"

	"github.com/pintos-go/filesys/block"
)

func fill(b byte) [block.SectorSize]byte {
	var buf [block.SectorSize]byte
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestAcquireMissThenHit(t *testing.T) {
	dev := block.NewMemDevice(8)
	c := New(dev)

	e, err := c.Acquire(3, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	c.Release(e)

	e, err = c.Acquire(3, false)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	c.Release(e)

	access, hit, _ := c.Stats()
	if access != 2 || hit != 1 {
		t.Fatalf("access=%d hit=%d, want access=2 hit=1", access, hit)
	}
}

func TestWriteBackOnEviction(t *testing.T) {
	dev := block.NewMemDevice(NumEntries + 1)
	c := New(dev)

	payload := fill(0x42)
	e, err := c.Acquire(0, true)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	*e.Block() = payload
	c.Release(e)

	// Touch every other entry so sector 0's entry becomes the LRU victim.
	for sec := uint32(1); sec <= NumEntries; sec++ {
		e, err := c.Acquire(sec, false)
		if err != nil {
			t.Fatalf("Acquire(%d): %v", sec, err)
		}
		c.Release(e)
	}

	var got [block.SectorSize]byte
	if err := dev.Read(0, got[:]); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != payload {
		t.Fatalf("dirty entry for sector 0 was not written back on eviction")
	}
}

func TestFlushPersistsDirtyEntries(t *testing.T) {
	dev := block.NewMemDevice(4)
	c := New(dev)

	payload := fill(0x7)
	e, err := c.Acquire(1, true)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	*e.Block() = payload
	c.Release(e)

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var got [block.SectorSize]byte
	if err := dev.Read(1, got[:]); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != payload {
		t.Fatalf("Flush did not write the dirty entry back to the device")
	}
}

func TestResetClearsStatsAndForcesMiss(t *testing.T) {
	dev := block.NewMemDevice(2)
	c := New(dev)

	e, _ := c.Acquire(0, false)
	c.Release(e)
	e, _ = c.Acquire(0, false)
	c.Release(e)

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	access, hit, _ := c.Stats()
	if access != 0 || hit != 0 {
		t.Fatalf("Reset should zero counters, got access=%d hit=%d", access, hit)
	}

	e, _ = c.Acquire(0, false)
	c.Release(e)
	access, hit, _ = c.Stats()
	if access != 1 || hit != 0 {
		t.Fatalf("first access after Reset should be a miss, got access=%d hit=%d", access, hit)
	}
}

func TestHitRateNeverAccessed(t *testing.T) {
	c := New(block.NewMemDevice(1))
	if rate := c.HitRate(); rate != 0 {
		t.Fatalf("HitRate on an untouched cache = %v, want 0", rate)
	}
}

func TestAllEntriesPinnedErrors(t *testing.T) {
	dev := block.NewMemDevice(NumEntries + 1)
	c := New(dev)

	pinned := make([]Entry, 0, NumEntries)
	for sec := uint32(0); sec < NumEntries; sec++ {
		e, err := c.Acquire(sec, false)
		if err != nil {
			t.Fatalf("Acquire(%d): %v", sec, err)
		}
		pinned = append(pinned, e)
	}

	if _, err := c.Acquire(NumEntries, false); err == nil {
		t.Fatalf("expected an error acquiring with every entry pinned")
	}

	for _, e := range pinned {
		c.Release(e)
	}
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic releasing an entry more times than acquired")
		}
	}()
	c := New(block.NewMemDevice(1))
	e, _ := c.Acquire(0, false)
	c.Release(e)
	c.Release(e)
}
