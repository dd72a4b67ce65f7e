// Package block implements the fixed-size-sector device adapter that sits
// underneath the buffer cache. A Device knows nothing about inodes,
// directories, or the free-sector map; it only moves 512-byte sectors.
package block

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// SectorSize is the fixed size, in bytes, of every sector on a Device.
const SectorSize = 512

// Device is a linear array of fixed-size sectors. Implementations must be
// safe for concurrent use: the buffer cache is the only caller, and it may
// issue reads and writes from multiple goroutines standing in for kernel
// threads.
type Device interface {
	// Read copies sector sec into buf, which must be exactly SectorSize
	// bytes long.
	Read(sec uint32, buf []byte) error
	// Write copies buf, which must be exactly SectorSize bytes long, into
	// sector sec.
	Write(sec uint32, buf []byte) error
	// WriteCount returns the number of sectors written since the device
	// was created. It backs the bc_stat instrumentation hook.
	WriteCount() uint64
	// SectorCount returns the total number of addressable sectors.
	SectorCount() uint32
}

func checkBuf(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("block: buffer must be %d bytes, got %d", SectorSize, len(buf))
	}
	return nil
}

// FileDevice is a Device backed by a regular file, addressed by sector
// offset. It is the production implementation: a formatted disk image is
// just a file of N*SectorSize bytes.
type FileDevice struct {
	mu         sync.Mutex
	f          *os.File
	nsectors   uint32
	writeCount uint64
}

// OpenFileDevice opens (without creating) an existing disk image at path
// and wraps it as a Device. The file's size must be a whole multiple of
// SectorSize.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("block: open %s: %w", path, err)
	}
	return newFileDevice(f)
}

// CreateFileDevice creates a new disk image at path with nsectors sectors,
// all zero-filled, and wraps it as a Device.
func CreateFileDevice(path string, nsectors uint32) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("block: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(nsectors) * SectorSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("block: truncate %s: %w", path, err)
	}
	return &FileDevice{f: f, nsectors: nsectors}, nil
}

func newFileDevice(f *os.File) (*FileDevice, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size()%SectorSize != 0 {
		f.Close()
		return nil, fmt.Errorf("block: file size %d is not a multiple of sector size", info.Size())
	}
	return &FileDevice{f: f, nsectors: uint32(info.Size() / SectorSize)}, nil
}

func (d *FileDevice) Read(sec uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	if sec >= d.nsectors {
		return fmt.Errorf("block: sector %d out of range (have %d)", sec, d.nsectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(buf, int64(sec)*SectorSize)
	return err
}

func (d *FileDevice) Write(sec uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	if sec >= d.nsectors {
		return fmt.Errorf("block: sector %d out of range (have %d)", sec, d.nsectors)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(buf, int64(sec)*SectorSize); err != nil {
		return err
	}
	atomic.AddUint64(&d.writeCount, 1)
	return nil
}

func (d *FileDevice) WriteCount() uint64 { return atomic.LoadUint64(&d.writeCount) }
func (d *FileDevice) SectorCount() uint32 { return d.nsectors }

// Close releases the underlying file handle. It does not flush any cache
// layered on top of this device.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// MemDevice is an in-memory Device, used by tests that want a disk without
// filesystem-level file I/O overhead.
type MemDevice struct {
	mu         sync.Mutex
	sectors    [][SectorSize]byte
	writeCount uint64
}

// NewMemDevice creates an in-memory device with nsectors zero-filled
// sectors.
func NewMemDevice(nsectors uint32) *MemDevice {
	return &MemDevice{sectors: make([][SectorSize]byte, nsectors)}
}

func (d *MemDevice) Read(sec uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sec >= uint32(len(d.sectors)) {
		return fmt.Errorf("block: sector %d out of range (have %d)", sec, len(d.sectors))
	}
	copy(buf, d.sectors[sec][:])
	return nil
}

func (d *MemDevice) Write(sec uint32, buf []byte) error {
	if err := checkBuf(buf); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sec >= uint32(len(d.sectors)) {
		return fmt.Errorf("block: sector %d out of range (have %d)", sec, len(d.sectors))
	}
	copy(d.sectors[sec][:], buf)
	d.writeCount++
	return nil
}

func (d *MemDevice) WriteCount() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeCount
}

func (d *MemDevice) SectorCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(len(d.sectors))
}
