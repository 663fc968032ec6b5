// Package shmchan implements the shared-memory ring/slot channel from
// spec.md §4.A: a single-slot mailbox with seqlock-style atomic handoff
// between one writer and one reader, backed by a named, mmap'ed region.
//
// The backing "named OS resource" (§3 Data Model) is a regular file
// under a well-known shared-memory directory, ftruncate'd to the full
// header+payload size and mapped MAP_SHARED — the file's path plays the
// role POSIX shm_open's name would, without a cgo binding. Mapping
// itself is grounded on google-periph/host/pmem (see mmap_linux.go).
package shmchan

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"
)

// HeaderSize is the fixed header layout: sequence_number(8) + write_ts(8)
// + frame_id(8) + flags(4) + reserved(4), little-endian, per §4.A.
const HeaderSize = 32

const (
	flagImage     uint32 = 1 << 0
	flagDetection uint32 = 1 << 1
	flagControl   uint32 = 1 << 2
)

// baseDir is the directory backing shared-memory segments. Overridable
// in tests so concurrent test runs don't collide on /dev/shm-style
// global names.
var baseDir = filepath.Join(os.TempDir(), "lkas-shm")

// RetryOpts bounds the retry loop attachRetry uses while waiting for a
// creator to show up, per §4.A/§7. create does not retry.
type RetryOpts struct {
	RetryCount int
	RetryDelay time.Duration
}

// DefaultRetryOpts matches the "a few loop iterations" tolerance spec.md
// §7 describes for attach races during startup.
var DefaultRetryOpts = RetryOpts{RetryCount: 50, RetryDelay: 100 * time.Millisecond}

// Segment is a memory-mapped shared-memory region: HeaderSize bytes of
// header followed by a fixed-size payload. It exposes only the
// operations safe for any role; Unlink is only reachable through
// CreatorHandle (see creator.go) so an attacher cannot accidentally
// destroy the name it doesn't own (§9 "resource handle whose destructor
// closes-but-does-not-unlink").
type Segment struct {
	name        string
	payloadSize int
	file        *os.File
	mapped      []byte
}

func segmentPath(name string) string {
	return filepath.Join(baseDir, name)
}

func totalSize(payloadSize int) int64 {
	return int64(HeaderSize + payloadSize)
}

// create constructs the named region of the correct size and zero-
// initializes the header (§4.A "creator... initializes the header to
// zero/empty"). Fails fatally if the name already exists with a
// different size.
func create(name string, payloadSize int) (*Segment, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("shmchan: create %q: mkdir backing dir: %w", name, err)
	}
	path := segmentPath(name)
	size := totalSize(payloadSize)

	if info, err := os.Stat(path); err == nil {
		if info.Size() != size {
			return nil, fmt.Errorf("shmchan: create %q: already exists with size %d, want %d", name, info.Size(), size)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shmchan: create %q: %w", name, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmchan: create %q: truncate: %w", name, err)
	}

	mapped, err := mmap(f.Fd(), 0, int(size))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmchan: create %q: mmap: %w", name, err)
	}
	for i := range mapped[:HeaderSize] {
		mapped[i] = 0
	}

	return &Segment{name: name, payloadSize: payloadSize, file: f, mapped: mapped}, nil
}

// attach opens an existing region by name. It fails (after the bounded
// retry loop, applied by the caller) if the region does not exist, or if
// it exists with a mismatched payload size (§4.A "a size mismatch is
// fatal at attach time").
func attach(name string, payloadSize int) (*Segment, error) {
	path := segmentPath(name)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("shmchan: attach %q: %w", name, err)
	}
	want := totalSize(payloadSize)
	if info.Size() != want {
		return nil, fmt.Errorf("shmchan: attach %q: size mismatch, found %d want %d", name, info.Size(), want)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shmchan: attach %q: %w", name, err)
	}
	mapped, err := mmap(f.Fd(), 0, int(want))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmchan: attach %q: mmap: %w", name, err)
	}
	return &Segment{name: name, payloadSize: payloadSize, file: f, mapped: mapped}, nil
}

// attachRetry retries attach up to opts.RetryCount times, sleeping
// opts.RetryDelay between attempts, to tolerate the startup race where a
// reader starts before its upstream creator (§4.A, §7 "Attach races").
func attachRetry(name string, payloadSize int, opts RetryOpts) (*Segment, error) {
	var lastErr error
	for i := 0; i <= opts.RetryCount; i++ {
		seg, err := attach(name, payloadSize)
		if err == nil {
			return seg, nil
		}
		lastErr = err
		if i < opts.RetryCount {
			time.Sleep(opts.RetryDelay)
		}
	}
	return nil, fmt.Errorf("shmchan: attach %q: exhausted %d retries: %w", name, opts.RetryCount, lastErr)
}

func (s *Segment) seqPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&s.mapped[0]))
}

func (s *Segment) loadSeq() uint64 {
	return atomic.LoadUint64(s.seqPtr())
}

func (s *Segment) storeSeq(v uint64) {
	atomic.StoreUint64(s.seqPtr(), v)
}

func (s *Segment) header() []byte { return s.mapped[:HeaderSize] }
func (s *Segment) payload() []byte { return s.mapped[HeaderSize:] }

func (s *Segment) writeTS() float64 {
	bits := binary.LittleEndian.Uint64(s.header()[8:16])
	return math.Float64frombits(bits)
}

func (s *Segment) setWriteTS(v float64) {
	binary.LittleEndian.PutUint64(s.header()[8:16], math.Float64bits(v))
}

func (s *Segment) frameID() uint64 {
	return binary.LittleEndian.Uint64(s.header()[16:24])
}

func (s *Segment) setFrameID(v uint64) {
	binary.LittleEndian.PutUint64(s.header()[16:24], v)
}

// Close unmaps the segment. Safe for both creators and attachers; does
// not remove the backing name (§9: only the creator unlinks).
func (s *Segment) Close() error {
	if s.mapped == nil {
		return nil
	}
	err := munmap(s.mapped)
	s.mapped = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Name returns the shared-memory name this segment is attached to.
func (s *Segment) Name() string { return s.name }
