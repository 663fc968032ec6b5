package shmchan

import (
	"sync"
	"sync/atomic"
	"testing"
)

func newTestSegmentPair(t *testing.T, name string, payloadSize int) (*Segment, *Segment) {
	t.Helper()
	baseDir = t.TempDir()

	writerSeg, err := create(name, payloadSize)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	t.Cleanup(func() { writerSeg.Close() })

	readerSeg, err := attach(name, payloadSize)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	t.Cleanup(func() { readerSeg.Close() })

	return writerSeg, readerSeg
}

// TestSeqlockNoTornReads writes >=1e6 messages on one goroutine while a
// reader spins on another, asserting the reader never observes a torn
// payload and never returns a sequence number out of order with skips
// (Testable Property 1).
func TestSeqlockNoTornReads(t *testing.T) {
	const payloadSize = 64
	const messageCount = 1_000_000

	writerSeg, readerSeg := newTestSegmentPair(t, "seqlock-torn-read", payloadSize)
	writer := newWriter(writerSeg)
	reader := newReader(readerSeg)

	var wg sync.WaitGroup
	var writesDone atomic.Bool

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer writesDone.Store(true)
		payload := make([]byte, payloadSize)
		for i := uint64(1); i <= messageCount; i++ {
			for j := range payload {
				payload[j] = byte(i + uint64(j))
			}
			writer.Write(payload, i, float64(i))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		dst := make([]byte, payloadSize)
		var lastFrame uint64
		for {
			status, frameID, _ := reader.TryRead(dst)
			if status == StatusOK {
				if frameID <= lastFrame {
					t.Errorf("frame id went backwards or repeated: got %d, last %d", frameID, lastFrame)
				}
				// Every byte of a successfully-returned payload must be
				// internally consistent with the frame id that produced
				// it: byte j always equals byte(frameID + j).
				for j, b := range dst {
					if b != byte(frameID+uint64(j)) {
						t.Errorf("torn read detected: frame %d byte %d = %d, want %d", frameID, j, b, byte(frameID+uint64(j)))
						return
					}
				}
				lastFrame = frameID
			}
			if writesDone.Load() {
				// Drain any final pending value, then stop.
				status, frameID, _ := reader.TryRead(dst)
				if status == StatusOK && frameID > lastFrame {
					lastFrame = frameID
				}
				return
			}
		}
	}()

	wg.Wait()
}

// TestSeqlockLatestWins asserts that a reader which is slower than the
// writer only ever observes the most recent value at the time of its
// read, never a queue of intermediate values (Testable Property 2).
func TestSeqlockLatestWins(t *testing.T) {
	const payloadSize = 8
	writerSeg, readerSeg := newTestSegmentPair(t, "seqlock-latest-wins", payloadSize)
	writer := newWriter(writerSeg)
	reader := newReader(readerSeg)

	for i := uint64(1); i <= 10; i++ {
		writer.Write([]byte{byte(i)}, i, float64(i))
	}

	dst := make([]byte, payloadSize)
	status, frameID, _ := reader.TryRead(dst)
	if status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", status)
	}
	if frameID != 10 {
		t.Fatalf("expected latest frame id 10, got %d", frameID)
	}
	if dst[0] != 10 {
		t.Fatalf("expected latest payload byte 10, got %d", dst[0])
	}

	// A second read with no intervening write reports no new data.
	status, _, _ = reader.TryRead(dst)
	if status != StatusNoData {
		t.Fatalf("expected StatusNoData on repeat read, got %v", status)
	}
}

// TestSeqlockWriterRecoversFromAbandonedWrite simulates a writer that
// died mid-write (sequence left odd): a fresh writer must re-establish
// correct parity so readers see its writes.
func TestSeqlockWriterRecoversFromAbandonedWrite(t *testing.T) {
	writerSeg, readerSeg := newTestSegmentPair(t, "seqlock-abandoned", 8)
	reader := newReader(readerSeg)

	writerSeg.storeSeq(3) // odd: a write that never completed

	newWriter(writerSeg).Write([]byte{9, 0, 0, 0, 0, 0, 0, 0}, 1, 1.0)

	dst := make([]byte, 8)
	status, frameID, _ := reader.TryRead(dst)
	if status != StatusOK {
		t.Fatalf("expected StatusOK after writer recovery, got %v", status)
	}
	if frameID != 1 || dst[0] != 9 {
		t.Fatalf("got frame=%d payload[0]=%d, want 1/9", frameID, dst[0])
	}
	if seq := writerSeg.loadSeq(); seq%2 != 0 {
		t.Fatalf("sequence left odd after completed write: %d", seq)
	}
}

// TestSeqlockReaderRecoversAfterWriterRestart covers the channel
// reconnect scenario: a restarted creator zeroes the header, so the
// reader's remembered sequence is far ahead of the new writer's. The
// reader must still pick up fresh writes rather than waiting for the
// sequence to catch up.
func TestSeqlockReaderRecoversAfterWriterRestart(t *testing.T) {
	writerSeg, readerSeg := newTestSegmentPair(t, "seqlock-restart", 8)
	writer := newWriter(writerSeg)
	reader := newReader(readerSeg)

	for i := uint64(1); i <= 100; i++ {
		writer.Write([]byte{byte(i)}, i, float64(i))
	}
	dst := make([]byte, 8)
	if status, _, _ := reader.TryRead(dst); status != StatusOK {
		t.Fatal("expected StatusOK before restart")
	}

	// Creator restart: header zeroed, sequence starts over.
	for i := range writerSeg.header() {
		writerSeg.header()[i] = 0
	}
	newWriter(writerSeg).Write([]byte{42}, 1, 1.0)

	status, frameID, _ := reader.TryRead(dst)
	if status != StatusOK {
		t.Fatalf("expected StatusOK after writer restart, got %v", status)
	}
	if frameID != 1 || dst[0] != 42 {
		t.Fatalf("got frame=%d payload[0]=%d, want 1/42", frameID, dst[0])
	}
}

func TestSeqlockNoDataBeforeFirstWrite(t *testing.T) {
	_, readerSeg := newTestSegmentPair(t, "seqlock-no-data", 8)
	reader := newReader(readerSeg)

	status, _, _ := reader.TryRead(make([]byte, 8))
	if status != StatusNoData {
		t.Fatalf("expected StatusNoData before first write, got %v", status)
	}
}
