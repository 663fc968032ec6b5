package shmchan

// ReadStatus is the tri-state result of a non-blocking read, replacing
// exception-for-control-flow with a closed enumeration per Design Notes
// §9 ("convert to a result type with two variants... or three").
type ReadStatus int

const (
	// StatusOK means dst was filled with a consistent, new-since-last-read
	// payload.
	StatusOK ReadStatus = iota
	// StatusNoData means no new data was available (writer mid-write,
	// torn read, or no write since the last successful read).
	StatusNoData
)

// Writer performs the seqlock write protocol (§4.A): increment sequence
// to odd, copy header fields and payload, fence, increment to even.
// Writer.Write never blocks.
type Writer struct {
	seg *Segment
}

func newWriter(seg *Segment) *Writer { return &Writer{seg: seg} }

// Write copies payload into the segment and publishes frameID/ts as the
// new header metadata. len(payload) must equal the segment's configured
// payload size.
func (w *Writer) Write(payload []byte, frameID uint64, ts float64) {
	seg := w.seg
	seq := seg.loadSeq()
	if seq%2 != 0 {
		// A previous writer died mid-write and left the sequence odd.
		// Re-base on the next even value so the in-progress/complete
		// parity stays correct for readers.
		seq++
	}
	seg.storeSeq(seq + 1) // odd: write-in-progress

	copy(seg.payload(), payload)
	seg.setFrameID(frameID)
	seg.setWriteTS(ts)

	seg.storeSeq(seq + 2) // even: write-complete
}

// Reader performs the seqlock non-blocking read protocol (§4.A): it
// never returns a torn payload, and tracks the last sequence number it
// successfully returned so Status reflects the latest-wins contract
// (Testable Properties 1-2).
type Reader struct {
	seg        *Segment
	lastReturn uint64
}

func newReader(seg *Segment) *Reader { return &Reader{seg: seg} }

// TryRead attempts a non-blocking snapshot of the segment into dst,
// which must be sized to the segment's payload size. It returns
// StatusNoData if the writer was mid-write, if the read was torn, or if
// nothing has been written since the last successful TryRead.
func (r *Reader) TryRead(dst []byte) (ReadStatus, uint64, float64) {
	seg := r.seg

	seq1 := seg.loadSeq()
	if seq1%2 != 0 {
		return StatusNoData, 0, 0
	}
	if seq1 == r.lastReturn {
		return StatusNoData, 0, 0
	}

	copy(dst, seg.payload())
	frameID := seg.frameID()
	ts := seg.writeTS()

	// The second atomic load of the sequence number is the read-side
	// fence: Go's atomic load/store already establish the acquire/release
	// ordering the seqlock protocol needs, so no separate fence primitive
	// is required between the payload copy and this re-check.
	seq2 := seg.loadSeq()
	if seq1 != seq2 {
		return StatusNoData, 0, 0
	}

	r.lastReturn = seq1
	return StatusOK, frameID, ts
}

// LastSequence returns the sequence number of the last successfully
// returned read, for tests that assert monotonic-with-skips behavior.
func (r *Reader) LastSequence() uint64 { return r.lastReturn }
