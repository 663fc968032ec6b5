package shmchan

import (
	"context"
	"time"
)

// pollInterval is how often BlockingRead retries TryRead while waiting
// for new data. §5 allows suspension of up to 100ms in the server read
// loops; polling faster than that keeps latency low without busy-spinning.
const pollInterval = time.Millisecond

// BlockingRead polls TryRead until data arrives, the timeout elapses, or
// ctx is done, satisfying §4.D/E's "block-read with 100ms timeout"
// requirement while keeping the underlying primitive non-blocking
// (§5: "writers never block, reads never block" at the syscall level —
// this is a caller-side poll loop layered on top, not a blocking syscall).
func (r *Reader) BlockingRead(ctx context.Context, dst []byte, timeout time.Duration) (ReadStatus, uint64, float64) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if status, frameID, ts := r.TryRead(dst); status == StatusOK {
			return status, frameID, ts
		}
		if time.Now().After(deadline) {
			return StatusNoData, 0, 0
		}
		select {
		case <-ctx.Done():
			return StatusNoData, 0, 0
		case <-ticker.C:
		}
	}
}
