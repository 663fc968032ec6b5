package shmchan

import "os"

// CreatorHandle is the resource handle a creator gets back instead of a
// plain *Segment: it additionally exposes Unlink, so only the process
// that actually created a name can destroy it (§3 "Destruction... is
// done only by the creator"; §9's "destructor closes-but-does-not-
// unlink" note made concrete as a type-level distinction rather than a
// runtime role check).
type CreatorHandle struct {
	*Segment
}

// Unlink removes the backing shared-memory name. Only meaningful once
// this process is shutting down; calling it while other processes still
// hold the segment attached leaves them with a dangling mapping (they
// keep their existing pages until they Close, same as POSIX shm_unlink).
func (c *CreatorHandle) Unlink() error {
	name := c.Segment.name
	if err := c.Segment.Close(); err != nil {
		return err
	}
	if err := os.Remove(segmentPath(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
