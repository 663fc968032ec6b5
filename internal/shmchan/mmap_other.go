//go:build !linux

package shmchan

import "fmt"

const platformSupported = false

// mmap is not implemented on non-Linux platforms, mirroring
// google-periph/host/pmem/mem_other.go's stub shape.
func mmap(fd uintptr, offset int64, length int) ([]byte, error) {
	return nil, fmt.Errorf("shmchan: mmap not implemented on this OS")
}

func munmap(b []byte) error {
	return fmt.Errorf("shmchan: munmap not implemented on this OS")
}
