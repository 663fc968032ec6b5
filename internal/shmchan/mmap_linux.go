//go:build linux

package shmchan

import "syscall"

const platformSupported = true

// mmap maps length bytes of fd starting at offset into the process's
// address space, read-write, shared with any other mapper of the same
// file. Grounded on google-periph/host/pmem/mem_linux.go's
// syscall.Mmap(fd, offset, length, PROT_READ|PROT_WRITE, MAP_SHARED).
func mmap(fd uintptr, offset int64, length int) ([]byte, error) {
	return syscall.Mmap(int(fd), offset, length, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
}

func munmap(b []byte) error {
	return syscall.Munmap(b)
}
