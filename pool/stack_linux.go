//go:build linux
// +build linux

// File: pool/stack_linux.go
// Author: momentics <momentics@gmail.com>
//
// Anonymous mmap regions with a PROT_NONE guard page at the low end.

package pool

import "golang.org/x/sys/unix"

func mapRegion(size, guard int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size+guard,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}
	if err := unix.Mprotect(mem[:guard], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	return mem, nil
}

func unmapRegion(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}
