//go:build !linux
// +build !linux

// File: pool/stack_other.go
// Author: momentics <momentics@gmail.com>
//
// Heap-backed regions for platforms without the mmap path. The guard is
// reserved but not protected.

package pool

func mapRegion(size, guard int) ([]byte, error) {
	return make([]byte, size+guard), nil
}

func unmapRegion([]byte) error { return nil }
