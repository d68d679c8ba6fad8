// File: pool/stackpool.go
// Package pool implements the fiber stack free-list.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

const (
	// DefaultStackSize is the usable size of a region, guard excluded.
	DefaultStackSize = 64 * 1024
	// DefaultStackPoolCapacity bounds the number of idle regions kept for reuse.
	DefaultStackPoolCapacity = 256
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("stack pool is closed")

// Stack is one guard-paged memory region.
type Stack struct {
	id     uint64
	mem    []byte // whole mapping, guard included
	usable []byte
	free   bool
}

// ID returns a process-unique identifier of the region.
func (s *Stack) ID() uint64 { return s.id }

// Bytes returns the usable part of the region.
func (s *Stack) Bytes() []byte { return s.usable }

// StackPoolStats reports allocation counters.
type StackPoolStats struct {
	Mapped   int64 // regions currently mapped
	InUse    int64 // regions handed out
	Idle     int64 // regions on the free-list
	Recycled int64 // Get calls served from the free-list
}

// StackPool is a bounded free-list of equally sized regions.
type StackPool struct {
	size     int
	guard    int
	capacity int

	mu     sync.Mutex
	free   []*Stack
	closed bool

	nextID   atomic.Uint64
	mapped   atomic.Int64
	inUse    atomic.Int64
	recycled atomic.Int64
}

// NewStackPool creates a pool of regions with at least size usable bytes.
// size is rounded up to the page size; capacity bounds the idle free-list.
func NewStackPool(size, capacity int) *StackPool {
	page := os.Getpagesize()
	if size <= 0 {
		size = DefaultStackSize
	}
	size = (size + page - 1) &^ (page - 1)
	if capacity < 0 {
		capacity = 0
	}
	return &StackPool{
		size:     size,
		guard:    page,
		capacity: capacity,
		free:     make([]*Stack, 0, capacity),
	}
}

// Size returns the usable size of every region.
func (p *StackPool) Size() int { return p.size }

// Get pops an idle region or maps a new one. A mapping failure is returned
// to the caller, which treats it as fatal.
func (p *StackPool) Get() (*Stack, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.free); n > 0 {
		s := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		s.free = false
		p.inUse.Add(1)
		p.recycled.Add(1)
		return s, nil
	}
	p.mu.Unlock()

	mem, err := mapRegion(p.size, p.guard)
	if err != nil {
		return nil, fmt.Errorf("stack pool: map %d bytes: %w", p.size+p.guard, err)
	}
	s := &Stack{
		id:     p.nextID.Add(1),
		mem:    mem,
		usable: mem[p.guard:],
	}
	p.mapped.Add(1)
	p.inUse.Add(1)
	return s, nil
}

// Put returns a region to the pool. Returning a region twice panics: the
// caller holds a reference to memory it no longer owns.
func (p *StackPool) Put(s *Stack) {
	if s == nil {
		return
	}
	if s.free {
		panic(fmt.Sprintf("stack pool: region %d released twice", s.id))
	}
	s.free = true
	p.inUse.Add(-1)

	p.mu.Lock()
	if !p.closed && len(p.free) < p.capacity {
		clear(s.usable[:min(len(s.usable), 256)])
		p.free = append(p.free, s)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.release(s)
}

// Close unmaps every idle region. Regions still in use are unmapped when
// they are returned.
func (p *StackPool) Close() error {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed = true
	p.mu.Unlock()
	var errs []error
	for _, s := range free {
		if err := p.release(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the pool counters.
func (p *StackPool) Stats() StackPoolStats {
	p.mu.Lock()
	idle := int64(len(p.free))
	p.mu.Unlock()
	return StackPoolStats{
		Mapped:   p.mapped.Load(),
		InUse:    p.inUse.Load(),
		Idle:     idle,
		Recycled: p.recycled.Load(),
	}
}

func (p *StackPool) release(s *Stack) error {
	p.mapped.Add(-1)
	mem := s.mem
	s.mem, s.usable = nil, nil
	return unmapRegion(mem)
}
