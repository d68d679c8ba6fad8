// File: fiber/waitq.go
// Author: momentics <momentics@gmail.com>
//
// FIFO wait list for the sync primitives, guarded by a spin lock.

package fiber

import (
	"runtime"
	"sync/atomic"
)

// spinLock is a non-suspending lock for O(1) critical sections. It never
// parks a fiber, so it may be taken from inside an attach hook.
type spinLock struct {
	v atomic.Int32
}

func (l *spinLock) Lock() {
	for !l.v.CompareAndSwap(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) Unlock() {
	if l.v.Swap(0) == 0 {
		panic("fiber: unlock of unlocked spin lock")
	}
}

type waitNode struct {
	it         *Item
	prev, next int32
}

// waitQueue is a doubly linked FIFO stored in an arena. Handles are arena
// indices; 0 is the nil handle and nodes[0] is never used. The zero value
// is an empty queue. Callers hold the owning primitive's spin lock.
type waitQueue struct {
	nodes      []waitNode
	head, tail int32
	free       int32
	n          int
}

func (q *waitQueue) Len() int { return q.n }

func (q *waitQueue) alloc() int32 {
	if q.free != 0 {
		h := q.free
		q.free = q.nodes[h].next
		return h
	}
	if len(q.nodes) == 0 {
		q.nodes = append(q.nodes, waitNode{})
	}
	q.nodes = append(q.nodes, waitNode{})
	return int32(len(q.nodes) - 1)
}

// push appends it and records the handle on the item.
func (q *waitQueue) push(it *Item) {
	h := q.alloc()
	q.nodes[h] = waitNode{it: it, prev: q.tail}
	if q.tail != 0 {
		q.nodes[q.tail].next = h
	} else {
		q.head = h
	}
	q.tail = h
	it.qh = h
	q.n++
}

// pop removes and returns the head, nil when empty.
func (q *waitQueue) pop() *Item {
	if q.head == 0 {
		return nil
	}
	it := q.nodes[q.head].it
	q.unlink(q.head)
	return it
}

// remove unlinks it if it is still queued.
func (q *waitQueue) remove(it *Item) bool {
	h := it.qh
	if h == 0 || int(h) >= len(q.nodes) || q.nodes[h].it != it {
		return false
	}
	q.unlink(h)
	return true
}

func (q *waitQueue) unlink(h int32) {
	nd := &q.nodes[h]
	if nd.prev != 0 {
		q.nodes[nd.prev].next = nd.next
	} else {
		q.head = nd.next
	}
	if nd.next != 0 {
		q.nodes[nd.next].prev = nd.prev
	} else {
		q.tail = nd.prev
	}
	nd.it.qh = 0
	*nd = waitNode{next: q.free}
	q.free = h
	q.n--
}
