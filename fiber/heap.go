// File: fiber/heap.go
// Author: momentics <momentics@gmail.com>
//
// Timer/ready heap of a scheduler thread.

package fiber

import (
	"container/heap"
	"time"

	"github.com/momentics/hioload-fiber/api"
)

// itemHeap is a binary min-heap that records each member's position on the
// item, so members can leave from any position in O(log n).
type itemHeap struct {
	items []*Item
	side  heapSide
}

func (h *itemHeap) Len() int { return len(h.items) }

func (h *itemHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if !a.key.Equal(b.key) {
		return a.key.Before(b.key)
	}
	return a.seq < b.seq
}

func (h *itemHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(h.items)
	it.side = h.side
	h.items = append(h.items, it)
}

func (h *itemHeap) Pop() any {
	n := len(h.items) - 1
	it := h.items[n]
	h.items[n] = nil
	h.items = h.items[:n]
	it.index = -1
	it.side = sideNone
	return it
}

func (h *itemHeap) peek() *Item {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// timerHeap pairs a pending side, ordered by deadline, with a ready side,
// ordered by resolution time. Ties on either side fall back to insertion
// order.
type timerHeap struct {
	pending itemHeap
	ready   itemHeap
	seq     uint64
}

func newTimerHeap() *timerHeap {
	return &timerHeap{
		pending: itemHeap{side: sidePending},
		ready:   itemHeap{side: sideReady},
	}
}

func (h *timerHeap) pushPending(it *Item) {
	h.remove(it)
	h.seq++
	it.seq = h.seq
	it.key = it.deadline
	heap.Push(&h.pending, it)
}

// pushReady queues a resolved item. Its key must already hold the
// resolution time (or, for migrations, now plus the requested priority).
func (h *timerHeap) pushReady(it *Item) {
	h.remove(it)
	h.seq++
	it.seq = h.seq
	heap.Push(&h.ready, it)
}

// remove takes it off whichever side holds it. Removing an item that is on
// neither side is a no-op.
func (h *timerHeap) remove(it *Item) {
	switch it.side {
	case sidePending:
		heap.Remove(&h.pending, it.index)
	case sideReady:
		heap.Remove(&h.ready, it.index)
	}
}

// next pops the item to dispatch at now. Deadline order is primary: an
// expired pending item beats a ready item with a strictly later key, and a
// ready item wins ties. expired reports that the item came off the pending
// side and has not been resolved by anyone yet.
func (h *timerHeap) next(now time.Time) (it *Item, expired bool) {
	r := h.ready.peek()
	p := h.pending.peek()
	if p != nil && p.deadline.After(now) {
		p = nil
	}
	switch {
	case p != nil && (r == nil || p.key.Before(r.key)):
		heap.Pop(&h.pending)
		return p, true
	case r != nil:
		heap.Pop(&h.ready)
		return r, false
	default:
		return nil, false
	}
}

// earliest returns the nearest pending deadline, false when nothing is
// timed.
func (h *timerHeap) earliest() (time.Time, bool) {
	p := h.pending.peek()
	if p == nil {
		return time.Time{}, false
	}
	return p.deadline, true
}

func (h *timerHeap) hasReady() bool { return h.ready.Len() > 0 }

func (h *timerHeap) lens() (pending, ready int) {
	return h.pending.Len(), h.ready.Len()
}

// cancel resolves every pending item accepted by match with Cancelled and
// moves it to the ready side. Items already resolved elsewhere only leave
// the pending side; their resolver queues them.
func (h *timerHeap) cancel(now time.Time, match func(*Item) bool) int {
	var hit []*Item
	for _, it := range h.pending.items {
		if match(it) {
			hit = append(hit, it)
		}
	}
	n := 0
	for _, it := range hit {
		h.remove(it)
		if it.resolve(api.ErrCodeCancelled) {
			it.key = now
			h.pushReady(it)
			n++
		}
	}
	return n
}
