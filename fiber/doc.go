// Package fiber
// Author: momentics <momentics@gmail.com>
//
// User-space fiber scheduler: cooperative, stackful units of execution
// multiplexed over a small pool of scheduler threads.
//
// Every fiber runs on a goroutine of its own, but only one fiber of a given
// thread runs at any instant: control passes between the thread's reactor
// loop and the fiber through a strict activate/deactivate handoff. A fiber
// gives up control only at a suspension point (a wrapped I/O call, a mutex or
// condition wait, Sleep, Yield or SwitchTo), and every suspension point is
// built on the same Item protocol:
//
//	attach (register fd / enqueue on a FIFO / post a migration)
//	deactivate
//	detach (unregister / dequeue)
//	return the outcome stamped by whoever resolved the item
//
// Each scheduler thread owns an epoll instance with an eventfd wakeup, a
// two-sided timer heap (pending items by deadline, resolved items by
// resolution time) and an admission limiter. Cross-thread wakeups go through
// a mutex-guarded inbox followed by a poke of the target's wakeup channel.
package fiber
