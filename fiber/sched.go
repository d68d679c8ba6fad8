// File: fiber/sched.go
// Author: momentics <momentics@gmail.com>
//
// Sleep and migration between scheduler threads.

package fiber

import (
	"time"

	"github.com/momentics/hioload-fiber/api"
)

// Sleep suspends f for d. A non-positive d fails with Timeout at once.
// Only shutdown interrupts a sleep, with Cancelled.
func (f *Fiber) Sleep(d time.Duration) error {
	if d <= 0 {
		return api.OpError("sleep", api.ErrCodeTimeout)
	}
	if f.rt.Stopping() {
		return api.OpError("sleep", api.ErrCodeCancelled)
	}
	it := newItem(f, kindSleep, "sleep", f.rt.clock.Now().Add(d))
	err := f.suspend("sleep", it)
	if api.CodeOf(err) == api.ErrCodeTimeout {
		return nil
	}
	return err
}

// SwitchTo moves f to target. When f already runs there it returns at once
// unless force is set, in which case f requeues behind due work. priority
// is added to the current time to order the arrival among target's ready
// items, so a larger value queues behind work resolved earlier. On a nil
// return f runs on target.
func (f *Fiber) SwitchTo(target *Thread, priority time.Duration, force bool) error {
	if target == nil || target.rt != f.rt {
		return api.OpError("switch", api.ErrCodeIllegalCall)
	}
	if target == f.thread && !force {
		return nil
	}
	it := newItem(f, kindMigration, "switch", zeroTime)
	it.attach = func(it *Item) bool {
		src := f.thread
		if src != target {
			target.limiter.force()
			src.limiter.Release()
			f.thread = target
		}
		it.t = target
		it.resolve(api.ErrCodeOK)
		it.key = f.rt.clock.Now().Add(priority)
		// the target blocks on the handoff until f has deactivated here
		target.post(it)
		return true
	}
	return f.suspend("switch", it)
}
