// File: fiber/limiter.go
// Author: momentics <momentics@gmail.com>
//
// Admission limiter gating fiber creation per scheduler thread.

package fiber

import (
	"sync/atomic"

	"github.com/momentics/hioload-fiber/api"
)

// Limiter is a ceiling-bounded counter. Acquisition never suspends: a
// saturated limiter refuses at once and leaves the counter unchanged.
type Limiter struct {
	count   atomic.Int64
	ceiling atomic.Int64
}

// NewLimiter returns a limiter admitting up to ceiling holders.
func NewLimiter(ceiling int64) *Limiter {
	l := &Limiter{}
	l.ceiling.Store(ceiling)
	return l
}

// TryAcquire increments the counter if it is below the ceiling.
func (l *Limiter) TryAcquire() bool {
	for {
		n := l.count.Load()
		if n >= l.ceiling.Load() {
			return false
		}
		if l.count.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Acquire is TryAcquire reporting refusal as an Overload error.
func (l *Limiter) Acquire() error {
	if !l.TryAcquire() {
		return api.OpError("limiter acquire", api.ErrCodeOverload)
	}
	return nil
}

// Release decrements the counter.
func (l *Limiter) Release() {
	if l.count.Add(-1) < 0 {
		panic(&api.FatalError{Reason: "limiter released more often than acquired"})
	}
}

// force increments regardless of the ceiling. Migrations move an already
// admitted fiber and are not subject to admission control.
func (l *Limiter) force() { l.count.Add(1) }

// SetCeiling changes the ceiling. Lowering it below Count refuses new
// acquisitions until enough holders release.
func (l *Limiter) SetCeiling(n int64) { l.ceiling.Store(n) }

// Count returns the current number of holders.
func (l *Limiter) Count() int64 { return l.count.Load() }

// Ceiling returns the current ceiling.
func (l *Limiter) Ceiling() int64 { return l.ceiling.Load() }
