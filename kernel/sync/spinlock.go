// Package sync provides synchronization primitive implementations for spinlocks.
package sync

import (
	"runtime"
	"sync/atomic"
)

const spinsBeforeYield = 64

var (
	// yieldFn is called by Acquire after spinsBeforeYield failed attempts.
	// It is a variable so tests can observe contention.
	yieldFn = runtime.Gosched
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for spins := 0; !l.TryToAcquire(); spins++ {
		if spins == spinsBeforeYield {
			yieldFn()
			spins = 0
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
