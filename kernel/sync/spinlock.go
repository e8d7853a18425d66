// Package sync provides the synchronization primitives used by the memory
// manager. Go's standard sync package cannot be used by kernel code as it
// depends on runtime services that are not available while the kernel
// address space is still being constructed.
package sync

import "sync/atomic"

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. Locks must not be re-acquired by their
// current holder.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state)
}

// Release relinquishes a held lock allowing other tasks to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the
// lock.
func archAcquireSpinlock(state *uint32)
