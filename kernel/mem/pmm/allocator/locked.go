package allocator

import (
	"rpikernel/kernel"
	"rpikernel/kernel/mem/pmm"
	"rpikernel/kernel/sync"
)

// Locked serializes access to a FrameAllocator with a spinlock so it can be
// shared by interrupt handlers and other execution contexts.
type Locked struct {
	lock  sync.Spinlock
	alloc *FrameAllocator
}

var _ Allocator = (*Locked)(nil)

// NewLocked returns a Locked wrapper around alloc. Once wrapped, alloc must
// only be accessed through the wrapper.
func NewLocked(alloc *FrameAllocator) *Locked {
	return &Locked{alloc: alloc}
}

// Alloc implements Allocator.
func (l *Locked) Alloc() (pmm.Frame, *kernel.Error) {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.alloc.Alloc()
}

// Free implements Allocator.
func (l *Locked) Free(frame pmm.Frame) *kernel.Error {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.alloc.Free(frame)
}

// SetMapping implements Allocator.
func (l *Locked) SetMapping(frame pmm.Frame, vaddr uintptr) *kernel.Error {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.alloc.SetMapping(frame, vaddr)
}

// ClearMapping implements Allocator.
func (l *Locked) ClearMapping(frame pmm.Frame) *kernel.Error {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.alloc.ClearMapping(frame)
}

// Query implements Allocator.
func (l *Locked) Query(frame pmm.Frame) (FrameInfo, *kernel.Error) {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.alloc.Query(frame)
}

// Stats implements Allocator. It does not take the lock.
func (l *Locked) Stats() Stats {
	return l.alloc.Stats()
}

// Verify runs FrameAllocator.Verify while holding the lock.
func (l *Locked) Verify() *kernel.Error {
	l.lock.Acquire()
	defer l.lock.Release()
	return l.alloc.Verify()
}
