package allocator

import (
	"sync/atomic"

	"rpikernel/kernel"
	"rpikernel/kernel/mem/pmm"
)

// freeList is an intrusive doubly-linked list of free frames threaded
// through the next/prev fields of the frame records. Frames are pushed and
// popped at the head so the most recently freed frame is handed out first.
//
// The list never allocates. Callers guarantee that a frame is pushed at most
// once by checking the allocated flag before calling push.
type freeList struct {
	table *frameTable
	head  pmm.Frame

	// count is read without holding the allocator lock by Stats.
	count atomic.Uint32
}

// init resets the list to the empty state.
func (l *freeList) init(table *frameTable) {
	l.table = table
	l.head = pmm.InvalidFrame
	l.count.Store(0)
}

// push links frame at the head of the list.
func (l *freeList) push(frame pmm.Frame) {
	rec := l.table.record(frame)
	rec.next = l.head
	rec.prev = pmm.InvalidFrame

	if l.head.Valid() {
		l.table.record(l.head).prev = frame
	}

	l.head = frame
	l.count.Add(1)
}

// pop unlinks and returns the head of the list or ErrOutOfMemory if the
// list is empty.
func (l *freeList) pop() (pmm.Frame, *kernel.Error) {
	if !l.head.Valid() {
		return pmm.InvalidFrame, ErrOutOfMemory
	}

	frame := l.head
	rec := l.table.record(frame)
	l.head = rec.next
	if l.head.Valid() {
		l.table.record(l.head).prev = pmm.InvalidFrame
	}

	rec.next, rec.prev = pmm.InvalidFrame, pmm.InvalidFrame
	l.count.Add(^uint32(0))
	return frame, nil
}

func (l *freeList) len() uint32 {
	return l.count.Load()
}

// verify walks the list and returns ErrCorrupted if it links a frame outside
// the table, a frame that is not free, has broken back links, contains a
// cycle or its length differs from count. The visitor is invoked for every
// linked frame.
func (l *freeList) verify(visit func(pmm.Frame)) *kernel.Error {
	var (
		limit = uint32(len(l.table.records))
		steps uint32
		prev  = pmm.InvalidFrame
	)

	for frame := l.head; frame.Valid(); frame = l.table.record(frame).next {
		if steps == limit || !l.table.contains(frame) {
			return ErrCorrupted
		}

		rec := l.table.record(frame)
		if rec.flags.allocated || rec.flags.kernelOwned || rec.prev != prev {
			return ErrCorrupted
		}

		visit(frame)
		prev = frame
		steps++
	}

	if steps != l.len() {
		return ErrCorrupted
	}

	return nil
}
