// Package allocator implements the physical frame allocator.
//
// A FrameAllocator keeps one metadata record per frame of the RAM region it
// was initialized with. Free frames are threaded into an intrusive list that
// lives inside the records themselves so setting up the allocator needs no
// memory besides the table. Frames overlapping the kernel image (and any
// additional boot-time reservation) are pinned for the lifetime of the
// system.
//
// FrameAllocator performs no locking. Callers that may invoke it from more
// than one execution context must serialize calls, for example by wrapping
// it with NewLocked.
package allocator

import (
	"math"

	"rpikernel/kernel"
	"rpikernel/kernel/kfmt"
	"rpikernel/kernel/mem"
	"rpikernel/kernel/mem/pmm"
)

// pmmLog tags each line of allocator output sent to the kernel console.
var pmmLog = &kfmt.PrefixWriter{Sink: kfmt.Console, Prefix: []byte("[pmm] ")}

// Layout describes the physical memory handed to Init.
type Layout struct {
	// RAMBase and RAMSize describe the managed RAM region. RAMBase must be
	// page-aligned. If RAMSize is not a multiple of the page size, the
	// trailing partial page is tracked as a reserved frame.
	RAMBase uintptr
	RAMSize uintptr

	// KernelStart and KernelEnd delimit the loaded kernel image. Every
	// frame that overlaps [KernelStart, KernelEnd) is reserved.
	KernelStart uintptr
	KernelEnd   uintptr

	// Reserved lists additional regions (device tree blob, boot stacks)
	// that must never be handed out.
	Reserved []pmm.Region
}

// RAM returns the managed RAM region.
func (l Layout) RAM() pmm.Region {
	return pmm.Region{Start: l.RAMBase, End: l.RAMBase + l.RAMSize}
}

// Kernel returns the region occupied by the kernel image.
func (l Layout) Kernel() pmm.Region {
	return pmm.Region{Start: l.KernelStart, End: l.KernelEnd}
}

func (l Layout) validate() *kernel.Error {
	ram := l.RAM()
	switch {
	case l.RAMSize == 0,
		!mem.PageAligned(l.RAMBase),
		ram.End < ram.Start,
		uint64(l.RAMSize>>mem.PageShift) >= math.MaxUint32,
		l.Kernel().Empty(),
		!ram.Contains(l.Kernel()):
		return ErrInvalidLayout
	}

	for _, r := range l.Reserved {
		if r.Empty() || !ram.Contains(r) {
			return ErrInvalidLayout
		}
	}

	return nil
}

// FrameState describes the allocation state of a frame.
type FrameState uint8

const (
	// FrameFree frames sit in the free list.
	FrameFree FrameState = iota

	// FrameAllocated frames have been returned by Alloc.
	FrameAllocated

	// FrameReserved frames are pinned at boot and never handed out.
	FrameReserved
)

// String implements fmt.Stringer for FrameState.
func (s FrameState) String() string {
	switch s {
	case FrameFree:
		return "free"
	case FrameAllocated:
		return "allocated"
	case FrameReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// FrameInfo is a snapshot of the metadata of a single frame.
type FrameInfo struct {
	Frame   pmm.Frame
	Address uintptr
	State   FrameState

	// Mapping is the virtual address backed by the frame or Unmapped.
	Mapping uintptr
}

// Mapped returns true if the frame currently backs a virtual address.
func (fi FrameInfo) Mapped() bool {
	return fi.Mapping != Unmapped
}

// Stats is a diagnostic snapshot of the allocator counters.
type Stats struct {
	TotalFrames    uint32
	FreeFrames     uint32
	ReservedFrames uint32

	// TailBytes is the size of the trailing partial page of the RAM
	// region, which is accounted for as a reserved frame.
	TailBytes mem.Size
}

// AllocatedFrames returns the number of frames handed out by Alloc.
func (s Stats) AllocatedFrames() uint32 {
	return s.TotalFrames - s.FreeFrames - s.ReservedFrames
}

// Allocator is the set of operations offered to the rest of the kernel. It
// is implemented by FrameAllocator and Locked.
type Allocator interface {
	Alloc() (pmm.Frame, *kernel.Error)
	Free(frame pmm.Frame) *kernel.Error
	SetMapping(frame pmm.Frame, vaddr uintptr) *kernel.Error
	ClearMapping(frame pmm.Frame) *kernel.Error
	Query(frame pmm.Frame) (FrameInfo, *kernel.Error)
	Stats() Stats
}

// FrameAllocator implements a physical frame allocator backed by a frame
// metadata table and an intrusive LIFO free list.
type FrameAllocator struct {
	layout Layout
	table  frameTable
	free   freeList

	// reservedFrames and tailBytes are fixed once Init returns.
	reservedFrames uint32
	tailBytes      mem.Size
}

var _ Allocator = (*FrameAllocator)(nil)

// Init sets up an allocator that manages the RAM region described by layout.
// Frames overlapping the kernel image or one of the additional reserved
// regions are pinned; all other frames are made available so that the first
// allocations return the lowest physical addresses.
//
// Init returns ErrInvalidLayout and no allocator if the layout is unusable.
func Init(layout Layout) (*FrameAllocator, *kernel.Error) {
	if err := layout.validate(); err != nil {
		return nil, err
	}

	frameCount := uint32(layout.RAMSize >> mem.PageShift)
	tailBytes := mem.Size(layout.RAMSize) & (mem.PageSize - 1)
	if tailBytes != 0 {
		frameCount++
	}

	alloc := &FrameAllocator{
		layout:    layout,
		table:     newFrameTable(layout.RAMBase, layout.RAMSize, frameCount),
		tailBytes: tailBytes,
	}
	alloc.free.init(&alloc.table)

	// The free list is LIFO; walk the frames backwards so the lowest one
	// ends up at the head.
	for index := int(frameCount) - 1; index >= 0; index-- {
		frame := alloc.table.frameAt(index)
		rec := alloc.table.record(frame)

		if alloc.pinned(frame, index == int(frameCount)-1 && tailBytes != 0) {
			rec.flags = frameFlags{allocated: true, kernelOwned: true}
			alloc.reservedFrames++
			continue
		}

		alloc.free.push(frame)
	}

	return alloc, nil
}

// pinned returns true if frame must be reserved at boot.
func (alloc *FrameAllocator) pinned(frame pmm.Frame, partial bool) bool {
	if partial || alloc.layout.Kernel().Overlaps(frame) {
		return true
	}

	for _, r := range alloc.layout.Reserved {
		if r.Overlaps(frame) {
			return true
		}
	}

	return false
}

// Alloc reserves a free frame. The returned frame is not mapped anywhere.
// Alloc fails with ErrOutOfMemory when no free frames remain; it never
// retries.
func (alloc *FrameAllocator) Alloc() (pmm.Frame, *kernel.Error) {
	frame, err := alloc.free.pop()
	if err != nil {
		return pmm.InvalidFrame, err
	}

	rec := alloc.table.record(frame)
	rec.flags.allocated = true
	rec.mapped = Unmapped
	return frame, nil
}

// Free returns an allocated frame to the free list and clears its mapping.
// Freeing a reserved frame fails with ErrReservedFrameFree and freeing a
// frame that is not allocated fails with ErrDoubleFree; in both cases the
// allocator state is left untouched.
func (alloc *FrameAllocator) Free(frame pmm.Frame) *kernel.Error {
	if !alloc.table.contains(frame) {
		return ErrOutOfRange
	}

	rec := alloc.table.record(frame)
	switch {
	case rec.flags.kernelOwned:
		misuseFn(ErrReservedFrameFree, frame)
		return ErrReservedFrameFree
	case !rec.flags.allocated:
		misuseFn(ErrDoubleFree, frame)
		return ErrDoubleFree
	}

	rec.flags.allocated = false
	rec.mapped = Unmapped
	alloc.free.push(frame)
	return nil
}

// SetMapping records that frame backs the virtual address vaddr. The
// allocator does not check the value against the page tables.
func (alloc *FrameAllocator) SetMapping(frame pmm.Frame, vaddr uintptr) *kernel.Error {
	rec, err := alloc.allocatedRecord(frame)
	if err != nil {
		return err
	}

	rec.mapped = vaddr
	return nil
}

// ClearMapping resets the reverse mapping of frame.
func (alloc *FrameAllocator) ClearMapping(frame pmm.Frame) *kernel.Error {
	rec, err := alloc.allocatedRecord(frame)
	if err != nil {
		return err
	}

	rec.mapped = Unmapped
	return nil
}

func (alloc *FrameAllocator) allocatedRecord(frame pmm.Frame) (*frameRecord, *kernel.Error) {
	if !alloc.table.contains(frame) {
		return nil, ErrOutOfRange
	}

	rec := alloc.table.record(frame)
	if !rec.flags.allocated || rec.flags.kernelOwned {
		return nil, ErrNotAllocated
	}

	return rec, nil
}

// Query returns a snapshot of the metadata for frame.
func (alloc *FrameAllocator) Query(frame pmm.Frame) (FrameInfo, *kernel.Error) {
	if !alloc.table.contains(frame) {
		return FrameInfo{Frame: pmm.InvalidFrame, Mapping: Unmapped}, ErrOutOfRange
	}

	return alloc.info(frame), nil
}

// QueryAddress returns the metadata of the frame starting at physAddr.
func (alloc *FrameAllocator) QueryAddress(physAddr uintptr) (FrameInfo, *kernel.Error) {
	frame, err := alloc.table.IndexOf(physAddr)
	if err != nil {
		return FrameInfo{Frame: pmm.InvalidFrame, Mapping: Unmapped}, err
	}

	return alloc.info(frame), nil
}

func (alloc *FrameAllocator) info(frame pmm.Frame) FrameInfo {
	rec := alloc.table.record(frame)

	state := FrameFree
	switch {
	case rec.flags.kernelOwned:
		state = FrameReserved
	case rec.flags.allocated:
		state = FrameAllocated
	}

	return FrameInfo{
		Frame:   frame,
		Address: alloc.table.AddressOf(frame),
		State:   state,
		Mapping: rec.mapped,
	}
}

// IndexOf returns the frame that starts at physAddr or ErrOutOfRange if
// physAddr is not page-aligned or not managed by this allocator.
func (alloc *FrameAllocator) IndexOf(physAddr uintptr) (pmm.Frame, *kernel.Error) {
	return alloc.table.IndexOf(physAddr)
}

// AddressOf returns the physical address of the first byte of frame.
func (alloc *FrameAllocator) AddressOf(frame pmm.Frame) uintptr {
	return alloc.table.AddressOf(frame)
}

// Layout returns the layout the allocator was initialized with.
func (alloc *FrameAllocator) Layout() Layout {
	return alloc.layout
}

// Stats returns a snapshot of the allocator counters. It can be called
// concurrently with other operations but the result may be stale.
func (alloc *FrameAllocator) Stats() Stats {
	return Stats{
		TotalFrames:    uint32(len(alloc.table.records)),
		FreeFrames:     alloc.free.len(),
		ReservedFrames: alloc.reservedFrames,
		TailBytes:      alloc.tailBytes,
	}
}

// VisitFrames invokes visitor for every managed frame in ascending address
// order. The visitor must return true to continue or false to abort the scan.
func (alloc *FrameAllocator) VisitFrames(visitor func(FrameInfo) bool) {
	for index := range alloc.table.records {
		if !visitor(alloc.info(alloc.table.frameAt(index))) {
			return
		}
	}
}

// Verify checks the frame table and free list invariants and returns
// ErrCorrupted if any of them is violated. It runs in O(frames).
func (alloc *FrameAllocator) Verify() *kernel.Error {
	linked := make([]bool, len(alloc.table.records))
	err := alloc.free.verify(func(frame pmm.Frame) {
		linked[frame-alloc.table.baseFrame] = true
	})
	if err != nil {
		return err
	}

	var reserved uint32
	for index, rec := range alloc.table.records {
		switch {
		case rec.flags.kernelOwned:
			if !rec.flags.allocated || rec.mapped != Unmapped {
				return ErrCorrupted
			}
			reserved++
		case rec.flags.allocated:
			if linked[index] {
				return ErrCorrupted
			}
		default:
			if !linked[index] || rec.mapped != Unmapped {
				return ErrCorrupted
			}
		}
	}

	if reserved != alloc.reservedFrames {
		return ErrCorrupted
	}

	return nil
}

// PrintMemoryMap logs the managed memory layout and the allocator counters.
func (alloc *FrameAllocator) PrintMemoryMap() {
	stats := alloc.Stats()

	kfmt.Fprintf(pmmLog, "managing RAM at 0x%x - 0x%x (%d frames)\n", alloc.layout.RAMBase, alloc.layout.RAM().End, stats.TotalFrames)
	kfmt.Fprintf(pmmLog, "kernel loaded at 0x%x - 0x%x\n", alloc.layout.KernelStart, alloc.layout.KernelEnd)
	for _, r := range alloc.layout.Reserved {
		kfmt.Fprintf(pmmLog, "reserved region 0x%x - 0x%x\n", r.Start, r.End)
	}
	if stats.TailBytes != 0 {
		kfmt.Fprintf(pmmLog, "trailing %d bytes of RAM do not fill a page\n", uint64(stats.TailBytes))
	}
	kfmt.Fprintf(pmmLog, "free: %d frames (%dKb), reserved: %d frames\n",
		stats.FreeFrames,
		uint64(mem.Size(stats.FreeFrames)*mem.PageSize/mem.Kb),
		stats.ReservedFrames,
	)
}
