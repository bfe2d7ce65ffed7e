// Package pmm contains the types used for describing physical memory frames.
package pmm

import (
	"rpikernel/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame. It also terminates
	// frame lists.
	InvalidFrame = ^Frame(0)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns a Frame that corresponds to the given physical
// address. This function can handle both page-aligned and not aligned
// addresses. In the latter case, the input address will be rounded down to the
// frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(mem.PageSize - 1))) >> mem.PageShift)
}

// Region describes the half-open physical address range [Start, End).
type Region struct {
	Start uintptr
	End   uintptr
}

// Empty returns true if the region does not span any bytes.
func (r Region) Empty() bool {
	return r.End <= r.Start
}

// Contains returns true if other lies entirely within r. Zero-length regions
// inside r are contained; inverted regions never are.
func (r Region) Contains(other Region) bool {
	return other.Start <= other.End && other.Start >= r.Start && other.End <= r.End
}

// Overlaps returns true if the frame f shares at least one byte with r.
func (r Region) Overlaps(f Frame) bool {
	start := f.Address()
	end := start + uintptr(mem.PageSize)
	return !r.Empty() && start < r.End && r.Start < end
}
