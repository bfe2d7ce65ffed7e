package allocator

import (
	"rpikernel/kernel"
	"rpikernel/kernel/mem"
	"rpikernel/kernel/mem/pmm"
)

// Unmapped is the reverse-mapping value of frames that do not currently back
// any virtual address.
const Unmapped = ^uintptr(0)

// frameFlags holds the state bits of a frame record.
type frameFlags struct {
	// allocated is set while the frame is handed out or reserved.
	allocated bool

	// kernelOwned marks frames reserved at boot. Such frames never enter
	// the free list.
	kernelOwned bool
}

// frameRecord is the metadata kept for each physical frame.
type frameRecord struct {
	// mapped is the virtual address backed by this frame or Unmapped.
	mapped uintptr

	flags frameFlags

	// next and prev link the frame into the free list. They are only
	// meaningful while the frame is free; pmm.InvalidFrame ends the list.
	next, prev pmm.Frame
}

// frameTable owns one record per frame of the managed RAM region. The frame
// at index i of records is baseFrame+i.
type frameTable struct {
	ramBase, ramEnd uintptr
	baseFrame       pmm.Frame
	records         []frameRecord
}

func newFrameTable(ramBase, ramSize uintptr, frameCount uint32) frameTable {
	t := frameTable{
		ramBase:   ramBase,
		ramEnd:    ramBase + ramSize,
		baseFrame: pmm.FrameFromAddress(ramBase),
		records:   make([]frameRecord, frameCount),
	}

	for i := range t.records {
		t.records[i] = frameRecord{
			mapped: Unmapped,
			next:   pmm.InvalidFrame,
			prev:   pmm.InvalidFrame,
		}
	}

	return t
}

// IndexOf returns the frame that starts at physAddr. It fails with
// ErrOutOfRange if physAddr is not page-aligned or lies outside the managed
// region.
func (t *frameTable) IndexOf(physAddr uintptr) (pmm.Frame, *kernel.Error) {
	if !mem.PageAligned(physAddr) || physAddr < t.ramBase || physAddr >= t.ramEnd {
		return pmm.InvalidFrame, ErrOutOfRange
	}

	return pmm.FrameFromAddress(physAddr), nil
}

// AddressOf returns the physical address of the first byte of frame.
func (t *frameTable) AddressOf(frame pmm.Frame) uintptr {
	return frame.Address()
}

func (t *frameTable) contains(frame pmm.Frame) bool {
	return frame >= t.baseFrame && frame-t.baseFrame < pmm.Frame(len(t.records))
}

// record returns the metadata of frame. The caller must have checked that
// the table contains frame.
func (t *frameTable) record(frame pmm.Frame) *frameRecord {
	return &t.records[frame-t.baseFrame]
}

func (t *frameTable) frameAt(index int) pmm.Frame {
	return t.baseFrame + pmm.Frame(index)
}
