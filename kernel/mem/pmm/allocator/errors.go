package allocator

import "rpikernel/kernel"

const errModule = "pmm"

// Errors returned by the frame allocator. They are compared by identity.
var (
	// ErrOutOfRange is returned for addresses or frames outside the
	// managed RAM region and for addresses that are not page-aligned.
	ErrOutOfRange = &kernel.Error{Module: errModule, Message: "address or frame outside of managed memory"}

	// ErrInvalidLayout is returned by Init when the supplied memory layout
	// cannot be managed. It is fatal to system bring-up.
	ErrInvalidLayout = &kernel.Error{Module: errModule, Message: "invalid memory layout"}

	// ErrOutOfMemory is returned by Alloc when no free frames remain.
	ErrOutOfMemory = &kernel.Error{Module: errModule, Message: "out of memory"}

	// ErrDoubleFree is returned when freeing a frame that is not allocated.
	ErrDoubleFree = &kernel.Error{Module: errModule, Message: "double free"}

	// ErrReservedFrameFree is returned when freeing a kernel-owned frame.
	ErrReservedFrameFree = &kernel.Error{Module: errModule, Message: "attempt to free a reserved frame"}

	// ErrNotAllocated is returned when updating the mapping of a frame that
	// is not currently allocated.
	ErrNotAllocated = &kernel.Error{Module: errModule, Message: "frame is not allocated"}

	// ErrCorrupted is returned by Verify when the frame table or the free
	// list violate the allocator invariants.
	ErrCorrupted = &kernel.Error{Module: errModule, Message: "frame table corrupted"}
)
