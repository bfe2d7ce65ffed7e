package mem

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes. It is a contract
	// constant shared with the virtual memory mapper; changing it changes
	// every frame count and alignment check.
	PageSize = Size(1 << PageShift)
)

// PageAligned returns true if addr lies on a page boundary.
func PageAligned(addr uintptr) bool {
	return addr&uintptr(PageSize-1) == 0
}

// PageAlignDown rounds addr down to the nearest page boundary.
func PageAlignDown(addr uintptr) uintptr {
	return addr &^ uintptr(PageSize-1)
}

// PageAlignUp rounds addr up to the nearest page boundary. The caller must
// ensure that the rounded value does not overflow.
func PageAlignUp(addr uintptr) uintptr {
	return (addr + uintptr(PageSize-1)) &^ uintptr(PageSize-1)
}
