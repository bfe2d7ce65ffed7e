// Package mem defines the memory size units and page geometry shared by the
// physical allocator and the (external) virtual memory mapper.
package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)
