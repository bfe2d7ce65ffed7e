//go:build pmmdebug

package allocator

// PanicOnMisuse reports whether double frees and frees of reserved frames
// halt the kernel.
const PanicOnMisuse = true
