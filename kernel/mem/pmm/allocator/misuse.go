package allocator

import (
	"rpikernel/kernel"
	"rpikernel/kernel/kfmt"
	"rpikernel/kernel/mem/pmm"
)

var (
	// misuseFn is invoked with ErrDoubleFree and ErrReservedFrameFree
	// before they are returned to the caller. Both indicate a bug in the
	// caller. Tests override it to observe reports.
	misuseFn = reportMisuse

	// panicFn is used by debug builds to abort on misuse.
	panicFn = kfmt.Panic
)

// reportMisuse logs the offending frame and, in builds tagged with pmmdebug,
// halts the kernel.
func reportMisuse(err *kernel.Error, frame pmm.Frame) {
	kfmt.Fprintf(pmmLog, "%s: frame %d (0x%x)\n", err.Message, uint64(frame), frame.Address())
	if PanicOnMisuse {
		panicFn(err)
	}
}
