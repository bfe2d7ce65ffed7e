// Package kmain contains the kernel entry point that brings up physical
// memory management.
package kmain

import (
	"io"

	"rpikernel/kernel"
	"rpikernel/kernel/hal/atag"
	"rpikernel/kernel/kfmt"
	"rpikernel/kernel/mem"
	"rpikernel/kernel/mem/pmm"
	"rpikernel/kernel/mem/pmm/allocator"
)

// fallbackRAMSize is assumed when the bootloader does not report any memory
// via ATAGs. QEMU boots the raspi machines with a device tree instead.
const fallbackRAMSize = 128 * mem.Mb

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	kmainLog = &kfmt.PrefixWriter{Sink: kfmt.Console, Prefix: []byte("[kmain] ")}

	// runFn receives the initialized frame allocator and runs the rest of
	// the system. The console echo loop lives outside this package; tests
	// mock it.
	runFn = func(allocator.Allocator) {}
)

// Kmain is invoked by the boot stub once the stack is set up. The stub passes
// the console the kernel should log to, the ATAG list located by r2 and the
// physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the kernel panics.
func Kmain(console io.Writer, atags []byte, kernelStart, kernelEnd uintptr) {
	kfmt.SetOutputSink(console)
	kfmt.Printf("Starting rpikernel\n")

	frames, err := InitMemory(atags, kernelStart, kernelEnd)
	if err != nil {
		kfmt.Panic(err)
		return
	}

	if cmdline, _ := atag.CommandLine(atags); cmdline != "" {
		kfmt.Fprintf(kmainLog, "command line: %s\n", cmdline)
	}

	runFn(allocator.NewLocked(frames))

	kfmt.Panic(errKmainReturned)
}

// InitMemory builds the boot memory layout from the ATAG list and the kernel
// image bounds and initializes the frame allocator with it. The range below
// the kernel image holds the ATAG list and the boot stack and is reserved
// too, as is the initial ramdisk if the bootloader loaded one.
func InitMemory(atags []byte, kernelStart, kernelEnd uintptr) (*allocator.FrameAllocator, *kernel.Error) {
	layout, err := bootLayout(atags, kernelStart, kernelEnd)
	if err != nil {
		return nil, err
	}

	frames, err := allocator.Init(layout)
	if err != nil {
		return nil, err
	}

	frames.PrintMemoryMap()
	return frames, nil
}

func bootLayout(atags []byte, kernelStart, kernelEnd uintptr) (allocator.Layout, *kernel.Error) {
	layout := allocator.Layout{
		RAMSize:     uintptr(fallbackRAMSize),
		KernelStart: kernelStart,
		KernelEnd:   kernelEnd,
	}

	regions, err := atag.MemRegions(atags)
	switch {
	case err != nil:
		return layout, err
	case len(regions) == 0:
		kfmt.Fprintf(kmainLog, "no ATAG memory tags; assuming %dMb of RAM\n", uint64(fallbackRAMSize/mem.Mb))
	default:
		layout.RAMBase = uintptr(regions[0].Start)
		layout.RAMSize = uintptr(regions[0].Size)
		for _, extra := range regions[1:] {
			kfmt.Fprintf(kmainLog, "ignoring memory region 0x%x - 0x%x\n", extra.Start, uint64(extra.Start)+uint64(extra.Size))
		}
	}

	if kernelStart > layout.RAMBase && kernelStart <= layout.RAMBase+layout.RAMSize {
		layout.Reserved = append(layout.Reserved, pmm.Region{Start: layout.RAMBase, End: kernelStart})
	}

	initrds, err := atag.InitrdRegions(atags)
	if err != nil {
		return layout, err
	}
	for _, rd := range initrds {
		if region, ok := initrdRegion(layout, rd); ok {
			kfmt.Fprintf(kmainLog, "reserving initrd at 0x%x - 0x%x\n", region.Start, region.End)
			layout.Reserved = append(layout.Reserved, region)
		} else {
			kfmt.Fprintf(kmainLog, "ignoring initrd at 0x%x (%d bytes)\n", rd.Start, rd.Size)
		}
	}

	return layout, nil
}

// initrdRegion returns the page-aligned region covering rd. It returns false
// if rd is empty or does not lie within the RAM of layout.
func initrdRegion(layout allocator.Layout, rd atag.MemoryRegion) (pmm.Region, bool) {
	start, end := uint64(rd.Start), uint64(rd.Start)+uint64(rd.Size)
	ramEnd := uint64(layout.RAMBase) + uint64(layout.RAMSize)
	if rd.Size == 0 || start < uint64(layout.RAMBase) || end > ramEnd {
		return pmm.Region{}, false
	}

	region := pmm.Region{
		Start: mem.PageAlignDown(uintptr(start)),
		End:   mem.PageAlignUp(uintptr(end)),
	}
	if uint64(region.End) > ramEnd {
		region.End = uintptr(ramEnd)
	}
	return region, true
}
