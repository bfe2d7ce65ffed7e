package main

import (
	"flag"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"rpikernel/kernel/mem/pmm/allocator"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// skipIfMisuseHalts skips tests that free frames twice or free reserved
// frames when the allocator is built to halt on such calls.
func skipIfMisuseHalts(t *testing.T) {
	t.Helper()
	if allocator.PanicOnMisuse {
		t.Skip("allocator built with pmmdebug halts on misuse")
	}
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("pmmsim-test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

// newTestAllocator returns an allocator managing 64 frames at address 0 with
// the kernel image in frames 8 to 15.
func newTestAllocator(t *testing.T) *allocator.FrameAllocator {
	t.Helper()
	alloc, err := allocator.Init(allocator.Layout{
		RAMSize:     0x40000,
		KernelStart: 0x8000,
		KernelEnd:   0x10000,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return alloc
}
