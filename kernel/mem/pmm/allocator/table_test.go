package allocator

import (
	"testing"

	"rpikernel/kernel/mem/pmm"
)

func TestFrameTableIndexOf(t *testing.T) {
	// 16 pages starting at 1M
	table := newFrameTable(0x100000, 0x10000, 16)

	specs := []struct {
		addr     uintptr
		expFrame pmm.Frame
		expErr   bool
	}{
		{0x100000, pmm.Frame(0x100), false},
		{0x101000, pmm.Frame(0x101), false},
		{0x10f000, pmm.Frame(0x10f), false},
		// not page-aligned
		{0x100800, pmm.InvalidFrame, true},
		// below the managed region
		{0xff000, pmm.InvalidFrame, true},
		// first byte after the managed region
		{0x110000, pmm.InvalidFrame, true},
	}

	for specIndex, spec := range specs {
		frame, err := table.IndexOf(spec.addr)
		if spec.expErr {
			if err != ErrOutOfRange {
				t.Errorf("[spec %d] expected to get ErrOutOfRange; got %v", specIndex, err)
			}
			continue
		}

		if err != nil {
			t.Errorf("[spec %d] unexpected error: %v", specIndex, err)
			continue
		}

		if frame != spec.expFrame {
			t.Errorf("[spec %d] expected frame %d; got %d", specIndex, spec.expFrame, frame)
		}

		if got := table.AddressOf(frame); got != spec.addr {
			t.Errorf("[spec %d] expected AddressOf(%d) to return 0x%x; got 0x%x", specIndex, frame, spec.addr, got)
		}
	}
}

func TestFrameTableDefaults(t *testing.T) {
	table := newFrameTable(0x100000, 0x4000, 4)

	for index, rec := range table.records {
		if rec.mapped != Unmapped {
			t.Errorf("[record %d] expected record to be unmapped", index)
		}
		if rec.next.Valid() || rec.prev.Valid() {
			t.Errorf("[record %d] expected record links to be cleared", index)
		}
		if rec.flags != (frameFlags{}) {
			t.Errorf("[record %d] expected record flags to be cleared", index)
		}
	}

	if !table.contains(pmm.Frame(0x103)) || table.contains(pmm.Frame(0x104)) || table.contains(pmm.Frame(0xff)) {
		t.Error("expected table to contain exactly frames 0x100 - 0x103")
	}
}
