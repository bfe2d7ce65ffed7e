package main

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"rpikernel/kernel/mem/pmm"
	"rpikernel/kernel/mem/pmm/allocator"
)

// stressResult summarizes a stress run.
type stressResult struct {
	Allocs, Frees, Maps, OutOfMemory int
}

// stress drives alloc with a random mix of operations and checks every
// outcome against a shadow model of the allocated set. It verifies the
// allocator invariants every verifyEvery operations and once at the end.
func stress(alloc *allocator.FrameAllocator, ops int, seed int64, verifyEvery int, log logrus.FieldLogger) (stressResult, error) {
	var (
		res      stressResult
		rng      = rand.New(rand.NewSource(seed))
		owned    = make(map[pmm.Frame]uintptr)
		ownedLs  []pmm.Frame
		lastFree = pmm.InvalidFrame
	)

	for op := 0; op < ops; op++ {
		switch choice := rng.Intn(10); {
		case choice < 5 || len(ownedLs) == 0:
			frame, err := alloc.Alloc()
			if err == allocator.ErrOutOfMemory {
				if free := alloc.Stats().FreeFrames; free != 0 {
					return res, errors.Errorf("op %d: out of memory with %d free frames", op, free)
				}
				res.OutOfMemory++
				lastFree = pmm.InvalidFrame
				continue
			} else if err != nil {
				return res, errors.Wrapf(err, "op %d: alloc", op)
			}

			if _, dup := owned[frame]; dup {
				return res, errors.Errorf("op %d: frame %d allocated twice", op, frame)
			}
			if lastFree.Valid() && frame != lastFree {
				return res, errors.Errorf("op %d: expected freed frame %d to be reused; got %d", op, lastFree, frame)
			}
			if err := checkMapping(alloc, frame, allocator.Unmapped); err != nil {
				return res, errors.Wrapf(err, "op %d: alloc", op)
			}

			owned[frame] = allocator.Unmapped
			ownedLs = append(ownedLs, frame)
			lastFree = pmm.InvalidFrame
			res.Allocs++
		case choice < 7:
			frame := ownedLs[rng.Intn(len(ownedLs))]
			vaddr := uintptr(0xc0000000) + uintptr(rng.Intn(1<<18))<<12
			if err := alloc.SetMapping(frame, vaddr); err != nil {
				return res, errors.Wrapf(err, "op %d: map frame %d", op, frame)
			}
			if err := checkMapping(alloc, frame, vaddr); err != nil {
				return res, errors.Wrapf(err, "op %d: map", op)
			}
			owned[frame] = vaddr
			res.Maps++
		default:
			victim := rng.Intn(len(ownedLs))
			frame := ownedLs[victim]
			ownedLs[victim] = ownedLs[len(ownedLs)-1]
			ownedLs = ownedLs[:len(ownedLs)-1]

			if err := checkMapping(alloc, frame, owned[frame]); err != nil {
				return res, errors.Wrapf(err, "op %d: free", op)
			}
			delete(owned, frame)

			if err := alloc.Free(frame); err != nil {
				return res, errors.Wrapf(err, "op %d: free frame %d", op, frame)
			}
			if info, _ := alloc.Query(frame); info.State != allocator.FrameFree || info.Mapped() {
				return res, errors.Errorf("op %d: freed frame %d is %s with mapping 0x%x", op, frame, info.State, info.Mapping)
			}
			lastFree = frame
			res.Frees++
		}

		if verifyEvery > 0 && op%verifyEvery == 0 {
			if err := alloc.Verify(); err != nil {
				return res, errors.Wrapf(err, "op %d", op)
			}
		}
	}

	if got := alloc.Stats().AllocatedFrames(); int(got) != len(ownedLs) {
		return res, errors.Errorf("allocator reports %d allocated frames; model has %d", got, len(ownedLs))
	}
	if err := alloc.Verify(); err != nil {
		return res, errors.Wrap(err, "final check")
	}

	log.WithFields(logrus.Fields{
		"allocs":        res.Allocs,
		"frees":         res.Frees,
		"maps":          res.Maps,
		"out_of_memory": res.OutOfMemory,
	}).Info("stress run completed")
	return res, nil
}

// checkMapping returns an error unless frame is allocated and backs want.
func checkMapping(alloc *allocator.FrameAllocator, frame pmm.Frame, want uintptr) error {
	info, err := alloc.Query(frame)
	switch {
	case err != nil:
		return errors.Wrapf(err, "query frame %d", frame)
	case info.State != allocator.FrameAllocated:
		return errors.Errorf("frame %d is %s; expected it to be allocated", frame, info.State)
	case info.Mapping != want:
		return errors.Errorf("frame %d maps 0x%x; model expects 0x%x", frame, info.Mapping, want)
	}
	return nil
}
