package allocator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpikernel/kernel/mem/pmm"
)

func TestLockedConcurrentAllocFree(t *testing.T) {
	locked := NewLocked(newTestAllocator(t, testLayout))
	freeFrames := locked.Stats().FreeFrames

	const workers, rounds = 8, 200

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inUse   = make(map[pmm.Frame]bool)
		dupSeen bool
	)

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				frame, err := locked.Alloc()
				if err != nil {
					continue
				}

				mu.Lock()
				if inUse[frame] {
					dupSeen = true
				}
				inUse[frame] = true
				mu.Unlock()

				_ = locked.SetMapping(frame, 0xc0000000+frame.Address())
				_ = locked.Stats()

				mu.Lock()
				delete(inUse, frame)
				mu.Unlock()

				if err := locked.Free(frame); err != nil {
					t.Errorf("unexpected Free error: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	assert.False(t, dupSeen, "the same frame was handed out twice")
	assert.Equal(t, freeFrames, locked.Stats().FreeFrames)
	require.Nil(t, locked.Verify())
}

func TestLockedDelegates(t *testing.T) {
	locked := NewLocked(newTestAllocator(t, testLayout))

	frame, err := locked.Alloc()
	require.Nil(t, err)
	require.Nil(t, locked.SetMapping(frame, 0x1000))

	info, err := locked.Query(frame)
	require.Nil(t, err)
	assert.Equal(t, uintptr(0x1000), info.Mapping)

	require.Nil(t, locked.ClearMapping(frame))
	require.Nil(t, locked.Free(frame))
	assert.Equal(t, ErrDoubleFree, locked.Free(frame))
	assert.Equal(t, ErrReservedFrameFree, locked.Free(pmm.Frame(8)))
}
