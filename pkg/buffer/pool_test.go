package buffer

import (
	"errors"
	"testing"

	"github.com/pion/hwvenc/pkg/omx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingAllocator fails once failAt allocations have succeeded.
type countingAllocator struct {
	HeapAllocator
	failAt int
	allocs int
	frees  int
}

func (a *countingAllocator) Alloc(size int, attr MemAttr) (Plane, error) {
	if a.failAt >= 0 && a.allocs == a.failAt {
		return Plane{}, errors.New("out of ion memory")
	}
	a.allocs++
	return a.HeapAllocator.Alloc(size, attr)
}

func (a *countingAllocator) Free(p Plane) {
	a.frees++
}

func TestAllocate(t *testing.T) {
	alloc := &countingAllocator{failAt: -1}
	pool, err := Allocate(alloc, 0, 3, []int{1280 * 720, 1280 * 720 / 2}, MemCacheable)
	require.NoError(t, err)

	assert.Equal(t, 3, pool.Len())
	assert.Equal(t, 6, alloc.allocs)
	for i, s := range pool.Slots() {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, 2, s.NumPlanes)
		assert.Len(t, s.Planes[0].Data, 1280*720)
		assert.Len(t, s.Planes[1].Data, 1280*720/2)
		assert.NotZero(t, s.Planes[0].FD)
	}
	assert.Nil(t, pool.Slot(3))
	assert.Same(t, pool.Slots()[1], pool.Slot(1))

	pool.Free()
	assert.Equal(t, 6, alloc.frees)
	pool.Free()
	assert.Equal(t, 6, alloc.frees, "Free must skip slots that are already freed")
}

func TestAllocateRollback(t *testing.T) {
	// Fail on the second plane of the third slot.
	alloc := &countingAllocator{failAt: 5}
	pool, err := Allocate(alloc, 1, 4, []int{16, 8}, MemContiguous)
	assert.Nil(t, pool)
	require.Error(t, err)
	assert.True(t, errors.Is(err, omx.ErrInsufficientResources))
	assert.Equal(t, alloc.allocs, alloc.frees, "every successful allocation must be rolled back")
}

func TestAllocateBadShape(t *testing.T) {
	_, err := Allocate(&HeapAllocator{}, 0, 0, []int{16}, 0)
	assert.True(t, errors.Is(err, omx.ErrBadParameter))
	_, err = Allocate(&HeapAllocator{}, 0, 1, []int{1, 2, 3, 4}, 0)
	assert.True(t, errors.Is(err, omx.ErrBadParameter))
}
