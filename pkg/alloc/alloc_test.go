package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/gaiadb/pkg/arena"
)

func TestRegionAllocateAndRollback(t *testing.T) {
	a, err := arena.NewDataArena(1 << 20)
	require.NoError(t, err)
	defer a.Close()

	r, err := NewRegion(a, 4096)
	require.NoError(t, err)

	off1, idx1, err := r.Allocate(1, 0, 64)
	require.NoError(t, err)
	_, idx2, err := r.Allocate(2, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), idx1)
	assert.Equal(t, uint64(1), idx2)
	assert.EqualValues(t, 2, r.RecordCount())

	require.NoError(t, r.DeallocateToCount(1))
	assert.EqualValues(t, 1, r.RecordCount())

	// Re-allocating should reuse the cursor position freed by the rollback.
	off3, _, err := r.Allocate(3, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, off1+64, off3)
}

func TestRegionFullReturnsResourceError(t *testing.T) {
	a, err := arena.NewDataArena(1 << 20)
	require.NoError(t, err)
	defer a.Close()

	r, err := NewRegion(a, 128)
	require.NoError(t, err)

	_, _, err = r.Allocate(1, 0, 200)
	require.Error(t, err)
}

func TestStackAllocatorGrowsOnRegionFull(t *testing.T) {
	a, err := arena.NewDataArena(1 << 24)
	require.NoError(t, err)
	defer a.Close()

	s, err := NewStackAllocator(a)
	require.NoError(t, err)
	require.Equal(t, 1, s.RegionCount())

	// InitialRegionSize is 64KiB; allocate well past it to force growth.
	for i := 0; i < 2000; i++ {
		_, err := s.Allocate(uint32(i), 0, 64)
		require.NoError(t, err)
	}
	assert.Greater(t, s.RegionCount(), 1)
}

func TestRegionDeallocateTombstonesBySlotAndOffset(t *testing.T) {
	a, err := arena.NewDataArena(1 << 20)
	require.NoError(t, err)
	defer a.Close()

	r, err := NewRegion(a, 4096)
	require.NoError(t, err)

	off1, _, err := r.Allocate(1, 0, 64)
	require.NoError(t, err)
	_, _, err = r.Allocate(2, 0, 64)
	require.NoError(t, err)
	_, _, err = r.Allocate(3, 0, 64)
	require.NoError(t, err)

	// The middle allocation (slot 2) is still live; tombstoning slot 1's
	// first version doesn't require unwinding either of the allocations
	// made after it, unlike DeallocateToCount.
	require.NoError(t, r.Deallocate(1, off1))
	assert.ElementsMatch(t, []uint32{2, 3}, r.LiveSlots())
	assert.EqualValues(t, 3, r.RecordCount())

	err = r.Deallocate(1, off1)
	assert.Error(t, err)

	err = r.Deallocate(99, 0)
	assert.Error(t, err)
}

func TestStackAllocatorDeallocateSearchesOlderRegions(t *testing.T) {
	a, err := arena.NewDataArena(1 << 24)
	require.NoError(t, err)
	defer a.Close()

	s, err := NewStackAllocator(a)
	require.NoError(t, err)

	off, err := s.Allocate(7, 0, 64)
	require.NoError(t, err)

	for i := 0; i < 2000; i++ {
		_, err := s.Allocate(uint32(1000+i), 0, 64)
		require.NoError(t, err)
	}
	require.Greater(t, s.RegionCount(), 1)

	require.NoError(t, s.Deallocate(7, off))
	assert.Error(t, s.Deallocate(7, off))
}
