package alloc

import (
	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/types"
)

// InitialRegionSize is the first region size a new StackAllocator carves;
// subsequent regions double up to MaxRegionSize (§4.7).
const InitialRegionSize = 64 * 1024

// MaxRegionSize caps the doubling region-size hint at 1 MiB.
const MaxRegionSize = 1 << 20

// StackAllocator chains Regions for a single transaction. When the current
// region's Allocate returns a ResourceError, StackAllocator.Allocate carves
// the next region directly from the data arena and retries once.
type StackAllocator struct {
	a          *arena.DataArena
	regions    []*Region
	nextHint   uint64
}

// NewStackAllocator creates an allocator with one freshly carved region.
func NewStackAllocator(a *arena.DataArena) (*StackAllocator, error) {
	s := &StackAllocator{a: a, nextHint: InitialRegionSize}
	if err := s.grow(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StackAllocator) grow() error {
	r, err := NewRegion(s.a, s.nextHint)
	if err != nil {
		return err
	}
	s.regions = append(s.regions, r)
	if s.nextHint < MaxRegionSize {
		s.nextHint *= 2
		if s.nextHint > MaxRegionSize {
			s.nextHint = MaxRegionSize
		}
	}
	return nil
}

func (s *StackAllocator) current() *Region { return s.regions[len(s.regions)-1] }

// Allocate bump-allocates size bytes from the current region, carving a new
// region automatically when the current one is full.
func (s *StackAllocator) Allocate(slotID uint32, oldOffset uint64, size uint32) (offset uint64, err error) {
	offset, _, err = s.current().Allocate(slotID, oldOffset, size)
	if err == nil {
		return offset, nil
	}
	var re *types.ResourceError
	if !isResourceExhausted(err, &re) {
		return 0, err
	}
	if err := s.grow(); err != nil {
		return 0, err
	}
	offset, _, err = s.current().Allocate(slotID, oldOffset, size)
	return offset, err
}

func isResourceExhausted(err error, target **types.ResourceError) bool {
	re, ok := err.(*types.ResourceError)
	if ok {
		*target = re
	}
	return ok
}

// Deallocate records a tombstone against the allocation identified by
// slotID and oldOffset, searching every region this allocator has carved
// (most recently carved first, since a deallocated slot was more likely
// allocated in the transaction's later work).
func (s *StackAllocator) Deallocate(slotID uint32, oldOffset uint64) error {
	for i := len(s.regions) - 1; i >= 0; i-- {
		if err := s.regions[i].Deallocate(slotID, oldOffset); err == nil {
			return nil
		}
	}
	return types.NewReferentialError("no_such_allocation", 0)
}

// DeallocateToCount unwinds the current region back to n records. It only
// operates on the most recently carved region: a rollback that spans a
// region boundary must fall back to abandoning the whole transaction, which
// the session layer does by discarding the StackAllocator entirely.
func (s *StackAllocator) DeallocateToCount(n uint64) error {
	return s.current().DeallocateToCount(n)
}

// RegionCount returns how many regions this allocator has carved so far.
func (s *StackAllocator) RegionCount() int { return len(s.regions) }
