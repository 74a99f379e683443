package alloc

import (
	"encoding/binary"

	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/types"
)

// recordSize is {slot_id(4) + tombstone(4) + old_offset(8) + new_offset(8)
// + cursor_before(8)}.
const recordSize = 32

// tombstoned marks a record whose allocation has been explicitly freed via
// Deallocate, independent of the region's cursor position (§4.7).
const tombstoned = 1

// wordSize mirrors the arena's allocation granularity.
const wordSize = 8

// Region is one stack-allocator region: a contiguous byte range carved out
// of the data arena, with a byte cursor growing upward from its start for
// object storage and an allocation-record array growing downward from its
// end for rollback bookkeeping (§4.7).
type Region struct {
	a           *arena.DataArena
	start       uint64
	size        uint64
	cursor      uint64
	recordCount uint64
}

// NewRegion carves a region of the requested size out of a.
func NewRegion(a *arena.DataArena, size uint64) (*Region, error) {
	start, err := a.CarveRegion(size)
	if err != nil {
		return nil, err
	}
	return &Region{a: a, start: start, size: size}, nil
}

func (r *Region) recordSlot(index uint64) uint64 {
	return r.start + r.size - (index+1)*recordSize
}

// Allocate bumps the byte cursor by size (rounded up to the allocation
// granularity), appends a bookkeeping record, and returns the new offset
// and the record index a future DeallocateToCount call can unwind to.
func (r *Region) Allocate(slotID uint32, oldOffset uint64, size uint32) (offset uint64, recordIndex uint64, err error) {
	need := roundUp(uint64(size), wordSize)
	recordAreaStart := r.size - (r.recordCount+1)*recordSize
	if r.cursor+need > recordAreaStart {
		return 0, 0, types.NewResourceError("stack_allocator_region", nil)
	}
	offset = r.start + r.cursor
	r.writeRecord(r.recordCount, slotID, oldOffset, offset, r.cursor)
	r.cursor += need
	recordIndex = r.recordCount
	r.recordCount++
	return offset, recordIndex, nil
}

func (r *Region) writeRecord(index uint64, slotID uint32, oldOffset, newOffset, cursorBefore uint64) {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], slotID)
	binary.LittleEndian.PutUint64(buf[8:16], oldOffset)
	binary.LittleEndian.PutUint64(buf[16:24], newOffset)
	binary.LittleEndian.PutUint64(buf[24:32], cursorBefore)
	r.a.WriteRaw(r.recordSlot(index), buf)
}

func (r *Region) readRecord(index uint64) (slotID uint32, oldOffset, newOffset, cursorBefore uint64) {
	buf := r.a.ReadRaw(r.recordSlot(index), recordSize)
	slotID = binary.LittleEndian.Uint32(buf[0:4])
	oldOffset = binary.LittleEndian.Uint64(buf[8:16])
	newOffset = binary.LittleEndian.Uint64(buf[16:24])
	cursorBefore = binary.LittleEndian.Uint64(buf[24:32])
	return
}

func (r *Region) isTombstoned(index uint64) bool {
	buf := r.a.ReadRaw(r.recordSlot(index), recordSize)
	return binary.LittleEndian.Uint32(buf[4:8]) == tombstoned
}

func (r *Region) markTombstoned(index uint64) {
	buf := r.a.ReadRaw(r.recordSlot(index), recordSize)
	binary.LittleEndian.PutUint32(buf[4:8], tombstoned)
	r.a.WriteRaw(r.recordSlot(index), buf)
}

// DeallocateToCount truncates the record list back to n records and resets
// the byte cursor to what it was immediately before record n was written —
// unwinding a partial mutation in one step (§4.7).
func (r *Region) DeallocateToCount(n uint64) error {
	if n > r.recordCount {
		return types.NewProtocolError("deallocate_to_count", nil)
	}
	if n == r.recordCount {
		return nil
	}
	_, _, _, cursorBefore := r.readRecord(n)
	r.cursor = cursorBefore
	r.recordCount = n
	return nil
}

// Deallocate records a tombstone against the allocation identified by
// slotID and oldOffset (§4.7 "deallocate(slot_id, old_offset)") — the
// specific prior version a client is discarding, not necessarily the most
// recent allocation in the region. A tombstoned record keeps its bytes
// (they are only ever reclaimed in bulk via DeallocateToCount or the
// region going away with an aborted transaction) but is skipped by
// LiveSlots, so callers stop counting it as occupying the slot. Returns a
// ReferentialError if no live record matches.
func (r *Region) Deallocate(slotID uint32, oldOffset uint64) error {
	for i := uint64(0); i < r.recordCount; i++ {
		gotSlotID, gotOldOffset, _, _ := r.readRecord(i)
		if gotSlotID != slotID || gotOldOffset != oldOffset || r.isTombstoned(i) {
			continue
		}
		r.markTombstoned(i)
		return nil
	}
	return types.NewReferentialError("no_such_allocation", 0)
}

// LiveSlots returns the slot ids of every allocation record in the region
// that has not been tombstoned by Deallocate.
func (r *Region) LiveSlots() []uint32 {
	var out []uint32
	for i := uint64(0); i < r.recordCount; i++ {
		if r.isTombstoned(i) {
			continue
		}
		slotID, _, _, _ := r.readRecord(i)
		out = append(out, slotID)
	}
	return out
}

// RecordCount returns the number of allocation records, tombstoned ones
// included.
func (r *Region) RecordCount() uint64 { return r.recordCount }

// Remaining returns the number of bytes still available for object storage
// before the cursor would collide with the record area.
func (r *Region) Remaining() uint64 {
	recordAreaStart := r.size - (r.recordCount+1)*recordSize
	if r.cursor >= recordAreaStart {
		return 0
	}
	return recordAreaStart - r.cursor
}

func roundUp(n, multiple uint64) uint64 {
	if multiple == 0 {
		return n
	}
	if rem := n % multiple; rem != 0 {
		return n + multiple - rem
	}
	return n
}
