package arena

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// NumBuckets is the fixed bucket count of the id index (§4.1).
const NumBuckets = 12289

// bucketWords is {id, locator, overflow_head}. overflow_head is a 1-based
// index into the overflow slab; 0 means "no overflow chain".
const bucketWords = 3

// nodeWords is an overflow node: {id, locator, next}. next is a 1-based
// index into the overflow slab; 0 means "end of chain".
const nodeWords = 3

// IDIndex is the open-addressed id index: 12,289 primary buckets plus a
// CAS-appended overflow chain per bucket, keyed by GaiaID. A bucket's id
// field is CAS-initialized exactly once; its locator field is written after
// the bucket is claimed and may be zeroed again on delete without freeing
// the bucket (§4.1).
type IDIndex struct {
	bucketsFD int
	overflowFD int
	buckets    []byte
	overflow   []byte
	bucketW    []uint64
	nodeW      []uint64
	nodeCount  uint64 // atomic bump allocator for overflow slab
	nodeCap    uint64
}

// NewIDIndex creates a fresh id index with the given overflow slab capacity
// (in entries).
func NewIDIndex(overflowCapacity uint64) (*IDIndex, error) {
	bFD, err := unix.MemfdCreate("gaiadb-idindex-buckets", 0)
	if err != nil {
		return nil, types.NewIOError("memfd_create", err)
	}
	bSize := int64(NumBuckets * bucketWords * 8)
	if err := unix.Ftruncate(bFD, bSize); err != nil {
		unix.Close(bFD)
		return nil, types.NewIOError("ftruncate", err)
	}
	oFD, err := unix.MemfdCreate("gaiadb-idindex-overflow", 0)
	if err != nil {
		unix.Close(bFD)
		return nil, types.NewIOError("memfd_create", err)
	}
	oSize := int64(overflowCapacity * nodeWords * 8)
	if err := unix.Ftruncate(oFD, oSize); err != nil {
		unix.Close(bFD)
		unix.Close(oFD)
		return nil, types.NewIOError("ftruncate", err)
	}
	return newIDIndexFromFDs(bFD, oFD, overflowCapacity)
}

// OpenIDIndex maps an existing id index received over SCM_RIGHTS.
func OpenIDIndex(bucketsFD, overflowFD int, overflowCapacity uint64) (*IDIndex, error) {
	return newIDIndexFromFDs(bucketsFD, overflowFD, overflowCapacity)
}

func newIDIndexFromFDs(bFD, oFD int, overflowCapacity uint64) (*IDIndex, error) {
	bSize := int(NumBuckets * bucketWords * 8)
	buckets, err := unix.Mmap(bFD, 0, bSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, types.NewIOError("mmap", err)
	}
	oSize := int(overflowCapacity * nodeWords * 8)
	overflow, err := unix.Mmap(oFD, 0, oSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(buckets)
		return nil, types.NewIOError("mmap", err)
	}
	idx := &IDIndex{
		bucketsFD:  bFD,
		overflowFD: oFD,
		buckets:    buckets,
		overflow:   overflow,
		bucketW:    unsafe.Slice((*uint64)(unsafe.Pointer(&buckets[0])), NumBuckets*bucketWords),
		nodeW:      unsafe.Slice((*uint64)(unsafe.Pointer(&overflow[0])), int(overflowCapacity)*nodeWords),
		nodeCap:    overflowCapacity,
	}
	// Recover the bump cursor by scanning for the first unused node. A
	// freshly mapped segment is all zero, so this is O(1) on creation and
	// only costs a scan when reopening a segment that already has entries.
	for i := uint64(0); i < overflowCapacity; i++ {
		if idx.nodeW[i*nodeWords] == 0 {
			idx.nodeCount = i
			break
		}
	}
	return idx, nil
}

// BucketsFD returns the primary bucket segment's fd.
func (idx *IDIndex) BucketsFD() int { return idx.bucketsFD }

// OverflowFD returns the overflow slab segment's fd.
func (idx *IDIndex) OverflowFD() int { return idx.overflowFD }

// Close unmaps both segments.
func (idx *IDIndex) Close() error {
	if err := unix.Munmap(idx.buckets); err != nil {
		return err
	}
	return unix.Munmap(idx.overflow)
}

func hashID(id types.GaiaID) uint64 {
	// Fibonacci hashing keeps clustering low without a seeded hasher.
	return (uint64(id) * 11400714819323198485) % NumBuckets
}

// Insert claims an entry for id with the given locator. It returns a
// ReferentialError if id is already present.
func (idx *IDIndex) Insert(id types.GaiaID, locator types.Locator) error {
	b := hashID(id) * bucketWords
	if atomic.CompareAndSwapUint64(&idx.bucketW[b], 0, uint64(id)) {
		atomic.StoreUint64(&idx.bucketW[b+1], uint64(locator))
		return nil
	}
	if atomic.LoadUint64(&idx.bucketW[b]) == uint64(id) {
		return types.NewReferentialError("duplicate_id", id)
	}
	return idx.insertOverflow(&idx.bucketW[b+2], id, locator)
}

func (idx *IDIndex) insertOverflow(head *uint64, id types.GaiaID, locator types.Locator) error {
	// Walk the existing chain first to reject duplicates.
	for cur := atomic.LoadUint64(head); cur != 0; {
		n := (cur - 1) * nodeWords
		if atomic.LoadUint64(&idx.nodeW[n]) == uint64(id) {
			return types.NewReferentialError("duplicate_id", id)
		}
		cur = atomic.LoadUint64(&idx.nodeW[n+2])
	}
	slot := atomic.AddUint64(&idx.nodeCount, 1) - 1
	if slot >= idx.nodeCap {
		return types.NewResourceError("id_index_overflow", nil)
	}
	n := slot * nodeWords
	atomic.StoreUint64(&idx.nodeW[n], uint64(id))
	atomic.StoreUint64(&idx.nodeW[n+1], uint64(locator))
	nodeIndex := slot + 1 // 1-based
	for {
		old := atomic.LoadUint64(head)
		atomic.StoreUint64(&idx.nodeW[n+2], old)
		if atomic.CompareAndSwapUint64(head, old, nodeIndex) {
			return nil
		}
	}
}

// Lookup returns the locator for id, or InvalidLocator if id is unknown or
// has been deleted.
func (idx *IDIndex) Lookup(id types.GaiaID) types.Locator {
	b := hashID(id) * bucketWords
	if atomic.LoadUint64(&idx.bucketW[b]) == uint64(id) {
		return types.Locator(atomic.LoadUint64(&idx.bucketW[b+1]))
	}
	for cur := atomic.LoadUint64(&idx.bucketW[b+2]); cur != 0; {
		n := (cur - 1) * nodeWords
		if atomic.LoadUint64(&idx.nodeW[n]) == uint64(id) {
			return types.Locator(atomic.LoadUint64(&idx.nodeW[n+1]))
		}
		cur = atomic.LoadUint64(&idx.nodeW[n+2])
	}
	return types.InvalidLocator
}

// Delete zeroes the locator field for id, leaving the bucket or overflow
// node in place (§4.1: "deletion sets the locator field to zero but leaves
// the id bucket in place").
func (idx *IDIndex) Delete(id types.GaiaID) error {
	b := hashID(id) * bucketWords
	if atomic.LoadUint64(&idx.bucketW[b]) == uint64(id) {
		atomic.StoreUint64(&idx.bucketW[b+1], 0)
		return nil
	}
	for cur := atomic.LoadUint64(&idx.bucketW[b+2]); cur != 0; {
		n := (cur - 1) * nodeWords
		if atomic.LoadUint64(&idx.nodeW[n]) == uint64(id) {
			atomic.StoreUint64(&idx.nodeW[n+1], 0)
			return nil
		}
		cur = atomic.LoadUint64(&idx.nodeW[n+2])
	}
	return types.NewReferentialError("not_found", id)
}

// Update rewrites the locator for an existing id (used when a commit
// supersedes an object's arena offset without changing its identity).
func (idx *IDIndex) Update(id types.GaiaID, locator types.Locator) error {
	b := hashID(id) * bucketWords
	if atomic.LoadUint64(&idx.bucketW[b]) == uint64(id) {
		atomic.StoreUint64(&idx.bucketW[b+1], uint64(locator))
		return nil
	}
	for cur := atomic.LoadUint64(&idx.bucketW[b+2]); cur != 0; {
		n := (cur - 1) * nodeWords
		if atomic.LoadUint64(&idx.nodeW[n]) == uint64(id) {
			atomic.StoreUint64(&idx.nodeW[n+1], uint64(locator))
			return nil
		}
		cur = atomic.LoadUint64(&idx.nodeW[n+2])
	}
	return types.NewReferentialError("not_found", id)
}

// EntryCount returns the number of live (non-deleted) entries, used by the
// metrics collector. It is an O(buckets+overflow) scan, not O(1).
func (idx *IDIndex) EntryCount() uint64 {
	var n uint64
	for i := uint64(0); i < NumBuckets; i++ {
		b := i * bucketWords
		if atomic.LoadUint64(&idx.bucketW[b]) != 0 && atomic.LoadUint64(&idx.bucketW[b+1]) != 0 {
			n++
		}
	}
	count := atomic.LoadUint64(&idx.nodeCount)
	for i := uint64(0); i < count; i++ {
		w := i * nodeWords
		if atomic.LoadUint64(&idx.nodeW[w+1]) != 0 {
			n++
		}
	}
	return n
}
