package txninfo

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// SpaceBits is the production timestamp address space width: 2^42
// timestamps * 8 bytes/word = 32 TiB of virtual address space, reserved
// with MAP_NORESERVE so unused pages never materialize (§4.2, §9).
const SpaceBits = types.TimestampBits

// Array is the shared txn-info array TS[], one atomic 64-bit word per
// slot, indexed by timestamp modulo the array size; at the production size
// every possible timestamp value has its own slot. It is mapped once, at server
// start, over the full address space named by SpaceBits; callers that need
// a lighter-weight array for tests pass a smaller bits value to NewArray.
type Array struct {
	fd    int
	mem   []byte
	words []uint64
	size  uint64
}

// NewArray reserves an array covering 2^bits timestamps.
func NewArray(bits uint) (*Array, error) {
	fd, err := unix.MemfdCreate("gaiadb-txninfo", 0)
	if err != nil {
		return nil, types.NewIOError("memfd_create", err)
	}
	size := uint64(1) << bits
	byteSize := int64(size * 8)
	if err := unix.Ftruncate(fd, byteSize); err != nil {
		unix.Close(fd)
		return nil, types.NewIOError("ftruncate", err)
	}
	return newArrayFromFD(fd, size)
}

// OpenArray maps an existing txn-info array received over SCM_RIGHTS.
func OpenArray(fd int, bits uint) (*Array, error) {
	return newArrayFromFD(fd, uint64(1)<<bits)
}

func newArrayFromFD(fd int, size uint64) (*Array, error) {
	mem, err := unix.Mmap(fd, 0, int(size*8), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_NORESERVE)
	if err != nil {
		return nil, types.NewIOError("mmap", err)
	}
	return &Array{
		fd:    fd,
		mem:   mem,
		words: unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), size),
		size:  size,
	}, nil
}

// FD returns the segment's file descriptor.
func (a *Array) FD() int { return a.fd }

// Close unmaps the segment.
func (a *Array) Close() error { return unix.Munmap(a.mem) }

// Size returns the number of addressable timestamp slots.
func (a *Array) Size() uint64 { return a.size }

func (a *Array) slot(ts types.Timestamp) *uint64 {
	return &a.words[uint64(ts)%a.size]
}

// MadviseFree returns the byte range covering [fromTS, toTS) to the OS with
// MADV_FREE, rounded to whole pages. Called by pkg/watermark once the
// watermark has passed toTS so those slots will never be read again
// (§4.6). It is advisory only: a slot that is subsequently written to
// (e.g. the timestamp space wrapping back onto it) simply re-faults the
// page.
func (a *Array) MadviseFree(fromTS, toTS types.Timestamp) error {
	if toTS <= fromTS {
		return nil
	}
	start := (uint64(fromTS) % a.size) * 8
	end := (uint64(toTS) % a.size) * 8
	if end <= start || end > uint64(len(a.mem)) {
		return nil // wrapped past the end of this mapping; skip rather than misadvise
	}
	pageSize := uint64(unix.Getpagesize())
	start -= start % pageSize
	if start >= end {
		return nil
	}
	return unix.Madvise(a.mem[start:end], unix.MADV_FREE)
}

// Load returns the raw word at ts.
func (a *Array) Load(ts types.Timestamp) uint64 {
	return atomic.LoadUint64(a.slot(ts))
}

// InitBegin CAS-transitions slot ts from Unknown to a fresh ACTIVE begin
// entry. Called once, by the session that allocated ts as a begin
// timestamp.
func (a *Array) InitBegin(ts types.Timestamp) error {
	if atomic.CompareAndSwapUint64(a.slot(ts), Unknown, makeBegin(StateActive, 0)) {
		return nil
	}
	return types.NewConcurrencyError("fenced")
}

// Invalidate CAS-transitions slot ts from Unknown directly to the Invalid
// sentinel, fencing it so no later InitBegin or RegisterLog can claim it.
// Called for Unknown slots found in a begin or validation window.
func (a *Array) Invalidate(ts types.Timestamp) error {
	if atomic.CompareAndSwapUint64(a.slot(ts), Unknown, Invalid) {
		return nil
	}
	return types.NewConcurrencyError("fenced")
}

// RegisterLog CAS-transitions the commit slot at commitTS from Unknown to a
// VALIDATING commit entry carrying logFD and the paired beginTS. This is
// the step that publishes a transaction's commit log for other committers'
// conflict windows to see.
func (a *Array) RegisterLog(commitTS, beginTS types.Timestamp, logFD int) error {
	word := makeCommit(StateValidating, logFD, beginTS)
	if atomic.CompareAndSwapUint64(a.slot(commitTS), Unknown, word) {
		return nil
	}
	return types.NewConcurrencyError("fenced")
}

// SetSubmitted CAS-transitions the begin slot at beginTS from ACTIVE to
// SUBMITTED, pairing it with commitTS. Fails with a ConcurrencyError if the
// slot was concurrently invalidated (fenced) out from under the session.
func (a *Array) SetSubmitted(beginTS, commitTS types.Timestamp) error {
	old := makeBegin(StateActive, 0)
	next := makeBegin(StateSubmitted, commitTS)
	if atomic.CompareAndSwapUint64(a.slot(beginTS), old, next) {
		return nil
	}
	return types.NewConcurrencyError("fenced")
}

// SetTerminated CAS-transitions the begin slot at beginTS from ACTIVE to
// TERMINATED (rollback or reclamation of a read-only session).
func (a *Array) SetTerminated(beginTS types.Timestamp) error {
	old := makeBegin(StateActive, 0)
	next := makeBegin(StateTerminated, 0)
	if atomic.CompareAndSwapUint64(a.slot(beginTS), old, next) {
		return nil
	}
	return types.NewConcurrencyError("fenced")
}

// Decide CAS-transitions the commit slot at commitTS from VALIDATING to
// either COMMITTED or ABORTED, preserving the slot's log fd and paired
// begin timestamp.
func (a *Array) Decide(commitTS, beginTS types.Timestamp, logFD int, outcome types.Decision) error {
	old := makeCommit(StateValidating, logFD, beginTS)
	var status State
	switch outcome {
	case types.DecisionCommitted:
		status = StateCommitted
	case types.DecisionAborted:
		status = StateAborted
	default:
		return types.NewProtocolError("decide", nil)
	}
	next := makeCommit(status, logFD, beginTS)
	if atomic.CompareAndSwapUint64(a.slot(commitTS), old, next) {
		return nil
	}
	return types.NewConcurrencyError("fenced")
}
