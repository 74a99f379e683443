package arena

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// countersWords is the number of atomic uint64 counters in the segment.
const countersWords = 4

const (
	counterLastID = iota
	counterLastTypeID
	counterLastTxnID
	counterLastLocator
)

// Counters is the shared counters segment: four atomically incremented
// uint64 words backing GaiaID, TypeID, txn-id/timestamp, and Locator
// allocation (§4.1). last_txn_id is seeded at 1 so Timestamp 0 stays
// reserved as "no timestamp".
type Counters struct {
	fd    int
	mem   []byte
	words []uint64
}

// NewCounters creates a fresh counters segment backed by a memfd.
func NewCounters() (*Counters, error) {
	fd, err := unix.MemfdCreate("gaiadb-counters", 0)
	if err != nil {
		return nil, types.NewIOError("memfd_create", err)
	}
	size := countersWords * 8
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, types.NewIOError("ftruncate", err)
	}
	c, err := newCountersFromFD(fd, true)
	if err != nil {
		return nil, err
	}
	atomic.StoreUint64(&c.words[counterLastTxnID], 1)
	return c, nil
}

// OpenCounters maps an existing counters segment received over SCM_RIGHTS.
func OpenCounters(fd int) (*Counters, error) {
	return newCountersFromFD(fd, false)
}

func newCountersFromFD(fd int, owner bool) (*Counters, error) {
	size := countersWords * 8
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if owner {
			unix.Close(fd)
		}
		return nil, types.NewIOError("mmap", err)
	}
	words := unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), countersWords)
	return &Counters{fd: fd, mem: mem, words: words}, nil
}

// FD returns the segment's file descriptor, for handing to a session over
// SCM_RIGHTS.
func (c *Counters) FD() int { return c.fd }

// Close unmaps the segment. The fd is left open; callers that own it close
// it separately once no session references it.
func (c *Counters) Close() error {
	return unix.Munmap(c.mem)
}

// NextID allocates the next GaiaID.
func (c *Counters) NextID() types.GaiaID {
	return types.GaiaID(atomic.AddUint64(&c.words[counterLastID], 1))
}

// NextTypeID allocates the next TypeID.
func (c *Counters) NextTypeID() types.TypeID {
	return types.TypeID(atomic.AddUint64(&c.words[counterLastTypeID], 1))
}

// NextTxnID allocates the next Timestamp, shared by begin and commit
// timestamps (§4.2 "allocate_txn_id").
func (c *Counters) NextTxnID() types.Timestamp {
	return types.Timestamp(atomic.AddUint64(&c.words[counterLastTxnID], 1))
}

// NextLocator allocates the next Locator.
func (c *Counters) NextLocator() types.Locator {
	return types.Locator(atomic.AddUint64(&c.words[counterLastLocator], 1))
}

// LastTxnID returns the current value without allocating, used by the
// watermark tracker to bound its forward scan.
func (c *Counters) LastTxnID() types.Timestamp {
	return types.Timestamp(atomic.LoadUint64(&c.words[counterLastTxnID]))
}

// LastLocator returns the current locator counter value without allocating,
// used by the metrics collector to report occupancy.
func (c *Counters) LastLocator() types.Locator {
	return types.Locator(atomic.LoadUint64(&c.words[counterLastLocator]))
}
