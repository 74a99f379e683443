package arena

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// LocatorTable is the flat array of arena offsets indexed by Locator. The
// master segment is created shared but is never written after creation;
// every session maps its own MAP_PRIVATE copy-on-write view and replays
// committed logs into it during begin (§4.1, §4.3).
type LocatorTable struct {
	fd       int
	mem      []byte
	words    []uint64
	capacity uint64
	private  bool
}

// NewLocatorTable creates the shared master segment with the given capacity
// (in locators).
func NewLocatorTable(capacity uint64) (*LocatorTable, error) {
	fd, err := unix.MemfdCreate("gaiadb-locators", 0)
	if err != nil {
		return nil, types.NewIOError("memfd_create", err)
	}
	if err := unix.Ftruncate(fd, int64(capacity*8)); err != nil {
		unix.Close(fd)
		return nil, types.NewIOError("ftruncate", err)
	}
	return mapLocatorTable(fd, capacity, unix.MAP_SHARED)
}

// MapPrivate maps a session-private, copy-on-write view of the locator
// table named by fd (received over SCM_RIGHTS). Writes through the
// returned LocatorTable never reach the shared master or any other
// session's view.
func MapPrivate(fd int, capacity uint64) (*LocatorTable, error) {
	t, err := mapLocatorTable(fd, capacity, unix.MAP_PRIVATE|unix.MAP_POPULATE)
	if err != nil {
		return nil, err
	}
	t.private = true
	return t, nil
}

func mapLocatorTable(fd int, capacity uint64, flags int) (*LocatorTable, error) {
	size := int(capacity * 8)
	mem, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
	if err != nil {
		return nil, types.NewIOError("mmap", err)
	}
	return &LocatorTable{
		fd:       fd,
		mem:      mem,
		words:    unsafe.Slice((*uint64)(unsafe.Pointer(&mem[0])), capacity),
		capacity: capacity,
	}, nil
}

// FD returns the segment's file descriptor (only meaningful for the shared
// master; a private view's fd is the same underlying memfd and must not be
// re-shared).
func (t *LocatorTable) FD() int { return t.fd }

// Close unmaps the view.
func (t *LocatorTable) Close() error { return unix.Munmap(t.mem) }

// Get returns the arena offset currently named by locator, or 0 if unset.
func (t *LocatorTable) Get(locator types.Locator) uint64 {
	if uint64(locator) >= t.capacity {
		return 0
	}
	return atomic.LoadUint64(&t.words[locator])
}

// Set records offset as the current arena location of locator. On a private
// view this only affects the caller's own copy-on-write pages.
func (t *LocatorTable) Set(locator types.Locator, offset uint64) error {
	if uint64(locator) >= t.capacity {
		return types.NewResourceError("locator_table", nil)
	}
	atomic.StoreUint64(&t.words[locator], offset)
	return nil
}

// Capacity returns the table's locator capacity.
func (t *LocatorTable) Capacity() uint64 { return t.capacity }

// IsPrivate reports whether this view was mapped MAP_PRIVATE.
func (t *LocatorTable) IsPrivate() bool { return t.private }
