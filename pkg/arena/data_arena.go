package arena

import (
	"encoding/binary"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// wordSize is the arena's allocation granularity; every offset and every
// allocation size is rounded up to a multiple of it (§3, "8-byte aligned").
const wordSize = 8

// nextFreeOffset occupies the first word of the arena; every allocation
// bumps it atomically.
const nextFreeOffset = 0

// DataArena is the append-only object arena. It never reclaims space itself;
// reclamation happens at the locator/id-index level when a later write
// supersedes an offset (§3, §4.6).
type DataArena struct {
	fd       int
	mem      []byte
	capacity uint64
}

// NewDataArena creates a fresh arena of the given capacity in bytes, backed
// by a memfd.
func NewDataArena(capacity uint64) (*DataArena, error) {
	fd, err := unix.MemfdCreate("gaiadb-arena", 0)
	if err != nil {
		return nil, types.NewIOError("memfd_create", err)
	}
	if err := unix.Ftruncate(fd, int64(capacity)); err != nil {
		unix.Close(fd)
		return nil, types.NewIOError("ftruncate", err)
	}
	return newDataArenaFromFD(fd, capacity)
}

// OpenDataArena maps an existing arena segment received over SCM_RIGHTS.
func OpenDataArena(fd int, capacity uint64) (*DataArena, error) {
	return newDataArenaFromFD(fd, capacity)
}

func newDataArenaFromFD(fd int, capacity uint64) (*DataArena, error) {
	mem, err := unix.Mmap(fd, 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, types.NewIOError("mmap", err)
	}
	a := &DataArena{fd: fd, mem: mem, capacity: capacity}
	// The first word is reserved for the bump counter; seed it past the
	// header on first use so offset 0 is never handed out (0 doubles as
	// "no offset" in several call sites).
	if atomic.LoadUint64(a.word(nextFreeOffset)) == 0 {
		atomic.CompareAndSwapUint64(a.word(nextFreeOffset), 0, wordSize)
	}
	return a, nil
}

func (a *DataArena) word(byteOffset uint64) *uint64 {
	return (*uint64)(unsafeAdd(a.mem, byteOffset))
}

// FD returns the segment's file descriptor.
func (a *DataArena) FD() int { return a.fd }

// Close unmaps the segment.
func (a *DataArena) Close() error { return unix.Munmap(a.mem) }

// Capacity returns the arena's total byte capacity.
func (a *DataArena) Capacity() uint64 { return a.capacity }

// Used returns the current bump offset, i.e. bytes in use.
func (a *DataArena) Used() uint64 { return atomic.LoadUint64(a.word(nextFreeOffset)) }

// CarveRegion atomically bumps the arena's global offset by size (rounded up
// to the allocation granularity) and returns the start offset of the carved
// range. Regions are handed to pkg/alloc stack allocators (§4.7); individual
// object allocations never call CarveRegion directly.
func (a *DataArena) CarveRegion(size uint64) (uint64, error) {
	size = roundUp(size, wordSize)
	for {
		cur := atomic.LoadUint64(a.word(nextFreeOffset))
		next := cur + size
		if next > a.capacity {
			return 0, types.NewResourceError("arena", nil)
		}
		if atomic.CompareAndSwapUint64(a.word(nextFreeOffset), cur, next) {
			return cur, nil
		}
	}
}

func roundUp(n, multiple uint64) uint64 {
	if multiple == 0 {
		return n
	}
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + multiple - rem
}

// WriteRaw copies b into the arena at offset, bypassing the object header
// format. Used by pkg/alloc to place stack-allocator bookkeeping records.
func (a *DataArena) WriteRaw(offset uint64, b []byte) {
	copy(a.mem[offset:offset+uint64(len(b))], b)
}

// ReadRaw returns a copy of n bytes at offset, bypassing the object header
// format.
func (a *DataArena) ReadRaw(offset uint64, n int) []byte {
	out := make([]byte, n)
	copy(out, a.mem[offset:offset+uint64(n)])
	return out
}

// WriteObject places an object header followed by payload at offset, which
// must come from a region carved for this write. Returns the number of bytes
// written (header + payload, rounded up to the allocation granularity).
func (a *DataArena) WriteObject(offset uint64, hdr types.ObjectHeader, payload []byte) (uint64, error) {
	total := uint64(types.HeaderSize) + uint64(len(payload))
	if offset+roundUp(total, wordSize) > a.capacity {
		return 0, types.NewResourceError("arena", nil)
	}
	b := a.mem[offset:]
	binary.LittleEndian.PutUint64(b[0:8], uint64(hdr.ID))
	binary.LittleEndian.PutUint32(b[8:12], uint32(hdr.Type))
	binary.LittleEndian.PutUint16(b[12:14], hdr.PayloadSize)
	binary.LittleEndian.PutUint16(b[14:16], hdr.NumReferences)
	copy(b[types.HeaderSize:], payload)
	return roundUp(total, wordSize), nil
}

// ReadObject reads the header and payload starting at offset.
func (a *DataArena) ReadObject(offset uint64) (types.ObjectHeader, []byte, error) {
	if offset+types.HeaderSize > a.capacity {
		return types.ObjectHeader{}, nil, types.NewResourceError("arena", nil)
	}
	b := a.mem[offset:]
	hdr := types.ObjectHeader{
		ID:            types.GaiaID(binary.LittleEndian.Uint64(b[0:8])),
		Type:          types.TypeID(binary.LittleEndian.Uint32(b[8:12])),
		PayloadSize:   binary.LittleEndian.Uint16(b[12:14]),
		NumReferences: binary.LittleEndian.Uint16(b[14:16]),
	}
	end := uint64(types.HeaderSize) + uint64(hdr.PayloadSize)
	if offset+end > a.capacity {
		return types.ObjectHeader{}, nil, types.NewResourceError("arena", nil)
	}
	payload := make([]byte, hdr.PayloadSize)
	copy(payload, b[types.HeaderSize:end])
	return hdr, payload, nil
}
