package txnlog

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// MaxRecords is the per-transaction log record cap, enforced at append
// time, not at seal time (§4.4, §9: "a transaction that would exceed the
// cap fails its next mutation immediately rather than discovering the
// violation at commit").
const MaxRecords = 1 << 20

// recordSize is the on-wire size of a single Record: locator(4) + pad(4) +
// old_offset(8) + new_offset(8) + deleted_id(8) + op(1) + pad(7).
const recordSize = 40

// Record describes one mutation within a transaction: the locator it
// touched, the arena offsets it superseded and introduced, the id it
// deleted (REMOVE only), and the kind of mutation.
type Record struct {
	Locator    types.Locator
	OldOffset  uint64
	NewOffset  uint64
	DeletedID  types.GaiaID
	Op         types.Op
}

// Log is a transaction's append-only record list while open, and a sealed,
// sorted, deduplicated, read-only memfd once Seal returns.
type Log struct {
	mu      sync.Mutex
	fd      int
	records []Record
	sealed  bool
}

// New creates a fresh, empty, unsealed log backed by a memfd.
func New() (*Log, error) {
	fd, err := unix.MemfdCreate("gaiadb-txnlog", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, types.NewIOError("memfd_create", err)
	}
	return &Log{fd: fd}, nil
}

// Append adds a record. Returns a ResourceError once MaxRecords is reached.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return types.NewProtocolError("append_sealed_log", nil)
	}
	if len(l.records) >= MaxRecords {
		return types.NewResourceError("txn_log_records", nil)
	}
	l.records = append(l.records, rec)
	return nil
}

// Len returns the number of records appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns the log's sorted, deduplicated record set. Valid only
// after Seal; avoids an fd round trip for in-process callers that already
// hold the *Log (the server's LogRegistry).
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Sealed reports whether Seal has run.
func (l *Log) Sealed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealed
}

// Seal sorts records by locator, collapses repeated writes to the same
// locator to the last one appended, encodes the result into the backing
// memfd, and seals it against further writes with F_SEAL_WRITE.
func (l *Log) Seal() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return nil
	}
	l.records = dedupByLocator(l.records)
	sort.Slice(l.records, func(i, j int) bool { return l.records[i].Locator < l.records[j].Locator })

	buf := make([]byte, 8+len(l.records)*recordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(l.records)))
	for i, r := range l.records {
		off := 8 + i*recordSize
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.Locator))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], r.OldOffset)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], r.NewOffset)
		binary.LittleEndian.PutUint64(buf[off+24:off+32], uint64(r.DeletedID))
		buf[off+32] = byte(r.Op)
	}
	if err := unix.Ftruncate(l.fd, int64(len(buf))); err != nil {
		return types.NewIOError("ftruncate", err)
	}
	if _, err := unix.Pwrite(l.fd, buf, 0); err != nil {
		return types.NewIOError("pwrite", err)
	}
	if err := unix.FcntlInt(uintptr(l.fd), unix.F_ADD_SEALS, unix.F_SEAL_WRITE|unix.F_SEAL_SHRINK|unix.F_SEAL_GROW); err != nil {
		return types.NewIOError("fcntl_seal", err)
	}
	l.sealed = true
	return nil
}

// dedupByLocator keeps only the last record for each distinct locator,
// preserving that record's append order for ties before the final sort.
func dedupByLocator(records []Record) []Record {
	last := make(map[types.Locator]int, len(records))
	for i, r := range records {
		last[r.Locator] = i
	}
	out := make([]Record, 0, len(last))
	for i, r := range records {
		if last[r.Locator] == i {
			out = append(out, r)
		}
	}
	return out
}

// FD returns the sealed log's file descriptor, for handing to the server
// over SCM_RIGHTS at submit time.
func (l *Log) FD() int { return l.fd }

// Close closes the log's fd.
func (l *Log) Close() error { return unix.Close(l.fd) }

// Open maps and decodes a sealed log received over SCM_RIGHTS, returning its
// records. The mapping is released before Open returns (§4.3: "the client
// ... unmaps the log" once it has replayed it).
func Open(fd int) ([]Record, error) {
	return decodeSealedFD(fd)
}

// FromSealedFD wraps a sealed log fd received over SCM_RIGHTS (a client's
// COMMIT_TXN ancillary data) as a *Log, decoding its records once so the
// server-side LogRegistry and Validate never need to re-map it. The caller
// owns fd's lifetime; Close releases it once the watermark reclaims the
// commit.
func FromSealedFD(fd int) (*Log, error) {
	records, err := decodeSealedFD(fd)
	if err != nil {
		return nil, err
	}
	return &Log{fd: fd, records: records, sealed: true}, nil
}

func decodeSealedFD(fd int) ([]Record, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, types.NewIOError("fstat", err)
	}
	if st.Size < 8 {
		return nil, types.NewProtocolError("short_log", nil)
	}
	mem, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, types.NewIOError("mmap", err)
	}
	defer unix.Munmap(mem)

	count := binary.LittleEndian.Uint64(mem[0:8])
	want := 8 + count*recordSize
	if uint64(st.Size) < want {
		return nil, types.NewProtocolError("truncated_log", nil)
	}
	records := make([]Record, count)
	for i := uint64(0); i < count; i++ {
		off := 8 + i*recordSize
		records[i] = Record{
			Locator:   types.Locator(binary.LittleEndian.Uint32(mem[off : off+4])),
			OldOffset: binary.LittleEndian.Uint64(mem[off+8 : off+16]),
			NewOffset: binary.LittleEndian.Uint64(mem[off+16 : off+24]),
			DeletedID: types.GaiaID(binary.LittleEndian.Uint64(mem[off+24 : off+32])),
			Op:        types.Op(mem[off+32]),
		}
	}
	return records, nil
}

// Conflicts reports whether a and b, both sorted-by-locator record sets,
// touch at least one common locator — the write-write conflict test at the
// heart of commit validation (§4.4).
func Conflicts(a, b []Record) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].Locator == b[j].Locator:
			return true
		case a[i].Locator < b[j].Locator:
			i++
		default:
			j++
		}
	}
	return false
}

func (r Record) String() string {
	return fmt.Sprintf("Record{locator=%d old=%d new=%d deleted=%d op=%s}",
		r.Locator, r.OldOffset, r.NewOffset, r.DeletedID, r.Op)
}
