package txninfo

import "github.com/cuemby/gaiadb/pkg/types"

// State is the 3-bit status field of a packed txn-info word (§4.2). Values
// are assigned in the order the spec lists them so that the "decided"
// pseudo-state ("high bit of status set") falls out of the encoding instead
// of needing a separate check: COMMITTED and ABORTED are the only two
// states with bit 2 of the 3-bit field set.
type State uint8

const (
	StateActive      State = iota // begin entry: txn running
	StateSubmitted                // begin entry: commit log submitted, awaiting decision
	StateTerminated               // begin entry: rolled back or reclaimed
	StateValidating               // commit entry: validation in progress
	StateCommitted                // commit entry: decided committed
	StateAborted                  // commit entry: decided aborted
	stateInvalid     State = 7    // sentinel only, never a real entry's status
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateSubmitted:
		return "SUBMITTED"
	case StateTerminated:
		return "TERMINATED"
	case StateValidating:
		return "VALIDATING"
	case StateCommitted:
		return "COMMITTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "INVALID"
	}
}

// Word bit layout, MSB to LSB (§4.2):
//
//	bit  63     discriminator: 1 = commit entry, 0 = begin entry
//	bits 62-60  status (State)
//	bits 59-42  txn-log file descriptor (commit entries only)
//	bits 41-0   paired timestamp: commit entries pair their begin
//	            timestamp; submitted begin entries pair their commit
//	            timestamp; otherwise zero
const (
	bitCommit    = 63
	statusShift  = 60
	statusBits   = 3
	statusMask   = (uint64(1) << statusBits) - 1
	fdShift      = 42
	fdBits       = 18
	fdMask       = (uint64(1) << fdBits) - 1
	pairedBits   = 42
	pairedMask   = (uint64(1) << pairedBits) - 1
)

// Unknown is the literal zero word: an unallocated or not-yet-initialized
// slot. It is matched by whole-word identity, not by decoding its fields.
const Unknown uint64 = 0

// Invalid is the single reserved word used to fence a slot against further
// begin_txn allocation once the timestamp space wraps past it (§4.6).
const Invalid uint64 = (uint64(1) << bitCommit) | (uint64(stateInvalid) << statusShift)

// IsCommit reports whether word is a commit entry.
func IsCommit(word uint64) bool { return word&(1<<bitCommit) != 0 }

// IsUnknown reports whether word is the unallocated sentinel.
func IsUnknown(word uint64) bool { return word == Unknown }

// IsInvalid reports whether word is the fenced-slot sentinel.
func IsInvalid(word uint64) bool { return word == Invalid }

// Status extracts the 3-bit status field.
func Status(word uint64) State {
	return State((word >> statusShift) & statusMask)
}

// IsDecided reports the "high bit of status set" pseudo-state: true for
// COMMITTED and ABORTED commit entries, false otherwise (including the
// Invalid sentinel, which is excluded explicitly since its status field
// happens to also have that bit set).
func IsDecided(word uint64) bool {
	if IsInvalid(word) || IsUnknown(word) {
		return false
	}
	return Status(word)&0x4 != 0
}

// LogFD extracts the txn-log file descriptor field (commit entries only).
func LogFD(word uint64) int {
	return int((word >> fdShift) & fdMask)
}

// Paired extracts the paired timestamp field.
func Paired(word uint64) types.Timestamp {
	return types.Timestamp(word & pairedMask)
}

// makeBegin builds a begin entry word.
func makeBegin(status State, pairedCommitTS types.Timestamp) uint64 {
	return (uint64(status) << statusShift) | (uint64(pairedCommitTS) & pairedMask)
}

// makeCommit builds a commit entry word.
func makeCommit(status State, logFD int, beginTS types.Timestamp) uint64 {
	return (uint64(1) << bitCommit) |
		(uint64(status) << statusShift) |
		((uint64(logFD) & fdMask) << fdShift) |
		(uint64(beginTS) & pairedMask)
}
