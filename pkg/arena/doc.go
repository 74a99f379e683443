/*
Package arena implements the shared-memory segments that make up a single
store instance, per spec §3-4.1: the counters segment, the append-only
object arena, the id index, and the locator table.

Every segment is backed by a memfd (golang.org/x/sys/unix.MemfdCreate) sized
with ftruncate and mapped with mmap. Because a memfd is sparse, ftruncate-ing
it to a large capacity does not commit physical pages — only the byte ranges
a writer actually touches ever cost memory, which is what lets the id index
and the locator table be declared at a fixed maximum capacity instead of
growing.

	┌────────────────────── SEGMENTS ───────────────────────────┐
	│                                                             │
	│  Counters      4 atomic uint64 words: last_id,             │
	│                last_type_id, last_txn_id, last_locator     │
	│                                                             │
	│  DataArena     append-only, 8-byte aligned; first word is  │
	│                the atomic next-free-offset bump counter    │
	│                                                             │
	│  IDIndex       12,289 primary buckets + CAS-appended       │
	│                overflow chain, keyed by GaiaID              │
	│                                                             │
	│  LocatorTable  flat array of arena offsets indexed by      │
	│                Locator; shared master is never mutated,    │
	│                every session maps its own MAP_PRIVATE      │
	│                copy-on-write view                           │
	└─────────────────────────────────────────────────────────────┘

All segment fds are handed to sessions over SCM_RIGHTS ancillary messages by
pkg/session; a session never inherits them at fork/exec time.
*/
package arena
