/*
Package txninfo implements TS[], the lock-free shared transaction-info
array at the center of the store's MVCC scheme (§4.2).

Every timestamp — begin or commit — owns one 64-bit word in TS[], at index
timestamp modulo the array size (no hashing). At the production size
(SpaceBits) every 42-bit timestamp has its own slot; a smaller test array
maps timestamps that differ by a multiple of its size onto the same slot. Every transition on a word is a single
compare-and-swap; there is no lock, and no reader ever blocks a writer.

	allocate_txn_id ──▶ InitBegin(Unknown → ACTIVE)
	                         │
	            mutate, then submit for commit
	                         │
	           RegisterLog(Unknown → VALIDATING) on commit slot
	                         │
	        SetSubmitted(ACTIVE → SUBMITTED) on begin slot, paired
	                         │
	                    Validate (pkg/txn)
	                         │
	           Decide(VALIDATING → COMMITTED | ABORTED)

A session that never submits (read-only, or explicit rollback) instead
CAS-transitions its begin slot straight to TERMINATED via SetTerminated.
Invalidate is used by Coordinator.Begin's window scan and by Validate
(pkg/txn), to fence a slot in the scanned window that is still Unknown, so
no session can initialize it after the scan has passed it.
*/
package txninfo
