/*
Package txnlog implements the sealed, memfd-backed commit log a client
submits at commit time (§4.3, §4.4): the record format, the append-time
record cap, the sort-and-dedup seal step, and the merge-intersection
conflict test two sealed logs are checked against during validation.

A log starts out append-only and private to the submitting client. Sealing
sorts its records by locator, collapses repeated writes to the same locator
to the last one (last write wins within a single transaction), and marks
the backing memfd read-only (F_SEAL_WRITE) before handing its fd to the
server for registration in TS[].
*/
package txnlog
