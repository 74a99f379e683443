/*
Package watermark implements the background reclamation tracker: advancing
the oldest-live-transaction watermark and freeing resources that fall
behind it (§4.6).

The tracker walks TS[] forward from the last watermark. A begin slot in
ACTIVE or SUBMITTED blocks the watermark's advance (its transaction might
still read or might still be mid-commit); TERMINATED and decided commit
slots do not. Once the watermark passes a commit timestamp, its txn-log fd
is forgotten from the registry (closing it) and the txn-info pages strictly
below the new watermark are returned to the OS with madvise(MADV_FREE).
*/
package watermark
