/*
Package txn implements the transaction lifecycle: server-side begin/submit/
validate/decide, client-side begin/mutate/commit/rollback, and the recursive
commit-time validation algorithm (§4.3, §4.4).

The server half (Coordinator) owns the shared txn-info array, the counters
segment, and a LogRegistry mapping in-flight commit timestamps to their
sealed logs. The client half (Txn) owns a private locator view and a per-
transaction stack allocator, and never calls the Coordinator itself: its
sealed log reaches Coordinator.Submit through the session protocol
(pkg/session) in a real deployment, or is handed to it directly in tests.

Validate is recursive by construction: a committing transaction can only
decide once every undecided predecessor in its conflict window has itself
been decided, so step 5 walks the window and calls itself.
*/
package txn
