/*
Package persist defines the durability hook a committing transaction calls
after validation decides its outcome (§4.3 step 6, §6 "persistence is a
collaborator, not core state"). The core never blocks a decision on
durability completing; a hook is consulted after the in-memory decision has
already been published to TS[].

BoltHook is the default implementation: it mirrors each commit's log
records into a bbolt bucket keyed by commit timestamp, standing in for the
out-of-scope RocksDB-backed write-ahead log the original system delegates
to. It exists so the server has a real, runnable default rather than a nil
interface — any out-of-scope WAL implementation satisfies the same Hook
interface.
*/
package persist
