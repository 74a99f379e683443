/*
Package session drives one client connection's protocol state machine
(§4.5) on the server side: accepting CONNECT, handing out the shared
segment fds, running BEGIN/COMMIT/ROLLBACK against a *txn.Coordinator, and
spawning short-lived producer goroutines for log-fd and type-scan cursor
streams.

A Session owns exactly one goroutine reading its socket (the Go mapping of
"one OS thread per client session on the server" — see SPEC_FULL.md §5) plus
zero or more cursor producer goroutines, torn down via stopCh when the
session closes. It never touches another session's state; all
cross-session coordination happens through the Coordinator and the shared
arena segments, which already serialize via CAS.
*/
package session
