/*
Package server wires together the shared-memory segments, the transaction
coordinator, the watermark tracker and the accept loop that turns each
inbound connection on the SEQPACKET listener into a pkg/session.Session.

It plays the role the teacher's pkg/manager plays for the Raft control
plane: Config in, a single long-lived struct out, with every subsystem's
constructor wrapped in "failed to ...: %w" so a broken store says exactly
which segment it choked on.
*/
package server
