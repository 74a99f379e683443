/*
Package protocol implements the session wire format and state machine
(§4.5): fixed 4-byte message headers, SCM_RIGHTS fd-passing helpers over
net.UnixConn, and the session event/state transition table.

Transport is one SEQPACKET Unix-domain socket per session; each datagram is
one message, so framing only needs a fixed header describing what's in the
datagram, never a length prefix for resynchronization.
*/
package protocol
