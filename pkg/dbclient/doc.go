/*
Package dbclient is the client-side half of the session protocol (§4.5): it
dials the server's SEQPACKET socket, maps the shared segments handed back
over SCM_RIGHTS at CONNECT, and drives BEGIN/COMMIT/ROLLBACK against a
*txn.Txn built from those mappings.

It plays the role the teacher's pkg/client plays for the gRPC+mTLS control
plane, but the transport underneath is a Unix-domain socket and a handful
of memory mappings instead of a TLS dial.
*/
package dbclient
