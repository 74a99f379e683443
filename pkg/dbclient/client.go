package dbclient

import (
	"encoding/binary"
	"net"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/protocol"
	"github.com/cuemby/gaiadb/pkg/txn"
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// Client is one session's handle: the dialed socket plus the shared-memory
// segments mapped from CONNECT's ancillary fds.
type Client struct {
	conn      *net.UnixConn
	data      *arena.DataArena
	idIndex   *arena.IDIndex
	counters  *arena.Counters
	locatorFD int
	locatorN  uint64

	relationships *txn.RelationshipSchema
}

// RegisterRelationship declares childType's relationship metadata for this
// client's subsequent transactions to enforce. Mirrors how a real Gaia
// deployment compiles catalog-declared relationships into client code;
// nothing here is sent over the wire, since the protocol carries no
// catalog/DDL layer (§3 SUPPLEMENT).
func (c *Client) RegisterRelationship(childType types.TypeID, rel types.Relationship) {
	if c.relationships == nil {
		c.relationships = txn.NewRelationshipSchema()
	}
	c.relationships.Register(childType, rel)
}

// Dial opens a session against addr (a Unix-domain SEQPACKET socket path)
// and performs the CONNECT handshake, mapping every shared segment the
// server hands back (§4.1, §4.5).
func Dial(addr string) (*Client, error) {
	raw, err := net.Dial("unixpacket", addr)
	if err != nil {
		return nil, types.NewIOError("dial", err)
	}
	conn := raw.(*net.UnixConn)

	if err := sendRequest(conn, protocol.EventConnect, protocol.DiscNone, nil, nil); err != nil {
		conn.Close()
		return nil, err
	}
	hdr, _, fds, err := recvReply(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if hdr.Kind == protocol.KindError || len(fds) != 5 {
		conn.Close()
		return nil, types.NewProtocolError("connect_failed", nil)
	}
	dataFD, locatorFD, countersFD, bucketsFD, overflowFD := fds[0], fds[1], fds[2], fds[3], fds[4]

	dataCap, err := arena.DataArenaCapacity(dataFD)
	if err != nil {
		conn.Close()
		return nil, err
	}
	dataArena, err := arena.OpenDataArena(dataFD, dataCap)
	if err != nil {
		conn.Close()
		return nil, err
	}
	counters, err := arena.OpenCounters(countersFD)
	if err != nil {
		conn.Close()
		return nil, err
	}
	overflowCap, err := arena.IDIndexOverflowCapacity(overflowFD)
	if err != nil {
		conn.Close()
		return nil, err
	}
	idIndex, err := arena.OpenIDIndex(bucketsFD, overflowFD, overflowCap)
	if err != nil {
		conn.Close()
		return nil, err
	}
	locatorN, err := arena.LocatorCapacity(locatorFD)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Client{
		conn:      conn,
		data:      dataArena,
		idIndex:   idIndex,
		counters:  counters,
		locatorFD: locatorFD,
		locatorN:  locatorN,
	}, nil
}

// Begin starts a transaction: asks the server for a begin_ts and its
// snapshot's log-fd stream, maps a fresh private locator view, and replays
// every streamed log into it (§4.3 "Begin (client)" steps 1-5).
func (c *Client) Begin() (*txn.Txn, error) {
	if err := sendRequest(c.conn, protocol.EventBeginTxn, protocol.DiscNone, nil, nil); err != nil {
		return nil, err
	}
	hdr, payload, fds, err := recvReply(c.conn)
	if err != nil {
		return nil, err
	}
	if hdr.Kind == protocol.KindError || len(payload) < 8 || len(fds) != 1 {
		return nil, types.NewProtocolError("begin_failed", nil)
	}
	beginTS := types.Timestamp(binary.LittleEndian.Uint64(payload))

	logFDs, err := recvFDStream(fds[0])
	if err != nil {
		return nil, err
	}

	locators, err := arena.MapPrivate(c.locatorFD, c.locatorN)
	if err != nil {
		return nil, err
	}

	t, err := txn.NewTxn(beginTS, locators, c.data, c.idIndex, c.counters)
	if err != nil {
		locators.Close()
		return nil, err
	}
	t.SetRelationships(c.relationships)

	for _, logFD := range logFDs {
		records, err := txnlog.Open(logFD)
		unix.Close(logFD)
		if err != nil {
			return nil, err
		}
		t.ReplayLog(records)
	}
	return t, nil
}

// Commit seals t's log, submits it to the server, and returns the decision
// (§4.3 "Commit (client → server)").
func (c *Client) Commit(t *txn.Txn) (types.Timestamp, types.Decision, error) {
	log, err := t.PrepareCommit()
	if err != nil {
		return 0, types.DecisionPending, err
	}
	if err := sendRequest(c.conn, protocol.EventCommitTxn, protocol.DiscNone, nil, []int{log.FD()}); err != nil {
		return 0, types.DecisionPending, err
	}
	hdr, payload, _, err := recvReply(c.conn)
	if err != nil {
		return 0, types.DecisionPending, err
	}
	_ = t.Close()
	_ = log.Close()
	if len(payload) < 8 {
		return 0, types.DecisionPending, types.NewProtocolError("malformed_decide_reply", nil)
	}
	commitTS := types.Timestamp(binary.LittleEndian.Uint64(payload))

	switch hdr.Event {
	case protocol.EventDecideTxnCommit:
		return commitTS, types.DecisionCommitted, nil
	case protocol.EventDecideTxnAbort:
		return commitTS, types.DecisionAborted, types.NewConcurrencyError("conflict")
	default:
		return commitTS, types.DecisionPending, types.NewProtocolError("unexpected_decide_event", nil)
	}
}

// Lookup resolves id to its current locator via the shared id index, or
// types.InvalidLocator if no live object holds id.
func (c *Client) Lookup(id types.GaiaID) types.Locator {
	return c.idIndex.Lookup(id)
}

// Scan requests the catalog-backed id stream for typeID (§6
// "id_generator_for_type") and returns every live id the server's catalog
// currently tracks for it.
func (c *Client) Scan(typeID types.TypeID) ([]types.GaiaID, error) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(typeID))
	if err := sendRequest(c.conn, protocol.EventRequestStream, protocol.DiscTableScan, payload, nil); err != nil {
		return nil, err
	}
	hdr, _, fds, err := recvReply(c.conn)
	if err != nil {
		return nil, err
	}
	if hdr.Kind == protocol.KindError || len(fds) != 1 {
		return nil, types.NewProtocolError("scan_failed", nil)
	}
	return recvIDStream(fds[0])
}

// Rollback abandons t without committing (§4.3 "Rollback (client)").
func (c *Client) Rollback(t *txn.Txn) error {
	if err := sendRequest(c.conn, protocol.EventRollbackTxn, protocol.DiscNone, nil, nil); err != nil {
		return err
	}
	return t.Close()
}

// Close ends the session, releasing its mapped segments.
func (c *Client) Close() error {
	_ = sendRequest(c.conn, protocol.EventClientShutdown, protocol.DiscNone, nil, nil)
	_ = c.data.Close()
	_ = c.idIndex.Close()
	_ = c.counters.Close()
	return c.conn.Close()
}

func sendRequest(conn *net.UnixConn, event protocol.Event, disc protocol.Discriminant, payload []byte, fds []int) error {
	buf, err := protocol.Encode(protocol.Header{Kind: protocol.KindRequest, Event: event, Discriminant: disc}, payload)
	if err != nil {
		return err
	}
	return protocol.SendWithFDs(conn, buf, fds)
}

func recvReply(conn *net.UnixConn) (protocol.Header, []byte, []int, error) {
	data, fds, err := protocol.RecvWithFDs(conn, protocol.MaxDatagramSize)
	if err != nil {
		return protocol.Header{}, nil, nil, err
	}
	hdr, payload, err := protocol.Decode(data)
	if err != nil {
		return protocol.Header{}, nil, nil, err
	}
	return hdr, payload, fds, nil
}
