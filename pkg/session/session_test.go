package session

import (
	"encoding/binary"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/catalog"
	"github.com/cuemby/gaiadb/pkg/persist"
	"github.com/cuemby/gaiadb/pkg/protocol"
	"github.com/cuemby/gaiadb/pkg/txn"
	"github.com/cuemby/gaiadb/pkg/txninfo"
)

type fixture struct {
	session  *Session
	clientFD *net.UnixConn
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	counters, err := arena.NewCounters()
	require.NoError(t, err)
	dataArena, err := arena.NewDataArena(1 << 24)
	require.NoError(t, err)
	idIndex, err := arena.NewIDIndex(4096)
	require.NoError(t, err)
	locators, err := arena.NewLocatorTable(4096)
	require.NoError(t, err)

	array, err := txninfo.NewArray(16)
	require.NoError(t, err)
	coord := txn.NewCoordinator(array, counters, persist.NoopHook{})
	segments := &Segments{Data: dataArena, Locators: locators, IDIndex: idIndex, Counters: counters}

	serverConn, clientConn := unixConnPair(t)
	sess := New(serverConn, coord, segments, catalog.NewRegistry())

	return &fixture{session: sess, clientFD: clientConn}
}

func unixConnPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)
	fa := os.NewFile(uintptr(fds[0]), "a")
	fb := os.NewFile(uintptr(fds[1]), "b")
	defer fa.Close()
	defer fb.Close()
	ca, err := net.FileConn(fa)
	require.NoError(t, err)
	cb, err := net.FileConn(fb)
	require.NoError(t, err)
	return ca.(*net.UnixConn), cb.(*net.UnixConn)
}

func send(t *testing.T, conn *net.UnixConn, event protocol.Event, disc protocol.Discriminant, payload []byte, fds []int) {
	t.Helper()
	buf, err := protocol.Encode(protocol.Header{Kind: protocol.KindRequest, Event: event, Discriminant: disc}, payload)
	require.NoError(t, err)
	require.NoError(t, protocol.SendWithFDs(conn, buf, fds))
}

func recv(t *testing.T, conn *net.UnixConn) (protocol.Header, []byte, []int) {
	t.Helper()
	data, fds, err := protocol.RecvWithFDs(conn, protocol.MaxDatagramSize)
	require.NoError(t, err)
	hdr, payload, err := protocol.Decode(data)
	require.NoError(t, err)
	return hdr, payload, fds
}

func TestConnectHandshakeHandsOutSegmentFDs(t *testing.T) {
	f := newFixture(t)
	go f.session.Run()

	send(t, f.clientFD, protocol.EventConnect, protocol.DiscNone, nil, nil)
	hdr, _, fds := recv(t, f.clientFD)

	assert.Equal(t, protocol.KindReply, hdr.Kind)
	assert.Equal(t, protocol.EventConnect, hdr.Event)
	require.Len(t, fds, 5)
	for _, fd := range fds {
		unix.Close(fd)
	}

	send(t, f.clientFD, protocol.EventClientShutdown, protocol.DiscNone, nil, nil)
}

func TestBeginCommitHappyPath(t *testing.T) {
	f := newFixture(t)
	go f.session.Run()

	send(t, f.clientFD, protocol.EventConnect, protocol.DiscNone, nil, nil)
	_, _, connectFDs := recv(t, f.clientFD)
	for _, fd := range connectFDs {
		unix.Close(fd)
	}

	send(t, f.clientFD, protocol.EventBeginTxn, protocol.DiscNone, nil, nil)
	hdr, payload, fds := recv(t, f.clientFD)
	assert.Equal(t, protocol.EventBeginTxn, hdr.Event)
	require.Len(t, fds, 1) // cursor socket, empty log-fd stream
	unix.Close(fds[0])
	beginTS := binary.LittleEndian.Uint64(payload)
	assert.NotZero(t, beginTS)

	// Build and seal an empty log to submit (no mutations needed for this
	// happy-path check).
	logFD := sealEmptyLog(t)
	send(t, f.clientFD, protocol.EventCommitTxn, protocol.DiscNone, nil, []int{logFD})
	hdr, payload, _ = recv(t, f.clientFD)
	assert.Equal(t, protocol.EventDecideTxnCommit, hdr.Event)
	commitTS := binary.LittleEndian.Uint64(payload)
	assert.Greater(t, commitTS, beginTS)
}

func TestRollbackThenDisconnect(t *testing.T) {
	f := newFixture(t)
	go f.session.Run()

	send(t, f.clientFD, protocol.EventConnect, protocol.DiscNone, nil, nil)
	_, _, connectFDs := recv(t, f.clientFD)
	for _, fd := range connectFDs {
		unix.Close(fd)
	}

	send(t, f.clientFD, protocol.EventBeginTxn, protocol.DiscNone, nil, nil)
	_, _, fds := recv(t, f.clientFD)
	unix.Close(fds[0])

	send(t, f.clientFD, protocol.EventRollbackTxn, protocol.DiscNone, nil, nil)
	send(t, f.clientFD, protocol.EventClientShutdown, protocol.DiscNone, nil, nil)
}

func TestInvalidTransitionTearsDownSession(t *testing.T) {
	f := newFixture(t)
	go f.session.Run()

	// COMMIT_TXN is invalid from CONNECTED (no BEGIN yet).
	send(t, f.clientFD, protocol.EventConnect, protocol.DiscNone, nil, nil)
	_, _, connectFDs := recv(t, f.clientFD)
	for _, fd := range connectFDs {
		unix.Close(fd)
	}

	send(t, f.clientFD, protocol.EventCommitTxn, protocol.DiscNone, nil, nil)
	hdr, _, _ := recv(t, f.clientFD)
	assert.Equal(t, protocol.KindError, hdr.Kind)
}

func TestRequestMemoryCarvesRegion(t *testing.T) {
	f := newFixture(t)
	go f.session.Run()

	send(t, f.clientFD, protocol.EventConnect, protocol.DiscNone, nil, nil)
	_, _, connectFDs := recv(t, f.clientFD)
	for _, fd := range connectFDs {
		unix.Close(fd)
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 65536)
	send(t, f.clientFD, protocol.EventRequestMemory, protocol.DiscMemoryInfo, payload, nil)
	hdr, reply, _ := recv(t, f.clientFD)
	assert.Equal(t, protocol.EventRequestMemory, hdr.Event)
	require.Len(t, reply, 16)
	size := binary.LittleEndian.Uint64(reply[8:16])
	assert.Equal(t, uint64(65536), size)
}

func TestRequestStreamEmptyCatalogYieldsEOFCursor(t *testing.T) {
	f := newFixture(t)
	go f.session.Run()

	send(t, f.clientFD, protocol.EventConnect, protocol.DiscNone, nil, nil)
	_, _, connectFDs := recv(t, f.clientFD)
	for _, fd := range connectFDs {
		unix.Close(fd)
	}

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, 7)
	send(t, f.clientFD, protocol.EventRequestStream, protocol.DiscTableScan, payload, nil)
	hdr, _, fds := recv(t, f.clientFD)
	assert.Equal(t, protocol.EventRequestStream, hdr.Event)
	require.Len(t, fds, 1)

	cursorFile := os.NewFile(uintptr(fds[0]), "cursor")
	defer cursorFile.Close()
	cursorConn, err := net.FileConn(cursorFile)
	require.NoError(t, err)
	defer cursorConn.Close()

	buf := make([]byte, 64)
	n, err := cursorConn.Read(buf)
	assert.Zero(t, n)
	assert.Error(t, err) // EOF: producer found no ids and closed write side immediately
}

func sealEmptyLog(t *testing.T) int {
	t.Helper()
	fd, err := unix.MemfdCreate("test-empty-log", unix.MFD_ALLOW_SEALING)
	require.NoError(t, err)
	buf := make([]byte, 8) // count = 0
	require.NoError(t, unix.Ftruncate(fd, int64(len(buf))))
	_, err = unix.Pwrite(fd, buf, 0)
	require.NoError(t, err)
	require.NoError(t, unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS, unix.F_SEAL_WRITE|unix.F_SEAL_SHRINK|unix.F_SEAL_GROW))
	return fd
}
