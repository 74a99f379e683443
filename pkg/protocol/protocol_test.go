package protocol

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

func TestWireRoundTrip(t *testing.T) {
	buf, err := Encode(Header{Kind: KindRequest, Event: EventBeginTxn}, []byte("payload"))
	require.NoError(t, err)

	h, data, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, KindRequest, h.Kind)
	assert.Equal(t, EventBeginTxn, h.Event)
	assert.Equal(t, "payload", string(data))
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, _, err := Decode([]byte{1, 2})
	var pe *types.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Header{}, make([]byte, MaxDatagramSize-HeaderSize+1))
	var pe *types.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from  State
		event Event
		want  State
	}{
		{StateDisconnected, EventConnect, StateConnected},
		{StateConnected, EventBeginTxn, StateTxnInProgress},
		{StateTxnInProgress, EventRollbackTxn, StateConnected},
		{StateTxnInProgress, EventCommitTxn, StateTxnCommitting},
		{StateTxnCommitting, EventDecideTxnCommit, StateConnected},
		{StateTxnCommitting, EventDecideTxnAbort, StateConnected},
		{StateTxnInProgress, EventRequestMemory, StateTxnInProgress},
		{StateConnected, EventClientShutdown, StateDisconnected},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.event)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestInvalidTransitionIsFatal(t *testing.T) {
	_, err := Transition(StateConnected, EventCommitTxn)
	var pe *types.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

// unixConnPair returns a connected pair of *net.UnixConn backed by a
// SOCK_SEQPACKET socketpair, the same transport the real session protocol
// rides on.
func unixConnPair(t *testing.T) (*net.UnixConn, *net.UnixConn) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	require.NoError(t, err)

	fa := os.NewFile(uintptr(fds[0]), "sockA")
	fb := os.NewFile(uintptr(fds[1]), "sockB")
	defer fa.Close()
	defer fb.Close()

	ca, err := net.FileConn(fa)
	require.NoError(t, err)
	cb, err := net.FileConn(fb)
	require.NoError(t, err)

	return ca.(*net.UnixConn), cb.(*net.UnixConn)
}

func TestSendRecvWithFDs(t *testing.T) {
	a, b := unixConnPair(t)
	defer a.Close()
	defer b.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, SendWithFDs(a, []byte("hi"), []int{int(r.Fd())}))
	r.Close()

	data, fds, err := RecvWithFDs(b, MaxDatagramSize)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	require.Len(t, fds, 1)
	defer unix.Close(fds[0])
}

func TestSendRecvWithoutFDs(t *testing.T) {
	a, b := unixConnPair(t)
	defer a.Close()
	defer b.Close()

	require.NoError(t, SendWithFDs(a, []byte("no-fds"), nil))
	data, fds, err := RecvWithFDs(b, MaxDatagramSize)
	require.NoError(t, err)
	assert.Equal(t, "no-fds", string(data))
	assert.Empty(t, fds)
}

func TestSendWithFDsRejectsTooMany(t *testing.T) {
	a, b := unixConnPair(t)
	defer a.Close()
	defer b.Close()

	fds := make([]int, MaxFDsPerMessage+1)
	err := SendWithFDs(a, []byte("x"), fds)
	var pe *types.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestCloseAllCollectsFirstError(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	good := int(r.Fd())
	bad := 99999
	w.Close()

	err = CloseAll([]int{good, bad})
	assert.Error(t, err)
}
