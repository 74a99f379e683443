package protocol

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// MaxFDsPerMessage is the spec's ancillary-data ceiling per datagram
// (§4.5: "SCM_RIGHTS carries up to 16 fds per message").
const MaxFDsPerMessage = 16

// SendWithFDs writes data as one SEQPACKET datagram carrying fds as
// SCM_RIGHTS ancillary data.
func SendWithFDs(conn *net.UnixConn, data []byte, fds []int) error {
	if len(fds) > MaxFDsPerMessage {
		return types.NewProtocolError("too_many_fds", nil)
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	_, _, err := conn.WriteMsgUnix(data, oob, nil)
	if err != nil {
		return types.NewIOError("sendmsg", err)
	}
	return nil
}

// RecvWithFDs reads one datagram and returns its data plus any fds carried
// as SCM_RIGHTS ancillary data.
func RecvWithFDs(conn *net.UnixConn, maxData int) (data []byte, fds []int, err error) {
	data = make([]byte, maxData)
	oob := make([]byte, unix.CmsgSpace(MaxFDsPerMessage*4))
	n, oobn, _, _, rerr := conn.ReadMsgUnix(data, oob)
	if rerr != nil {
		return nil, nil, types.NewIOError("recvmsg", rerr)
	}
	data = data[:n]
	if oobn == 0 {
		return data, nil, nil
	}
	cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
	if perr != nil {
		return nil, nil, types.NewIOError("parse_control_message", perr)
	}
	for _, cmsg := range cmsgs {
		got, rerr := unix.ParseUnixRights(&cmsg)
		if rerr != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return data, fds, nil
}

// CloseAll closes every fd in fds, collecting (not short-circuiting on) the
// first error encountered.
func CloseAll(fds []int) error {
	var first error
	for _, fd := range fds {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}
