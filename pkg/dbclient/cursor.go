package dbclient

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"

	"github.com/cuemby/gaiadb/pkg/protocol"
	"github.com/cuemby/gaiadb/pkg/types"
)

// recvFDStream drains a cursor socket (handed over SCM_RIGHTS) of its
// batched, reversed fd stream until the server shuts its write side down,
// restoring each batch's original append order (§4.5 "Stream producers").
func recvFDStream(cursorFD int) ([]int, error) {
	conn, err := wrapCursorFD(cursorFD)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var out []int
	for {
		data, fds, err := protocol.RecvWithFDs(conn, protocol.MaxDatagramSize)
		if err != nil {
			if isCursorEOF(err) {
				break
			}
			return nil, err
		}
		if len(data) == 0 && len(fds) == 0 {
			break
		}
		for i := len(fds) - 1; i >= 0; i-- {
			out = append(out, fds[i])
		}
	}
	return out, nil
}

// recvIDStream drains a cursor socket of its batched, reversed GaiaID
// stream (no fds, no per-batch count header — each datagram is a flat run
// of 8-byte little-endian ids), restoring original append order.
func recvIDStream(cursorFD int) ([]types.GaiaID, error) {
	conn, err := wrapCursorFD(cursorFD)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var out []types.GaiaID
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if isCursorEOF(err) {
				break
			}
			return nil, types.NewIOError("read", err)
		}
		if n == 0 {
			break
		}
		batch := make([]types.GaiaID, n/8)
		for i := range batch {
			batch[i] = types.GaiaID(binary.LittleEndian.Uint64(buf[i*8 : i*8+8]))
		}
		for i := len(batch) - 1; i >= 0; i-- {
			out = append(out, batch[i])
		}
	}
	return out, nil
}

func isCursorEOF(err error) bool {
	if err == io.EOF {
		return true
	}
	var ioErr *types.IOError
	if errors.As(err, &ioErr) {
		return errors.Is(ioErr.Unwrap(), io.EOF)
	}
	return false
}

func wrapCursorFD(fd int) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), "cursor-client")
	c, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, types.NewIOError("filecon", err)
	}
	return c.(*net.UnixConn), nil
}
