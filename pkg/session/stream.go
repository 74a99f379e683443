package session

import (
	"encoding/binary"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/metrics"
	"github.com/cuemby/gaiadb/pkg/protocol"
	"github.com/cuemby/gaiadb/pkg/types"
)

// cursorBatchSize is the batch size named in spec.md §8's cursor-EOF
// scenario ("exactly BATCH_SIZE = 1024 objects").
const cursorBatchSize = 1024

// newCursorSocketpair creates a connected SEQPACKET pair, wrapping one end
// as a *net.UnixConn for the server-owned producer and returning the raw fd
// of the other end for ancillary transmission to the client.
func newCursorSocketpair() (*net.UnixConn, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, 0, types.NewIOError("socketpair", err)
	}
	f := os.NewFile(uintptr(fds[0]), "cursor-server")
	c, err := net.FileConn(f)
	f.Close()
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, 0, types.NewIOError("filecon", err)
	}
	return c.(*net.UnixConn), fds[1], nil
}

// startFDStream spawns a producer goroutine that pushes fds over a fresh
// cursor socket in reversed batches of at most protocol.MaxFDsPerMessage
// fds (one SCM_RIGHTS message each), closing the write side once exhausted (§4.5 "Stream producers"). It returns the fd to hand
// to the client over SCM_RIGHTS.
func (s *Session) startFDStream(fds []int) (int, error) {
	serverConn, clientFD, err := newCursorSocketpair()
	if err != nil {
		return 0, err
	}
	s.wg.Add(1)
	go s.runFDProducer(serverConn, fds)
	return clientFD, nil
}

func (s *Session) runFDProducer(conn *net.UnixConn, fds []int) {
	defer s.wg.Done()
	defer conn.Close()

	batchSize := protocol.MaxFDsPerMessage
	for start := 0; start < len(fds); start += batchSize {
		end := start + batchSize
		if end > len(fds) {
			end = len(fds)
		}
		batch := reverseFDs(fds[start:end])

		select {
		case <-s.stopCh:
			return
		default:
		}

		header := make([]byte, 2)
		binary.LittleEndian.PutUint16(header, uint16(len(batch)))
		if err := protocol.SendWithFDs(conn, header, batch); err != nil {
			s.log.Warn().Err(err).Msg("fd stream producer write failed")
			return
		}
		metrics.StreamBatchesSentTotal.Inc()
	}
	_ = conn.CloseWrite()
}

// startIDStream spawns a producer goroutine streaming object ids (a
// catalog type-scan cursor, §6 "id_generator_for_type") in the same
// batched, reversed, SHUT_WR-terminated shape as startFDStream.
func (s *Session) startIDStream(ids []types.GaiaID) (int, error) {
	serverConn, clientFD, err := newCursorSocketpair()
	if err != nil {
		return 0, err
	}
	s.wg.Add(1)
	go s.runIDProducer(serverConn, ids)
	return clientFD, nil
}

func (s *Session) runIDProducer(conn *net.UnixConn, ids []types.GaiaID) {
	defer s.wg.Done()
	defer conn.Close()

	for start := 0; start < len(ids); start += cursorBatchSize {
		end := start + cursorBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := reverseIDs(ids[start:end])

		select {
		case <-s.stopCh:
			return
		default:
		}

		buf := make([]byte, len(batch)*8)
		for i, id := range batch {
			binary.LittleEndian.PutUint64(buf[i*8:(i+1)*8], uint64(id))
		}
		if _, _, err := conn.WriteMsgUnix(buf, nil, nil); err != nil {
			s.log.Warn().Err(err).Msg("id stream producer write failed")
			return
		}
		metrics.StreamBatchesSentTotal.Inc()
	}
	_ = conn.CloseWrite()
}

func reverseFDs(in []int) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func reverseIDs(in []types.GaiaID) []types.GaiaID {
	out := make([]types.GaiaID, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
