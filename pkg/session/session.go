package session

import (
	"encoding/binary"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/gaiadb/pkg/catalog"
	"github.com/cuemby/gaiadb/pkg/log"
	"github.com/cuemby/gaiadb/pkg/metrics"
	"github.com/cuemby/gaiadb/pkg/protocol"
	"github.com/cuemby/gaiadb/pkg/txn"
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// Session drives one client's protocol state machine over one SEQPACKET
// connection (§4.5).
type Session struct {
	id       string
	conn     *net.UnixConn
	coord    *txn.Coordinator
	segments *Segments
	catalog  *catalog.Registry

	state   protocol.State
	beginTS types.Timestamp

	stopCh chan struct{}
	wg     sync.WaitGroup
	log    zerolog.Logger
}

// New creates a session over an already-accepted connection. Run must be
// called (typically in its own goroutine) to drive it.
func New(conn *net.UnixConn, coord *txn.Coordinator, segments *Segments, cat *catalog.Registry) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		coord:    coord,
		segments: segments,
		catalog:  cat,
		state:    protocol.StateDisconnected,
		stopCh:   make(chan struct{}),
		log:      log.WithSession(id),
	}
}

// ID returns the session's identifier, used for logging and for the
// catalog/trigger hooks that want to attribute work to a session.
func (s *Session) ID() string { return s.id }

// Run drives the session's read loop until the connection closes, a fatal
// protocol error occurs, or a shutdown event is processed. It never
// returns an error: all failures are either sent back to the client as an
// ERROR reply (non-fatal categories) or end the session (protocol
// failures), matching §7's "the core never catches protocol or io errors;
// it unwinds out of the current transaction or session".
func (s *Session) Run() {
	defer s.teardown()

	for {
		data, fds, err := protocol.RecvWithFDs(s.conn, protocol.MaxDatagramSize)
		if err != nil {
			s.log.Debug().Err(err).Msg("session socket closed")
			return
		}

		hdr, payload, err := protocol.Decode(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("malformed datagram")
			return
		}

		next, terr := protocol.Transition(s.state, hdr.Event)
		if terr != nil {
			metrics.ProtocolErrorsTotal.WithLabelValues(hdr.Event.String()).Inc()
			s.sendError(hdr.Event, terr)
			return
		}

		if err := s.dispatch(hdr.Event, hdr.Discriminant, payload, fds); err != nil {
			var pe *types.ProtocolError
			if errors.As(err, &pe) {
				metrics.ProtocolErrorsTotal.WithLabelValues(hdr.Event.String()).Inc()
				s.sendError(hdr.Event, err)
				return
			}
			// Concurrency/referential/resource/io failures are fatal to
			// the current transaction only; the session lives on.
			s.sendError(hdr.Event, err)
			continue
		}

		s.state = next
		if hdr.Event == protocol.EventClientShutdown || hdr.Event == protocol.EventServerShutdown {
			return
		}
	}
}

func (s *Session) teardown() {
	close(s.stopCh)
	s.wg.Wait()
	if s.beginTS != 0 {
		// Session ending mid-transaction (socket error, malformed message,
		// or a shutdown event before COMMIT/ROLLBACK): terminate the begin
		// slot here rather than leaving it to a process-crash-style scan,
		// since a Go goroutine can always run this cleanup (§4.3's "a
		// crashed session leaves its begin_ts entry in ACTIVE or
		// SUBMITTED"; the session handler plays that role directly).
		if err := s.coord.Rollback(s.beginTS); err != nil {
			s.log.Debug().Err(err).Msg("rollback on teardown failed")
		}
	}
	_ = s.conn.Close()
}

func (s *Session) dispatch(event protocol.Event, disc protocol.Discriminant, payload []byte, fds []int) error {
	switch event {
	case protocol.EventConnect:
		return s.handleConnect()
	case protocol.EventBeginTxn:
		return s.handleBegin()
	case protocol.EventCommitTxn:
		return s.handleCommit(fds)
	case protocol.EventRollbackTxn:
		return s.handleRollback()
	case protocol.EventRequestStream:
		return s.handleRequestStream(disc, payload)
	case protocol.EventRequestMemory:
		return s.handleRequestMemory(payload)
	case protocol.EventClientShutdown, protocol.EventServerShutdown:
		return nil
	default:
		return types.NewProtocolError("unhandled_event", nil)
	}
}

func (s *Session) handleConnect() error {
	return s.reply(protocol.EventConnect, protocol.DiscNone, nil, s.segments.fds())
}

func (s *Session) handleBegin() error {
	beginTS, logs, err := s.coord.Begin()
	if err != nil {
		return err
	}
	s.beginTS = beginTS

	logFDs := make([]int, len(logs))
	for i, l := range logs {
		logFDs[i] = l.FD()
	}
	cursorFD, err := s.startFDStream(logFDs)
	if err != nil {
		return err
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(beginTS))
	metrics.TxnBeginsTotal.Inc()
	return s.reply(protocol.EventBeginTxn, protocol.DiscTxnInfo, payload, []int{cursorFD})
}

func (s *Session) handleCommit(fds []int) error {
	if len(fds) != 1 {
		return types.NewProtocolError("commit_missing_log_fd", nil)
	}
	logFile, err := txnlog.FromSealedFD(fds[0])
	if err != nil {
		return err
	}

	commitTS, decision, err := s.coord.Submit(s.beginTS, logFile)
	if err != nil {
		return err
	}

	event := protocol.EventDecideTxnCommit
	if decision == types.DecisionAborted {
		event = protocol.EventDecideTxnAbort
		metrics.TxnAbortsTotal.WithLabelValues("validation").Inc()
	} else {
		metrics.TxnCommitsTotal.Inc()
	}

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, uint64(commitTS))
	s.beginTS = 0
	return s.reply(event, protocol.DiscTxnInfo, payload, nil)
}

func (s *Session) handleRollback() error {
	metrics.TxnRollbacksTotal.Inc()
	err := s.coord.Rollback(s.beginTS)
	s.beginTS = 0
	return err
}

func (s *Session) handleRequestStream(disc protocol.Discriminant, payload []byte) error {
	if disc != protocol.DiscTableScan || len(payload) < 4 {
		return types.NewProtocolError("malformed_stream_request", nil)
	}
	typeID := types.TypeID(binary.LittleEndian.Uint32(payload[0:4]))

	var ids []types.GaiaID
	if s.catalog != nil {
		cursor := s.catalog.Cursor(typeID)
		for _, locator := range cursor.Locators() {
			offset := s.segments.Locators.Get(locator)
			if offset == 0 {
				continue
			}
			hdr, _, err := s.segments.Data.ReadObject(offset)
			if err != nil {
				continue
			}
			ids = append(ids, hdr.ID)
		}
	}

	cursorFD, err := s.startIDStream(ids)
	if err != nil {
		return err
	}
	return s.reply(protocol.EventRequestStream, protocol.DiscNone, nil, []int{cursorFD})
}

func (s *Session) handleRequestMemory(payload []byte) error {
	if len(payload) < 8 {
		return types.NewProtocolError("malformed_memory_request", nil)
	}
	hint := binary.LittleEndian.Uint64(payload[0:8])
	offset, err := s.segments.Data.CarveRegion(hint)
	if err != nil {
		return err
	}
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:8], offset)
	binary.LittleEndian.PutUint64(out[8:16], hint)
	return s.reply(protocol.EventRequestMemory, protocol.DiscMemoryInfo, out, nil)
}

func (s *Session) reply(event protocol.Event, disc protocol.Discriminant, payload []byte, fds []int) error {
	buf, err := protocol.Encode(protocol.Header{Kind: protocol.KindReply, Event: event, Discriminant: disc}, payload)
	if err != nil {
		return err
	}
	return protocol.SendWithFDs(s.conn, buf, fds)
}

func (s *Session) sendError(event protocol.Event, cause error) {
	buf, err := protocol.Encode(protocol.Header{Kind: protocol.KindError, Event: event}, []byte(cause.Error()))
	if err != nil {
		return
	}
	_ = protocol.SendWithFDs(s.conn, buf, nil)
}
