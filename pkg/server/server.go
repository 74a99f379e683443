package server

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/catalog"
	"github.com/cuemby/gaiadb/pkg/log"
	"github.com/cuemby/gaiadb/pkg/metrics"
	"github.com/cuemby/gaiadb/pkg/persist"
	"github.com/cuemby/gaiadb/pkg/session"
	"github.com/cuemby/gaiadb/pkg/txn"
	"github.com/cuemby/gaiadb/pkg/txninfo"
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
	"github.com/cuemby/gaiadb/pkg/watermark"
)

var serverLog = log.WithComponent("server")

// Server owns the shared-memory segments, the transaction coordinator and
// the accept loop that hands each connection off to its own session.
type Server struct {
	cfg *Config

	data      *arena.DataArena
	locators  *arena.LocatorTable
	counters  *arena.Counters
	idIndex   *arena.IDIndex
	array     *txninfo.Array
	coord     *txn.Coordinator
	watermark *watermark.Tracker
	hook      *persist.BoltHook
	catalog   *catalog.Registry

	listener *net.UnixListener
	wg       sync.WaitGroup
	sessions int64
}

// New constructs a Server from cfg, allocating every shared-memory segment
// and recovering persisted state. Listen must be called separately to
// start accepting connections.
func New(cfg *Config) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := arena.NewDataArena(cfg.ArenaBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create data arena: %w", err)
	}
	locators, err := arena.NewLocatorTable(cfg.LocatorCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create locator table: %w", err)
	}
	counters, err := arena.NewCounters()
	if err != nil {
		return nil, fmt.Errorf("failed to create counters segment: %w", err)
	}
	idIndex, err := arena.NewIDIndex(cfg.IDIndexOverflowSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create id index: %w", err)
	}
	array, err := txninfo.NewArray(cfg.TxnInfoBits)
	if err != nil {
		return nil, fmt.Errorf("failed to create txn-info array: %w", err)
	}
	hook, err := persist.NewBoltHook(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open persistence hook: %w", err)
	}

	coord := txn.NewCoordinator(array, counters, hook)
	tracker := watermark.NewTracker(array, coord, cfg.WatermarkInterval())

	s := &Server{
		cfg:       cfg,
		data:      data,
		locators:  locators,
		counters:  counters,
		idIndex:   idIndex,
		array:     array,
		coord:     coord,
		watermark: tracker,
		hook:      hook,
		catalog:   catalog.NewRegistry(),
	}

	coord.OnDecide(func(outcome types.Decision, commitTS types.Timestamp, log *txnlog.Log) {
		if outcome != types.DecisionCommitted {
			return
		}
		for _, rec := range log.Records() {
			s.trackRecord(rec)
		}
	})

	if err := s.recover(); err != nil {
		return nil, fmt.Errorf("failed to recover persisted state: %w", err)
	}

	return s, nil
}

// recover replays everything the persistence hook has recorded since the
// coordinator's last-applied watermark, rebuilding catalog tracking for
// each replayed record the same way a live commit's trigger would
// (§4.6 "Recovery").
func (s *Server) recover() error {
	return s.hook.Recover(s.coord.LastApplied(), func(commitTS, beginTS types.Timestamp, records []txnlog.Record) error {
		for _, rec := range records {
			s.trackRecord(rec)
		}
		s.coord.SetLastApplied(commitTS)
		return nil
	})
}

// trackRecord updates the catalog registry for a single decided log record,
// reading the object header the record points at to recover its type id
// (not carried in the record itself). Shared between recover and the
// decide-time trigger wired in New.
func (s *Server) trackRecord(rec txnlog.Record) {
	switch rec.Op {
	case types.OpCreate, types.OpUpdate, types.OpClone, types.OpAddReference, types.OpRemoveReference:
		hdr, _, err := s.data.ReadObject(rec.NewOffset)
		if err != nil {
			return
		}
		s.catalog.Track(hdr.Type, rec.Locator, true)
	case types.OpRemove:
		if rec.OldOffset == 0 {
			return
		}
		hdr, _, err := s.data.ReadObject(rec.OldOffset)
		if err != nil {
			return
		}
		s.catalog.Track(hdr.Type, rec.Locator, false)
	}
}

// segments bundles the four shared-memory segments into a
// session.Segments for handoff to a new session.
func (s *Server) segments() *session.Segments {
	return &session.Segments{
		Data:     s.data,
		Locators: s.locators,
		IDIndex:  s.idIndex,
		Counters: s.counters,
	}
}

// Listen opens the SEQPACKET socket at cfg.SocketPath, removing any stale
// socket file left behind by a previous, uncleanly terminated process.
func (s *Server) Listen() error {
	_ = os.Remove(s.cfg.SocketPath)
	addr, err := net.ResolveUnixAddr("unixpacket", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to resolve socket address: %w", err)
	}
	l, err := net.ListenUnix("unixpacket", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	s.listener = l
	s.watermark.Start()
	serverLog.Info().Str("socket", s.cfg.SocketPath).Msg("listening")
	return nil
}

// Serve accepts connections until the listener is closed, spawning one
// session goroutine per connection.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.AcceptUnix()
		if err != nil {
			return err
		}
		atomic.AddInt64(&s.sessions, 1)
		metrics.SessionsActive.Inc()
		sess := session.New(conn, s.coord, s.segments(), s.catalog)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer atomic.AddInt64(&s.sessions, -1)
			defer metrics.SessionsActive.Dec()
			sess.Run()
		}()
	}
}

// Shutdown stops accepting connections, waits for in-flight sessions to
// drain, and releases every shared-memory segment.
func (s *Server) Shutdown() error {
	s.watermark.Stop()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()
	_ = s.data.Close()
	_ = s.locators.Close()
	_ = s.counters.Close()
	_ = s.idIndex.Close()
	_ = s.hook.Close()
	_ = os.Remove(s.cfg.SocketPath)
	return err
}

// ArenaBytesUsed implements metrics.Source.
func (s *Server) ArenaBytesUsed() uint64 { return s.data.Used() }

// LocatorsAllocated implements metrics.Source.
func (s *Server) LocatorsAllocated() uint64 { return uint64(s.counters.LastLocator()) }

// IDIndexEntries implements metrics.Source.
func (s *Server) IDIndexEntries() uint64 { return s.idIndex.EntryCount() }

// Watermark implements metrics.Source.
func (s *Server) Watermark() uint64 { return uint64(s.watermark.Watermark()) }

// LastAppliedCommitTS implements metrics.Source.
func (s *Server) LastAppliedCommitTS() uint64 { return uint64(s.coord.LastApplied()) }
