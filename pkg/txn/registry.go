package txn

import (
	"sync"

	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// LogRegistry maps an in-flight or decided commit timestamp to its sealed
// log. The server keeps a log's fd (and this entry) open until the
// watermark advances past its commit timestamp (§3, §4.6).
type LogRegistry struct {
	mu   sync.RWMutex
	logs map[types.Timestamp]*txnlog.Log
}

// NewLogRegistry creates an empty registry.
func NewLogRegistry() *LogRegistry {
	return &LogRegistry{logs: make(map[types.Timestamp]*txnlog.Log)}
}

// Register associates commitTS with log. Called once, when the log is
// accepted by register_log.
func (r *LogRegistry) Register(commitTS types.Timestamp, log *txnlog.Log) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs[commitTS] = log
}

// Get returns the log registered for commitTS, if any.
func (r *LogRegistry) Get(commitTS types.Timestamp) (*txnlog.Log, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[commitTS]
	return l, ok
}

// Forget drops a commit timestamp's log once the watermark has passed it,
// closing its fd.
func (r *LogRegistry) Forget(commitTS types.Timestamp) {
	r.mu.Lock()
	l, ok := r.logs[commitTS]
	delete(r.logs, commitTS)
	r.mu.Unlock()
	if ok {
		_ = l.Close()
	}
}

// Snapshot returns every commit timestamp currently registered, for the
// watermark tracker's forward scan.
func (r *LogRegistry) Snapshot() []types.Timestamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Timestamp, 0, len(r.logs))
	for ts := range r.logs {
		out = append(out, ts)
	}
	return out
}
