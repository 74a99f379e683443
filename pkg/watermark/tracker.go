package watermark

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/gaiadb/pkg/log"
	"github.com/cuemby/gaiadb/pkg/metrics"
	"github.com/cuemby/gaiadb/pkg/txn"
	"github.com/cuemby/gaiadb/pkg/txninfo"
	"github.com/cuemby/gaiadb/pkg/types"
)

// Tracker advances the oldest-live-transaction watermark and reclaims the
// resources that fall behind it (§4.6).
type Tracker struct {
	array    *txninfo.Array
	coord    *txn.Coordinator
	watermark uint64 // atomic types.Timestamp
	interval time.Duration

	mu      sync.Mutex
	stopped chan struct{}
	done    chan struct{}
}

// NewTracker creates a Tracker that advances every interval when Start is
// called.
func NewTracker(array *txninfo.Array, coord *txn.Coordinator, interval time.Duration) *Tracker {
	return &Tracker{array: array, coord: coord, interval: interval}
}

// Watermark returns the current watermark.
func (t *Tracker) Watermark() types.Timestamp {
	return types.Timestamp(atomic.LoadUint64(&t.watermark))
}

// Start launches the periodic advance loop.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped != nil {
		return
	}
	t.stopped = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop()
}

// Stop halts the advance loop and waits for it to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	stopped, done := t.stopped, t.done
	t.mu.Unlock()
	if stopped == nil {
		return
	}
	close(stopped)
	<-done
}

func (t *Tracker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopped:
			return
		case <-ticker.C:
			t.Advance()
		}
	}
}

// Advance walks TS[] forward from the current watermark toward the highest
// allocated timestamp, stopping at the first begin slot that is still
// ACTIVE or SUBMITTED (still live, or still mid-commit). Every decided
// commit slot it passes has its log forgotten from the registry and its
// txn-info page range returned to the OS.
func (t *Tracker) Advance() types.Timestamp {
	from := t.Watermark()
	high := t.coord.Counters().LastTxnID() + 1

	newWatermark := from
	for ts := from + 1; ts < high; ts++ {
		word := t.array.Load(ts)
		if txninfo.IsUnknown(word) || txninfo.IsInvalid(word) {
			newWatermark = ts
			continue
		}
		if !txninfo.IsCommit(word) {
			// Begin entry: ACTIVE or SUBMITTED block the advance.
			status := txninfo.Status(word)
			if status == txninfo.StateActive || status == txninfo.StateSubmitted {
				break
			}
			newWatermark = ts
			continue
		}
		if !txninfo.IsDecided(word) {
			break // still validating; can't pass it yet
		}
		t.coord.Registry().Forget(ts)
		metrics.ReclaimedLogsTotal.Inc()
		newWatermark = ts
	}

	if newWatermark > from {
		atomic.StoreUint64(&t.watermark, uint64(newWatermark))
		t.coord.SetLastApplied(newWatermark)
		if err := t.array.MadviseFree(from, newWatermark); err != nil {
			wlog := log.WithComponent("watermark")
			wlog.Warn().Err(err).Msg("madvise free failed")
		}
		metrics.WatermarkTimestamp.Set(float64(newWatermark))
		metrics.LastAppliedCommitTimestamp.Set(float64(newWatermark))
	}
	return t.Watermark()
}
