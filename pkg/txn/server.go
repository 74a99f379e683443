package txn

import (
	"sync/atomic"

	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/log"
	"github.com/cuemby/gaiadb/pkg/persist"
	"github.com/cuemby/gaiadb/pkg/txninfo"
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// TriggerFunc is dispatched synchronously after a transaction is decided,
// standing in for the out-of-scope rules/trigger system. Panics inside a
// trigger are recovered and logged, never allowed to take down the session
// that decided the transaction.
type TriggerFunc func(outcome types.Decision, commitTS types.Timestamp, log *txnlog.Log)

// Coordinator is the server-side owner of a store's transaction lifecycle:
// the shared txn-info array, the counters segment (for timestamp
// allocation), the log registry, the durability hook, and any registered
// triggers (§4.3).
type Coordinator struct {
	array     *txninfo.Array
	counters  *arena.Counters
	registry  *LogRegistry
	hook      persist.Hook
	triggers  []TriggerFunc
	lastApplied uint64 // atomic, types.Timestamp
}

// NewCoordinator wires a Coordinator over an already-mapped txn-info array
// and counters segment.
func NewCoordinator(array *txninfo.Array, counters *arena.Counters, hook persist.Hook) *Coordinator {
	if hook == nil {
		hook = persist.NoopHook{}
	}
	return &Coordinator{
		array:    array,
		counters: counters,
		registry: NewLogRegistry(),
		hook:     hook,
	}
}

// OnDecide registers a trigger to run after every decision.
func (c *Coordinator) OnDecide(fn TriggerFunc) {
	c.triggers = append(c.triggers, fn)
}

// LastApplied returns the highest commit timestamp the watermark has fully
// applied and reclaimed.
func (c *Coordinator) LastApplied() types.Timestamp {
	return types.Timestamp(atomic.LoadUint64(&c.lastApplied))
}

// SetLastApplied advances the applied watermark. Called by pkg/watermark
// once it has confirmed commit_ts is decided and reclaimable.
func (c *Coordinator) SetLastApplied(ts types.Timestamp) {
	atomic.StoreUint64(&c.lastApplied, uint64(ts))
}

// Registry exposes the log registry for the watermark tracker and session
// layer's fd-streaming needs.
func (c *Coordinator) Registry() *LogRegistry { return c.registry }

// Array exposes the txn-info array for the watermark tracker's forward scan.
func (c *Coordinator) Array() *txninfo.Array { return c.array }

// Counters exposes the counters segment so the watermark tracker can bound
// its forward scan by the highest timestamp actually allocated so far.
func (c *Coordinator) Counters() *arena.Counters { return c.counters }

// Begin allocates a begin timestamp and computes the snapshot's log-fd
// stream: every decided-committed commit_ts since last_applied_commit_ts,
// forcing validation of any undecided predecessor along the way (§4.3
// steps 2-3).
func (c *Coordinator) Begin() (types.Timestamp, []*txnlog.Log, error) {
	var beginTS types.Timestamp
	for {
		beginTS = c.counters.NextTxnID()
		if err := c.array.InitBegin(beginTS); err == nil {
			break
		}
	}
	logs, err := c.windowLogs(c.LastApplied(), beginTS)
	if err != nil {
		return 0, nil, err
	}
	return beginTS, logs, nil
}

func (c *Coordinator) windowLogs(lastApplied, beginTS types.Timestamp) ([]*txnlog.Log, error) {
	var logs []*txnlog.Log
	for ts := lastApplied + 1; ts < beginTS; ts++ {
		word := c.array.Load(ts)
		if txninfo.IsUnknown(word) {
			_ = c.array.Invalidate(ts)
			continue
		}
		if !txninfo.IsCommit(word) || txninfo.IsInvalid(word) {
			continue
		}
		if !txninfo.IsDecided(word) {
			innerBeginTS := txninfo.Paired(word)
			innerLogFD := txninfo.LogFD(word)
			innerLog, ok := c.registry.Get(ts)
			if !ok {
				continue
			}
			decision, err := Validate(c.array, c.registry, innerBeginTS, ts, innerLog.Records())
			if err != nil {
				return nil, err
			}
			if err := c.array.Decide(ts, innerBeginTS, innerLogFD, decision); err != nil {
				return nil, err
			}
			c.dispatch(decision, ts, innerLog)
			word = c.array.Load(ts)
		}
		if txninfo.Status(word) == txninfo.StateCommitted {
			if l, ok := c.registry.Get(ts); ok {
				logs = append(logs, l)
			}
		}
	}
	return logs, nil
}

// Submit runs the full commit flow for a sealed log against beginTS (§4.3
// steps 1-6).
func (c *Coordinator) Submit(beginTS types.Timestamp, log *txnlog.Log) (types.Timestamp, types.Decision, error) {
	if !log.Sealed() {
		return 0, types.DecisionPending, types.NewProtocolError("submit_unsealed_log", nil)
	}
	commitTS := c.counters.NextTxnID()
	logFD := log.FD()

	if err := c.array.RegisterLog(commitTS, beginTS, logFD); err != nil {
		return commitTS, types.DecisionAborted, nil // fenced: reply DECIDE_ABORT
	}
	c.registry.Register(commitTS, log)

	if err := c.hook.PrepareForWrite(commitTS); err != nil {
		return 0, types.DecisionPending, err
	}

	if err := c.array.SetSubmitted(beginTS, commitTS); err != nil {
		// Our own begin slot was fenced out from under us; still must
		// decide the commit slot we just registered.
		if derr := c.array.Decide(commitTS, beginTS, logFD, types.DecisionAborted); derr != nil {
			return commitTS, types.DecisionPending, derr
		}
		c.dispatch(types.DecisionAborted, commitTS, log)
		return commitTS, types.DecisionAborted, nil
	}

	records := log.Records()
	decision, err := Validate(c.array, c.registry, beginTS, commitTS, records)
	if err != nil {
		return commitTS, types.DecisionPending, err
	}
	if err := c.array.Decide(commitTS, beginTS, logFD, decision); err != nil {
		return commitTS, types.DecisionPending, err
	}

	if decision == types.DecisionCommitted {
		if err := c.hook.AppendCommit(commitTS, beginTS, records); err != nil {
			return commitTS, decision, err
		}
	} else {
		if err := c.hook.AppendRollback(commitTS, beginTS); err != nil {
			return commitTS, decision, err
		}
	}
	c.dispatch(decision, commitTS, log)
	return commitTS, decision, nil
}

// Rollback terminates a transaction that never submits (§4.3).
func (c *Coordinator) Rollback(beginTS types.Timestamp) error {
	return c.array.SetTerminated(beginTS)
}

func (c *Coordinator) dispatch(decision types.Decision, commitTS types.Timestamp, log *txnlog.Log) {
	for _, fn := range c.triggers {
		c.runTrigger(fn, decision, commitTS, log)
	}
}

func (c *Coordinator) runTrigger(fn TriggerFunc, decision types.Decision, commitTS types.Timestamp, log *txnlog.Log) {
	defer func() {
		if r := recover(); r != nil {
			logTriggerPanic(commitTS, r)
		}
	}()
	fn(decision, commitTS, log)
}

// logTriggerPanic records a panic recovered from a trigger.
func logTriggerPanic(commitTS types.Timestamp, r interface{}) {
	l := log.WithComponent("txn")
	l.Error().Uint64("commit_ts", uint64(commitTS)).Interface("panic", r).Msg("trigger panicked")
}
