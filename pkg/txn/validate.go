package txn

import (
	"github.com/cuemby/gaiadb/pkg/txninfo"
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// Validate runs the six-step recursive commit validation algorithm for a
// committing transaction (begin_ts, commit_ts) whose log has already been
// registered under commit_ts in VALIDATING state (§4.4). It returns the
// decision but does not itself apply it to (commit_ts, begin_ts) — the
// caller (Coordinator.Submit for the top-level call, Validate itself for a
// recursive inner call) is responsible for calling array.Decide.
func Validate(array *txninfo.Array, registry *LogRegistry, beginTS, commitTS types.Timestamp, records []txnlog.Record) (types.Decision, error) {
	// Step 1: eager committed-conflict test.
	if conflictsWithCommitted(array, registry, beginTS, commitTS, records) {
		return types.DecisionAborted, nil
	}

	// Step 2: fence the conflict window so no new commit_ts can appear in
	// it from this point on.
	for ts := beginTS + 1; ts < commitTS; ts++ {
		if txninfo.IsUnknown(array.Load(ts)) {
			_ = array.Invalidate(ts) // races are expected and harmless
		}
	}

	// Step 3: find the latest undecided conflicting predecessor, scanning
	// descending.
	var lastConflictTS types.Timestamp
	found := false
	for ts := commitTS - 1; ts > beginTS; ts-- {
		word := array.Load(ts)
		if !txninfo.IsCommit(word) || txninfo.IsDecided(word) || txninfo.IsInvalid(word) {
			continue
		}
		if txninfo.Status(word) != txninfo.StateValidating {
			continue
		}
		its, ok := registry.Get(ts)
		if !ok {
			continue
		}
		if txnlog.Conflicts(its.Records(), records) {
			lastConflictTS = ts
			found = true
			break
		}
	}
	if !found {
		return types.DecisionCommitted, nil
	}

	// Step 4: rescan for conflicts with txns that decided while step 3 was
	// running.
	if conflictsWithCommitted(array, registry, beginTS, commitTS, records) {
		return types.DecisionAborted, nil
	}

	// Step 5: recursively validate every still-undecided commit_ts in
	// (begin_ts, last_conflict_ts), ascending, deciding each as it
	// resolves. If any of them committed and conflicts with our log,
	// abort.
	aborted := false
	for ts := beginTS + 1; ts < lastConflictTS; ts++ {
		word := array.Load(ts)
		if !txninfo.IsCommit(word) || txninfo.IsDecided(word) {
			continue
		}
		if txninfo.Status(word) != txninfo.StateValidating {
			continue
		}
		innerBeginTS := txninfo.Paired(word)
		innerLogFD := txninfo.LogFD(word)
		innerLog, ok := registry.Get(ts)
		if !ok {
			continue
		}
		decision, err := Validate(array, registry, innerBeginTS, ts, innerLog.Records())
		if err != nil {
			return types.DecisionPending, err
		}
		if err := array.Decide(ts, innerBeginTS, innerLogFD, decision); err != nil {
			return types.DecisionPending, err
		}
		if decision == types.DecisionCommitted && txnlog.Conflicts(innerLog.Records(), records) {
			aborted = true
		}
	}
	if aborted {
		return types.DecisionAborted, nil
	}

	// Step 6.
	return types.DecisionCommitted, nil
}

func conflictsWithCommitted(array *txninfo.Array, registry *LogRegistry, beginTS, commitTS types.Timestamp, records []txnlog.Record) bool {
	for ts := beginTS + 1; ts < commitTS; ts++ {
		word := array.Load(ts)
		if !txninfo.IsCommit(word) || txninfo.Status(word) != txninfo.StateCommitted {
			continue
		}
		other, ok := registry.Get(ts)
		if !ok {
			continue
		}
		if txnlog.Conflicts(other.Records(), records) {
			return true
		}
	}
	return false
}
