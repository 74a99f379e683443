package persist

import (
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// Hook is the durability collaborator a committing transaction calls after
// validation decides its outcome. Implementations must not block the
// in-memory decision: PrepareForWrite runs before the decision is known,
// AppendCommit/AppendRollback run after, and a slow or failing hook only
// ever delays or loses durability, never correctness of TS[] (§4.3, §6).
type Hook interface {
	// PrepareForWrite is called once register_log succeeds, before
	// validation, so the hook can stage whatever it needs (e.g. open a WAL
	// segment) concurrently with validation.
	PrepareForWrite(commitTS types.Timestamp) error

	// AppendCommit persists a committed transaction's records.
	AppendCommit(commitTS, beginTS types.Timestamp, records []txnlog.Record) error

	// AppendRollback records that a transaction aborted, for WAL
	// implementations that need a contiguous sequence number space.
	AppendRollback(commitTS, beginTS types.Timestamp) error

	// Recover replays whatever has already been persisted, used at server
	// start to rebuild a fresh shared-memory image. lastApplied is the
	// highest commit timestamp recovery should consider already reflected
	// in the caller's state.
	Recover(lastApplied types.Timestamp, apply func(commitTS, beginTS types.Timestamp, records []txnlog.Record) error) error
}

// NoopHook discards everything. Useful for tests and for an explicitly
// durability-free deployment.
type NoopHook struct{}

func (NoopHook) PrepareForWrite(types.Timestamp) error { return nil }
func (NoopHook) AppendCommit(types.Timestamp, types.Timestamp, []txnlog.Record) error {
	return nil
}
func (NoopHook) AppendRollback(types.Timestamp, types.Timestamp) error { return nil }
func (NoopHook) Recover(types.Timestamp, func(types.Timestamp, types.Timestamp, []txnlog.Record) error) error {
	return nil
}
