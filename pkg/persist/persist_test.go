package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

func TestBoltHookCommitAndRecover(t *testing.T) {
	h, err := NewBoltHook(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	recs := []txnlog.Record{{Locator: 1, NewOffset: 64, Op: types.OpCreate}}
	require.NoError(t, h.PrepareForWrite(10))
	require.NoError(t, h.AppendCommit(10, 5, recs))
	require.NoError(t, h.AppendRollback(11, 6))

	var replayed []types.Timestamp
	err = h.Recover(0, func(commitTS, beginTS types.Timestamp, records []txnlog.Record) error {
		replayed = append(replayed, commitTS)
		assert.Equal(t, types.Timestamp(5), beginTS)
		assert.Equal(t, recs, records)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []types.Timestamp{10}, replayed)
}

func TestBoltHookRecoverSkipsAlreadyApplied(t *testing.T) {
	h, err := NewBoltHook(t.TempDir())
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.AppendCommit(10, 5, nil))
	require.NoError(t, h.AppendCommit(20, 15, nil))

	var replayed []types.Timestamp
	err = h.Recover(10, func(commitTS, _ types.Timestamp, _ []txnlog.Record) error {
		replayed = append(replayed, commitTS)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []types.Timestamp{20}, replayed)
}

func TestNoopHook(t *testing.T) {
	var h NoopHook
	assert.NoError(t, h.PrepareForWrite(1))
	assert.NoError(t, h.AppendCommit(1, 0, nil))
	assert.NoError(t, h.AppendRollback(1, 0))
	assert.NoError(t, h.Recover(0, nil))
}
