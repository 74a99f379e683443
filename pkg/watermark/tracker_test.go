package watermark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/persist"
	"github.com/cuemby/gaiadb/pkg/txn"
	"github.com/cuemby/gaiadb/pkg/txninfo"
)

func newTestCoordinator(t *testing.T) *txn.Coordinator {
	t.Helper()
	array, err := txninfo.NewArray(16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = array.Close() })

	counters, err := arena.NewCounters()
	require.NoError(t, err)
	t.Cleanup(func() { _ = counters.Close() })

	return txn.NewCoordinator(array, counters, persist.NoopHook{})
}

func TestAdvanceStopsAtActiveBegin(t *testing.T) {
	coord := newTestCoordinator(t)
	tr := NewTracker(coord.Array(), coord, time.Hour)

	beginA, _, err := coord.Begin() // stays ACTIVE forever in this test
	require.NoError(t, err)

	got := tr.Advance()
	// The watermark cannot pass beginA's still-ACTIVE slot.
	assert.Less(t, got, beginA)
}

func TestAdvancePassesTerminatedBegins(t *testing.T) {
	coord := newTestCoordinator(t)
	tr := NewTracker(coord.Array(), coord, time.Hour)

	beginA, _, err := coord.Begin()
	require.NoError(t, err)
	require.NoError(t, coord.Rollback(beginA))

	beginB, _, err := coord.Begin()
	require.NoError(t, err)
	require.NoError(t, coord.Rollback(beginB))

	got := tr.Advance()
	assert.GreaterOrEqual(t, got, beginB)
	assert.Equal(t, got, coord.LastApplied())
}

func TestStartStopDoesNotPanic(t *testing.T) {
	coord := newTestCoordinator(t)
	tr := NewTracker(coord.Array(), coord, time.Millisecond)
	tr.Start()
	time.Sleep(5 * time.Millisecond)
	tr.Stop()
}
