package txnlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/gaiadb/pkg/types"
)

func TestSealSortsAndDedupsLastWriteWins(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(Record{Locator: 5, NewOffset: 1, Op: types.OpCreate}))
	require.NoError(t, l.Append(Record{Locator: 1, NewOffset: 2, Op: types.OpCreate}))
	require.NoError(t, l.Append(Record{Locator: 5, NewOffset: 3, Op: types.OpUpdate})) // supersedes locator 5

	require.NoError(t, l.Seal())
	recs := l.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, types.Locator(1), recs[0].Locator)
	assert.Equal(t, types.Locator(5), recs[1].Locator)
	assert.Equal(t, uint64(3), recs[1].NewOffset)
	assert.Equal(t, types.OpUpdate, recs[1].Op)
}

func TestAppendAfterSealFails(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()
	require.NoError(t, l.Seal())

	err = l.Append(Record{Locator: 1})
	var pe *types.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestRecordCapEnforcedAtAppend(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	l.records = make([]Record, MaxRecords) // simulate being at the cap
	err = l.Append(Record{Locator: 1})
	var re *types.ResourceError
	assert.ErrorAs(t, err, &re)
}

func TestOpenRoundTrip(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Append(Record{Locator: 9, NewOffset: 64, Op: types.OpCreate}))
	require.NoError(t, l.Seal())

	recs, err := Open(l.FD())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, types.Locator(9), recs[0].Locator)
	assert.Equal(t, uint64(64), recs[0].NewOffset)
}

func TestConflictsMergeIntersection(t *testing.T) {
	a := []Record{{Locator: 1}, {Locator: 3}, {Locator: 5}}
	b := []Record{{Locator: 2}, {Locator: 4}}
	assert.False(t, Conflicts(a, b))

	c := []Record{{Locator: 2}, {Locator: 3}}
	assert.True(t, Conflicts(a, c))
}
