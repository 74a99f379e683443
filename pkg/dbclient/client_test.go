package dbclient

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/gaiadb/pkg/arena"
	"github.com/cuemby/gaiadb/pkg/catalog"
	"github.com/cuemby/gaiadb/pkg/persist"
	"github.com/cuemby/gaiadb/pkg/session"
	"github.com/cuemby/gaiadb/pkg/txn"
	"github.com/cuemby/gaiadb/pkg/txninfo"
	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

// listenAndServe starts a one-shot session-protocol listener backed by a
// fresh set of shared-memory segments, mirroring pkg/server's wiring
// without pulling in the whole Server type.
func listenAndServe(t *testing.T) (addr string, coord *txn.Coordinator) {
	t.Helper()

	counters, err := arena.NewCounters()
	require.NoError(t, err)
	dataArena, err := arena.NewDataArena(1 << 22)
	require.NoError(t, err)
	idIndex, err := arena.NewIDIndex(4096)
	require.NoError(t, err)
	locators, err := arena.NewLocatorTable(4096)
	require.NoError(t, err)
	array, err := txninfo.NewArray(12)
	require.NoError(t, err)

	coord = txn.NewCoordinator(array, counters, persist.NoopHook{})
	segments := &session.Segments{Data: dataArena, Locators: locators, IDIndex: idIndex, Counters: counters}
	cat := catalog.NewRegistry()
	coord.OnDecide(func(types.Decision, types.Timestamp, *txnlog.Log) {})

	sockPath := filepath.Join(t.TempDir(), "gaiadb.sock")
	l, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: sockPath, Net: "unixpacket"})
	require.NoError(t, err)

	go func() {
		for {
			conn, err := l.AcceptUnix()
			if err != nil {
				return
			}
			sess := session.New(conn, coord, segments, cat)
			go sess.Run()
		}
	}()
	t.Cleanup(func() { l.Close() })

	return sockPath, coord
}

func TestDialBeginCreateCommit(t *testing.T) {
	addr, _ := listenAndServe(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	tx, err := c.Begin()
	require.NoError(t, err)

	id, locator, err := tx.Create(7, []byte("hello"))
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.NotZero(t, locator)

	commitTS, decision, err := c.Commit(tx)
	require.NoError(t, err)
	assert.Equal(t, types.DecisionCommitted, decision)
	assert.NotZero(t, commitTS)

	assert.Equal(t, locator, c.Lookup(id))
}

func TestDialBeginRollback(t *testing.T) {
	addr, _ := listenAndServe(t)

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	tx, err := c.Begin()
	require.NoError(t, err)
	_, _, err = tx.Create(3, []byte("abandoned"))
	require.NoError(t, err)

	require.NoError(t, c.Rollback(tx))
}

func TestCommitConflictAborts(t *testing.T) {
	addr, _ := listenAndServe(t)

	a, err := Dial(addr)
	require.NoError(t, err)
	defer a.Close()
	b, err := Dial(addr)
	require.NoError(t, err)
	defer b.Close()

	txA, err := a.Begin()
	require.NoError(t, err)
	id, locator, err := txA.Create(1, []byte("v1"))
	require.NoError(t, err)
	_, _, err = a.Commit(txA)
	require.NoError(t, err)

	txB, err := b.Begin()
	require.NoError(t, err)
	require.NoError(t, txB.Update(locator, 1, id, []byte("from-b")))

	txC, err := a.Begin()
	require.NoError(t, err)
	require.NoError(t, txC.Update(locator, 1, id, []byte("from-c")))
	_, _, err = a.Commit(txC)
	require.NoError(t, err)

	_, _, err = b.Commit(txB)
	assert.Error(t, err)
}
