package persist

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/gaiadb/pkg/txnlog"
	"github.com/cuemby/gaiadb/pkg/types"
)

var (
	bucketCommits   = []byte("commits")
	bucketRollbacks = []byte("rollbacks")
)

// BoltHook is the default Hook implementation: a bbolt database mirroring
// every decided transaction, keyed by big-endian commit timestamp so
// Recover can range-scan in commit order.
type BoltHook struct {
	db *bolt.DB
}

// NewBoltHook opens (creating if absent) a bbolt database under dataDir.
func NewBoltHook(dataDir string) (*BoltHook, error) {
	dbPath := filepath.Join(dataDir, "gaiadb-wal.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, types.NewIOError("bolt_open", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCommits); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketCommits, err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketRollbacks); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketRollbacks, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, types.NewIOError("bolt_init", err)
	}
	return &BoltHook{db: db}, nil
}

// Close closes the underlying database.
func (h *BoltHook) Close() error { return h.db.Close() }

func commitKey(ts types.Timestamp) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(ts))
	return k[:]
}

type commitRecord struct {
	BeginTS types.Timestamp   `json:"begin_ts"`
	Records []txnlog.Record   `json:"records"`
}

// PrepareForWrite is a no-op for bbolt: there is no separate staging phase
// ahead of the single Update transaction AppendCommit performs.
func (h *BoltHook) PrepareForWrite(types.Timestamp) error { return nil }

// AppendCommit persists a committed transaction's records under its commit
// timestamp.
func (h *BoltHook) AppendCommit(commitTS, beginTS types.Timestamp, records []txnlog.Record) error {
	data, err := json.Marshal(commitRecord{BeginTS: beginTS, Records: records})
	if err != nil {
		return types.NewIOError("marshal_commit", err)
	}
	err = h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommits).Put(commitKey(commitTS), data)
	})
	if err != nil {
		return types.NewIOError("bolt_put_commit", err)
	}
	return nil
}

// AppendRollback records an aborted transaction's commit timestamp so
// Recover can skip it without ambiguity.
func (h *BoltHook) AppendRollback(commitTS, beginTS types.Timestamp) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], uint64(beginTS))
	err := h.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRollbacks).Put(commitKey(commitTS), v[:])
	})
	if err != nil {
		return types.NewIOError("bolt_put_rollback", err)
	}
	return nil
}

// Recover replays every committed record with commit_ts > lastApplied, in
// ascending commit order.
func (h *BoltHook) Recover(lastApplied types.Timestamp, apply func(commitTS, beginTS types.Timestamp, records []txnlog.Record) error) error {
	return h.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCommits).Cursor()
		start := commitKey(lastApplied + 1)
		for k, v := c.Seek(start); k != nil; k, v = c.Next() {
			commitTS := types.Timestamp(binary.BigEndian.Uint64(k))
			var rec commitRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return types.NewIOError("unmarshal_commit", err)
			}
			if err := apply(commitTS, rec.BeginTS, rec.Records); err != nil {
				return err
			}
		}
		return nil
	})
}
