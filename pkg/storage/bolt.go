package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/atomix/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")
)

var (
	keyCurrentTerm    = []byte("currentTerm")
	keyVotedFor       = []byte("votedFor")
	keySnapshotIndex  = []byte("snapshotIndex")
	keySnapshotTerm   = []byte("snapshotTerm")
	keySnapshotTime   = []byte("snapshotTimestamp")
)

// BoltLog is a bbolt-backed Log for the disk and mapped storage levels,
// a bucket-per-entity layout applied to log segments: one bucket holds
// LogEntry values keyed by big-endian index, a second holds the
// currentTerm/votedFor/snapshot-pointer metadata that must survive a
// restart.
type BoltLog struct {
	db *bolt.DB
}

// OpenBoltLog opens (creating if absent) the bbolt file for a single
// partition's log at dataDir/<name>.db.
func OpenBoltLog(dataDir, name string) (*BoltLog, error) {
	path := filepath.Join(dataDir, name+".db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt log: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltLog{db: db}, nil
}

func indexKey(index types.Index) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(index))
	return b
}

func (l *BoltLog) Close() error { return l.db.Close() }

func (l *BoltLog) firstIndex(tx *bolt.Tx) types.Index {
	c := tx.Bucket(bucketEntries).Cursor()
	if k, _ := c.First(); k != nil {
		return types.Index(binary.BigEndian.Uint64(k))
	}
	return types.Index(l.metaUint64(tx, keySnapshotIndex)) + 1
}

func (l *BoltLog) lastIndex(tx *bolt.Tx) types.Index {
	c := tx.Bucket(bucketEntries).Cursor()
	if k, _ := c.Last(); k != nil {
		return types.Index(binary.BigEndian.Uint64(k))
	}
	return types.Index(l.metaUint64(tx, keySnapshotIndex))
}

func (l *BoltLog) metaUint64(tx *bolt.Tx, key []byte) uint64 {
	v := tx.Bucket(bucketMeta).Get(key)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func putUint64(tx *bolt.Tx, key []byte, v uint64) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return tx.Bucket(bucketMeta).Put(key, b)
}

func (l *BoltLog) Append(entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		if entries[0].Index != l.lastIndex(tx)+1 {
			return ErrOutOfOrder
		}
		b := tx.Bucket(bucketEntries)
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(e.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BoltLog) TruncateAfter(index types.Index, commitIndex types.Index) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if commitIndex > index {
			return ErrAlreadyCommitted
		}
		b := tx.Bucket(bucketEntries)
		last := l.lastIndex(tx)
		for i := last; i > index; i-- {
			if err := b.Delete(indexKey(i)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BoltLog) Get(index types.Index) (types.LogEntry, error) {
	var entry types.LogEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get(indexKey(index))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &entry)
	})
	return entry, err
}

func (l *BoltLog) GetRange(from, to types.Index) ([]types.LogEntry, error) {
	var out []types.LogEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		c := b.Cursor()
		for k, v := c.Seek(indexKey(from)); k != nil; k, v = c.Next() {
			idx := types.Index(binary.BigEndian.Uint64(k))
			if idx > to {
				break
			}
			var e types.LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (l *BoltLog) Term(index types.Index) (types.Term, error) {
	var term types.Term
	err := l.db.View(func(tx *bolt.Tx) error {
		if index == types.Index(l.metaUint64(tx, keySnapshotIndex)) {
			term = types.Term(l.metaUint64(tx, keySnapshotTerm))
			return nil
		}
		data := tx.Bucket(bucketEntries).Get(indexKey(index))
		if data == nil {
			return ErrNotFound
		}
		var e types.LogEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		term = e.Term
		return nil
	})
	return term, err
}

func (l *BoltLog) FirstIndex() types.Index {
	var idx types.Index
	l.db.View(func(tx *bolt.Tx) error { idx = l.firstIndex(tx); return nil })
	return idx
}

func (l *BoltLog) LastIndex() types.Index {
	var idx types.Index
	l.db.View(func(tx *bolt.Tx) error { idx = l.lastIndex(tx); return nil })
	return idx
}

// Compact records the snapshot pointer in the metadata bucket and
// drops entries below it in one transaction: either both happen or
// neither does, satisfying the crash-atomic contract (the caller is
// expected to have already durably written the snapshot bytes via
// SnapshotStore before calling Compact).
func (l *BoltLog) Compact(snap types.Snapshot) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := putUint64(tx, keySnapshotIndex, uint64(snap.Index)); err != nil {
			return err
		}
		if err := putUint64(tx, keySnapshotTerm, uint64(snap.Term)); err != nil {
			return err
		}
		if err := putUint64(tx, keySnapshotTime, uint64(snap.Timestamp)); err != nil {
			return err
		}
		b := tx.Bucket(bucketEntries)
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if types.Index(binary.BigEndian.Uint64(k)) > snap.Index {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BoltLog) LoadSnapshot() (types.Snapshot, bool, error) {
	var snap types.Snapshot
	var ok bool
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keySnapshotIndex)
		if v == nil {
			return nil
		}
		snap.Index = types.Index(l.metaUint64(tx, keySnapshotIndex))
		snap.Term = types.Term(l.metaUint64(tx, keySnapshotTerm))
		snap.Timestamp = int64(l.metaUint64(tx, keySnapshotTime))
		ok = true
		return nil
	})
	return snap, ok, err
}

func (l *BoltLog) CurrentTerm() (types.Term, error) {
	var term types.Term
	err := l.db.View(func(tx *bolt.Tx) error {
		term = types.Term(l.metaUint64(tx, keyCurrentTerm))
		return nil
	})
	return term, err
}

func (l *BoltLog) VotedFor() (types.MemberID, error) {
	var voted types.MemberID
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyVotedFor)
		if v != nil {
			voted = types.MemberID(v)
		}
		return nil
	})
	return voted, err
}

func (l *BoltLog) SetTermAndVote(term types.Term, votedFor types.MemberID) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		if err := putUint64(tx, keyCurrentTerm, uint64(term)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyVotedFor, []byte(votedFor))
	})
}
