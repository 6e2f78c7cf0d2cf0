package storage

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketCA = []byte("ca")

var caKey = []byte("ca")

// BoltCAStore implements security.CADataStore over a small bbolt file,
// the cluster-level (not per-partition) counterpart to BoltLog: a
// dedicated bucket with a single fixed key, since there is exactly one
// CA per cluster.
type BoltCAStore struct {
	db *bolt.DB
}

// OpenBoltCAStore opens (creating if absent) the CA database at
// dataDir/ca.db.
func OpenBoltCAStore(dataDir string) (*BoltCAStore, error) {
	path := filepath.Join(dataDir, "ca.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open ca store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCA)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltCAStore{db: db}, nil
}

func (s *BoltCAStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put(caKey, data)
	})
}

func (s *BoltCAStore) LoadCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get(caKey)
		if v == nil {
			return ErrNotFound
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}

func (s *BoltCAStore) Close() error { return s.db.Close() }
