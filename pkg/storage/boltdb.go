package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/clawbernetes/clawbernetes-sub001/pkg/types"
)

var (
	bucketNodes     = []byte("nodes")
	bucketWorkloads = []byte("workloads")
)

// BoltStore implements SnapshotStore on a local BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a snapshot file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "clawbernetes-gateway.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketNodes, bucketWorkloads} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveNode upserts one node snapshot.
func (s *BoltStore) SaveNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(node)
		if err != nil {
			return fmt.Errorf("storage: marshal node: %w", err)
		}
		return tx.Bucket(bucketNodes).Put([]byte(node.ID), data)
	})
}

// ListNodes returns every snapshotted node.
func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return fmt.Errorf("storage: unmarshal node: %w", err)
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

// DeleteNode removes one node snapshot.
func (s *BoltStore) DeleteNode(id types.NodeID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(id))
	})
}

// SaveWorkload upserts one workload snapshot.
func (s *BoltStore) SaveWorkload(w *types.Workload) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("storage: marshal workload: %w", err)
		}
		return tx.Bucket(bucketWorkloads).Put([]byte(w.ID), data)
	})
}

// ListWorkloads returns every snapshotted workload.
func (s *BoltStore) ListWorkloads() ([]*types.Workload, error) {
	var out []*types.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).ForEach(func(_, v []byte) error {
			var w types.Workload
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("storage: unmarshal workload: %w", err)
			}
			out = append(out, &w)
			return nil
		})
	})
	return out, err
}

// DeleteWorkload removes one workload snapshot.
func (s *BoltStore) DeleteWorkload(id types.WorkloadID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).Delete([]byte(id))
	})
}

var _ SnapshotStore = (*BoltStore)(nil)
