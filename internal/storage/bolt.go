package storage

import (
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketBatches     = "batches"
	bucketResults     = "results"
	bucketDomainIndex = "domain_index"
)

// Store wraps a bbolt database for batch and result history
type Store struct {
	db *bbolt.DB
}

// NewStore opens a bbolt database at the given path and initializes required buckets
func NewStore(path string) (*Store, error) {
	if err := EnsureParent(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketBatches, bucketResults, bucketDomainIndex} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the bbolt database
func (s *Store) Close() error {
	return s.db.Close()
}
