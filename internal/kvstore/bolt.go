package kvstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var bucketSession = []byte("session")

// BoltStore keeps keys in a bbolt database file.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketSession)
		return e
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	var e entry
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSession).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &e)
	})
	if err != nil || !found {
		return nil, false, err
	}
	if e.expired(s.now()) {
		return nil, false, s.Delete(key)
	}
	return e.Value, true, nil
}

func (s *BoltStore) Set(key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(newEntry(value, ttl, s.now()))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Put([]byte(key), data)
	})
}

func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSession).Delete([]byte(key))
	})
}

func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketSession); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketSession)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
