// Package kvstore is a thin wrapper around the embedded bbolt key-value
// engine, giving internal/mmrstore and internal/whitelist a bucketed view
// of what the boundary documentation describes as a flat "mmr/"/"meta/"/
// "wl/" prefix keyspace: each prefix becomes its own bbolt bucket.
package kvstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	BucketMMR  = "mmr"
	BucketMeta = "meta"
	BucketWL   = "wl"
)

var buckets = []string{BucketMMR, BucketMeta, BucketWL}

// Store is a durable embedded KV handle shared by the MMR store and the
// whitelist registry. It is an opaque handle; callers never see bbolt
// types directly.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database at path and ensures
// all logical buckets exist. Failure here is fatal at startup.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open kv store at %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get reads key from bucket. Returns (nil, false) if absent. The returned
// slice is a copy and safe to retain past the call.
func (s *Store) Get(bucket, key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		v := b.Get([]byte(key))
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, val != nil, nil
}

// Put durably writes key => value in bucket. bbolt fsyncs on transaction
// commit, so Put returning nil means the write is durable.
func (s *Store) Put(bucket, key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Put([]byte(key), value)
	})
}

// PutBatch durably writes every (key, value) pair in a single transaction,
// so either all of them persist or none do.
func (s *Store) PutBatch(bucket string, kvs map[string][]byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		for k, v := range kvs {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteTxn lets a caller stage writes to several buckets that must commit
// atomically. fn is invoked with a Putter scoped to this one bbolt
// transaction; every Put either all land on disk together or none do. This
// is how mmrstore commits a leaf, its newly merged interior peaks, and the
// updated leaf count in one durable step.
type Putter interface {
	Put(bucket, key string, value []byte) error
}

func (s *Store) WriteTxn(fn func(p Putter) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(txPutter{tx})
	})
}

type txPutter struct{ tx *bbolt.Tx }

func (p txPutter) Put(bucket, key string, value []byte) error {
	b := p.tx.Bucket([]byte(bucket))
	if b == nil {
		return fmt.Errorf("bucket %s not found", bucket)
	}
	return b.Put([]byte(key), value)
}

// ForEach iterates every key/value pair in bucket in key order.
func (s *Store) ForEach(bucket string, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.ForEach(fn)
	})
}

// PositionKey encodes an MMR node position as an 8-byte big-endian key, so
// bbolt's natural byte-order key iteration matches position order.
func PositionKey(pos uint64) string {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, pos)
	return string(buf)
}
