// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

package store

import (
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is a leveldb backed implementation of the Store contract. It is
// used both on disk for live nodes and purely in memory for tests.
type LevelStore struct {
	db *leveldb.DB
}

// NewLevelStore opens (or creates) the record database inside a data directory.
func NewLevelStore(datadir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(filepath.Join(datadir, "ldb"), &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

// NewMemStore creates a store backed by an in-memory leveldb instance.
func NewMemStore() *LevelStore {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		panic(err) // Memory storage cannot fail to open
	}
	return &LevelStore{db: db}
}

// Get retrieves a record, returning ErrNotFound if absent.
func (s *LevelStore) Get(key string) ([]byte, error) {
	blob, err := s.db.Get([]byte(key), nil)
	if err != nil {
		return nil, ErrNotFound
	}
	return blob, nil
}

// Put inserts or overwrites a record.
func (s *LevelStore) Put(key string, blob []byte) error {
	return s.db.Put([]byte(key), blob, nil)
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *LevelStore) Delete(key string) error {
	return s.db.Delete([]byte(key), nil)
}

// Keys returns all stored keys sharing the given prefix, sorted. The sort
// order falls out of leveldb's iteration order over byte-wise keys.
func (s *LevelStore) Keys(prefix string) ([]string, error) {
	var keys []string

	it := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	it.Release()

	return keys, it.Error()
}

// Close releases the underlying database.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
