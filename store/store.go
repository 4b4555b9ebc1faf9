// uProxy-p2p - Social network based peer-to-peer proxying
// Copyright (c) 2026 The uProxy-p2p Authors. All rights reserved.

// Package store wraps the local key-value database the social core keeps its
// identity records in.
package store

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract of the social core: best effort, string
// keyed, opaque blobs. The core only ever does single load-or-create attempts
// and prefix scans for roster restoration, so the contract stays minimal.
type Store interface {
	// Get retrieves a record, returning ErrNotFound if absent.
	Get(key string) ([]byte, error)

	// Put inserts or overwrites a record.
	Put(key string, blob []byte) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(key string) error

	// Keys returns all stored keys sharing the given prefix, sorted.
	Keys(prefix string) ([]string, error)

	// Close releases the underlying database.
	Close() error
}
