// SPDX-FileCopyrightText: © 2025 Katzenpost Developers
// SPDX-License-Identifier: AGPL-3.0-only

package settings

import (
	"errors"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

const (
	// StorageVersion is the version of our on disk format.
	StorageVersion = 0

	metadataBucket = "metadata"
	versionKey     = "version"
	settingsBucket = "settings"
)

// ErrNotFound is returned by KV.Get when a key has never been set.
var ErrNotFound = errors.New("settings: key not found")

// KV is a durable key/value store with last-write-wins semantics.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key.
	Put(key string, value []byte) error

	// Delete removes key.  Deleting a missing key is not an error.
	Delete(key string) error

	// Close releases the store.
	Close() error
}

// BoltKV is a KV backed by a bbolt database file.
type BoltKV struct {
	db *bolt.DB
}

// NewBoltKV opens, creating it if needed, the bbolt database at path.
func NewBoltKV(path string) (*BoltKV, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	if err = db.Update(func(tx *bolt.Tx) error {
		metaBucket, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if _, err = tx.CreateBucketIfNotExists([]byte(settingsBucket)); err != nil {
			return err
		}

		if b := metaBucket.Get([]byte(versionKey)); b != nil {
			// database loaded
			if len(b) != 1 || b[0] != StorageVersion {
				return fmt.Errorf("settings: incompatible version: %x", b)
			}
			return nil
		}
		// database created
		return metaBucket.Put([]byte(versionKey), []byte{StorageVersion})
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltKV{db: db}, nil
}

// Get implements KV.
func (k *BoltKV) Get(key string) ([]byte, error) {
	var value []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(settingsBucket)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// The slice is only valid for the life of the transaction.
		value = append([]byte(nil), v...)
		return nil
	})
	return value, err
}

// Put implements KV.
func (k *BoltKV) Put(key string, value []byte) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Put([]byte(key), value)
	})
}

// Delete implements KV.
func (k *BoltKV) Delete(key string) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(settingsBucket)).Delete([]byte(key))
	})
}

// Close implements KV.
func (k *BoltKV) Close() error {
	return k.db.Close()
}

// MemoryKV is a KV held in memory, for ephemeral profiles and tests.
type MemoryKV struct {
	sync.RWMutex
	m map[string][]byte
}

// NewMemoryKV returns an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{m: make(map[string][]byte)}
}

// Get implements KV.
func (k *MemoryKV) Get(key string) ([]byte, error) {
	k.RLock()
	defer k.RUnlock()
	v, ok := k.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements KV.
func (k *MemoryKV) Put(key string, value []byte) error {
	k.Lock()
	defer k.Unlock()
	k.m[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements KV.
func (k *MemoryKV) Delete(key string) error {
	k.Lock()
	defer k.Unlock()
	delete(k.m, key)
	return nil
}

// Close implements KV.
func (k *MemoryKV) Close() error {
	return nil
}
