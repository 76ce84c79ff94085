/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 22:49:15 2018 mstenber
 * Last modified: Sun Feb 10 17:11:52 2019 mstenber
 * Edit time:     58 min
 *
 */

package bolt

import (
	bbolt "go.etcd.io/bbolt"

	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/storage"
)

var blockBucket = []byte("blocks")
var metaBucket = []byte("meta")
var manifestKey = []byte("manifest")

// Store keeps an imported sector image in a single bbolt file.
//
// - blocks bucket: big-endian block index -> encoded block
// - meta bucket: manifest -> CBOR storage.Manifest
type Store struct {
	db *bbolt.DB
}

var _ storage.BlockStore = &Store{}

func Open(config storage.BackendConfiguration) (*Store, error) {
	db, err := bbolt.Open(config.Path, 0600, &bbolt.Options{ReadOnly: config.ReadOnly})
	if err != nil {
		return nil, err
	}
	self := &Store{db: db}
	if config.ReadOnly {
		return self, nil
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blockBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return self, nil
}

func (self *Store) Close() error {
	return self.db.Close()
}

func (self *Store) get(bucket, key []byte) (v []byte, err error) {
	err = self.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return nil
		}
		// bbolt values are valid only within the transaction
		if data := b.Get(key); data != nil {
			v = append([]byte(nil), data...)
		}
		return nil
	})
	return
}

func (self *Store) put(bucket, key, value []byte) error {
	return self.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
}

func (self *Store) GetBlock(index uint64) ([]byte, error) {
	return self.get(blockBucket, storage.BlockKey(index))
}

func (self *Store) PutBlock(index uint64, data []byte) error {
	mlog.Printf2("storage/bolt/bolt", "bolt.PutBlock %d (%d b)", index, len(data))
	return self.put(blockBucket, storage.BlockKey(index), data)
}

func (self *Store) GetManifest() ([]byte, error) {
	return self.get(metaBucket, manifestKey)
}

func (self *Store) PutManifest(data []byte) error {
	return self.put(metaBucket, manifestKey, data)
}
