/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sat Dec 23 15:10:01 2017 mstenber
 * Last modified: Sun Feb 10 17:20:33 2019 mstenber
 * Edit time:     171 min
 *
 */

package badger

import (
	"github.com/dgraph-io/badger"

	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/storage"
)

// Store keeps an imported sector image in a badger database
// directory.
//
// - key prefix b + big-endian block index -> encoded block
// - key m -> CBOR storage.Manifest
type Store struct {
	db *badger.DB
}

var _ storage.BlockStore = &Store{}

var blockPrefix = []byte("b")
var manifestKey = []byte("m")

func Open(config storage.BackendConfiguration) (*Store, error) {
	opts := badger.DefaultOptions
	opts.Dir = config.Path
	opts.ValueDir = config.Path
	opts.ReadOnly = config.ReadOnly
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (self *Store) Close() error {
	return self.db.Close()
}

func (self *Store) get(k []byte) (v []byte, err error) {
	err = self.db.View(func(txn *badger.Txn) error {
		i, err := txn.Get(k)
		if err == nil {
			v, err = i.ValueCopy(nil)
		}
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	return
}

func (self *Store) set(k, v []byte) error {
	return self.db.Update(func(txn *badger.Txn) error {
		return txn.Set(k, v)
	})
}

func blockKey(index uint64) []byte {
	return append(append([]byte(nil), blockPrefix...), storage.BlockKey(index)...)
}

func (self *Store) GetBlock(index uint64) ([]byte, error) {
	return self.get(blockKey(index))
}

func (self *Store) PutBlock(index uint64, data []byte) error {
	mlog.Printf2("storage/badger/badger", "bad.PutBlock %d (%d b)", index, len(data))
	return self.set(blockKey(index), data)
}

func (self *Store) GetManifest() ([]byte, error) {
	return self.get(manifestKey)
}

func (self *Store) PutManifest(data []byte) error {
	return self.set(manifestKey, data)
}
