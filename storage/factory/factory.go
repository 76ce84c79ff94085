/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 12:22:52 2018 mstenber
 * Last modified: Sun Feb 10 17:42:28 2019 mstenber
 * Edit time:     49 min
 *
 */

package factory

import (
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/storage"
	"github.com/fingon/go-btrfsfw/storage/badger"
	"github.com/fingon/go-btrfsfw/storage/bolt"
	"github.com/fingon/go-btrfsfw/storage/file"
)

type storeCallback func(config storage.BackendConfiguration) (storage.BlockStore, error)

// Image stores; "file" is handled separately as it reads images
// directly.
var storeFactories = map[string]storeCallback{
	"badger": func(config storage.BackendConfiguration) (storage.BlockStore, error) {
		return badger.Open(config)
	},
	"bolt": func(config storage.BackendConfiguration) (storage.BlockStore, error) {
		return bolt.Open(config)
	},
}

const fileBackend = "file"

// List returns the names of all backends.
func List() []string {
	keys := []string{fileBackend}
	for k := range storeFactories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// New opens a backend for reading.
func New(name string, config storage.BackendConfiguration) (storage.Backend, error) {
	mlog.Printf2("storage/factory/factory", "f.New %v %v", name, config.Path)
	if name == fileBackend {
		return file.Open(config)
	}
	cb, ok := storeFactories[name]
	if !ok {
		return nil, errors.Errorf("unknown backend %q", name)
	}
	config.ReadOnly = true
	store, err := cb(config)
	if err != nil {
		return nil, err
	}
	is, err := storage.ImageStore{}.Init(store, config)
	if err != nil {
		store.Close()
		return nil, err
	}
	return is, nil
}

// Import copies an image into a new image store backend.
func Import(name string, config storage.BackendConfiguration, src io.ReaderAt, size uint64) (*storage.Manifest, error) {
	cb, ok := storeFactories[name]
	if !ok {
		return nil, errors.Errorf("backend %q cannot import", name)
	}
	config.ReadOnly = false
	store, err := cb(config)
	if err != nil {
		return nil, err
	}
	m, err := storage.Import(store, config, src, size)
	if cerr := store.Close(); err == nil {
		err = cerr
	}
	return m, err
}
