/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 14 19:20:12 2017 mstenber
 * Last modified: Sun Feb 17 12:55:40 2019 mstenber
 * Edit time:     44 min
 *
 */

package storage_test

import (
	"errors"
	"testing"

	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/storage"
	"github.com/fingon/go-btrfsfw/storage/inmemory"
	"github.com/stvp/assert"
)

func TestReadBytes(t *testing.T) {
	t.Parallel()
	dev := inmemory.New(65536)
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	dev.WriteAt(data, 1000)

	for _, ss := range []int{512, 4096} {
		for _, w := range [][2]int{{1000, 10000}, {1001, 1}, {4096, 4096}, {1500, 5000}} {
			buf := make([]byte, w[1])
			assert.Nil(t, storage.ReadBytes(dev, ss, uint64(w[0]), buf))
			assert.Equal(t, buf, data[w[0]-1000:w[0]-1000+w[1]])
		}
	}
	err := storage.ReadBytes(dev, 4096, 65000, make([]byte, 1000))
	assert.True(t, errors.Is(err, fserr.ErrIO))

	dev.Fail(8192, 1)
	err = storage.ReadBytes(dev, 4096, 8000, make([]byte, 300))
	assert.True(t, errors.Is(err, fserr.ErrIO))
	assert.Nil(t, storage.ReadBytes(dev, 4096, 4096, make([]byte, 4096)))
	dev.SetOffline(true)
	assert.NotNil(t, storage.ReadBytes(dev, 4096, 0, make([]byte, 10)))
	dev.Heal()
	assert.Nil(t, storage.ReadBytes(dev, 4096, 8000, make([]byte, 300)))
}

func TestCachingDevice(t *testing.T) {
	t.Parallel()
	dev := inmemory.New(1 << 20)
	dev.WriteAt([]byte("cached"), 4096*3)
	cd := storage.CachingDevice{}.Init(dev, 2)
	buf := make([]byte, 4096)
	for i := 0; i < 3; i++ {
		assert.Nil(t, cd.ReadSector(3, buf))
		assert.Equal(t, string(buf[:6]), "cached")
	}
	assert.Equal(t, dev.Reads(), 1)
	hits, misses := cd.Stats()
	assert.Equal(t, hits, 2)
	assert.Equal(t, misses, 1)

	// different sector size is a different entry
	assert.Nil(t, cd.ReadSector(6, make([]byte, 2048)))
	assert.Equal(t, dev.Reads(), 2)

	// errors are not cached
	dev.SetOffline(true)
	assert.NotNil(t, cd.ReadSector(4, buf))
	dev.SetOffline(false)
	assert.Nil(t, cd.ReadSector(4, buf))
}
