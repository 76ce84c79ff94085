/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sun Feb 10 15:31:09 2019 mstenber
 * Last modified: Sat Feb 16 15:49:33 2019 mstenber
 * Edit time:     18 min
 *
 */

package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fingon/go-btrfsfw/mlog"
)

type sectorKey struct {
	sector uint64
	size   int
}

// CachingDevice keeps the most recently read sectors of a slow
// Device in memory. Read errors are not cached.
type CachingDevice struct {
	Device
	cache        *lru.Cache[sectorKey, []byte]
	hits, misses int
}

var _ Device = &CachingDevice{}

func (self CachingDevice) Init(dev Device, sectors int) *CachingDevice {
	if sectors <= 0 {
		sectors = DefaultCacheSize
	}
	cache, err := lru.New[sectorKey, []byte](sectors)
	if err != nil {
		panic(err)
	}
	self.Device = dev
	self.cache = cache
	return &self
}

func (self *CachingDevice) ReadSector(sector uint64, buf []byte) error {
	k := sectorKey{sector, len(buf)}
	if data, ok := self.cache.Get(k); ok {
		self.hits++
		copy(buf, data)
		return nil
	}
	self.misses++
	mlog.Printf2("storage/caching", "cd.ReadSector miss %d", sector)
	if err := self.Device.ReadSector(sector, buf); err != nil {
		return err
	}
	self.cache.Add(k, append([]byte(nil), buf...))
	return nil
}

// Stats returns the number of cache hits and misses so far.
func (self *CachingDevice) Stats() (hits, misses int) {
	return self.hits, self.misses
}
