/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 17 22:20:08 2017 mstenber
 * Last modified: Sun Feb 17 12:40:19 2019 mstenber
 * Edit time:     104 min
 *
 */

package inmemory

import (
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/storage"
)

const chunkSize = 65536

type failRange struct {
	start, end uint64
}

// Backend is a sparse in-memory device: only written 64KiB chunks
// take memory, the rest reads as zeros. Byte ranges (or the whole
// device) can be made unreadable to simulate media errors.
type Backend struct {
	size    uint64
	chunks  map[uint64][]byte
	failed  []failRange
	offline bool
	reads   int
}

var _ storage.Backend = &Backend{}

func New(size uint64) *Backend {
	return &Backend{size: size, chunks: make(map[uint64][]byte)}
}

func (self *Backend) Size() uint64 {
	return self.size
}

func (self *Backend) Close() error {
	return nil
}

// WriteAt stores p at byte offset off, growing the device if needed.
func (self *Backend) WriteAt(p []byte, off int64) (int, error) {
	pos := uint64(off)
	if end := pos + uint64(len(p)); end > self.size {
		self.size = end
	}
	done := 0
	for done < len(p) {
		ci := pos / chunkSize
		c := self.chunks[ci]
		if c == nil {
			c = make([]byte, chunkSize)
			self.chunks[ci] = c
		}
		n := copy(c[pos%chunkSize:], p[done:])
		done += n
		pos += uint64(n)
	}
	return done, nil
}

// ReadAt reads without failure injection; the fixture code uses it
// to inspect what was written.
func (self *Backend) ReadAt(p []byte, off int64) (int, error) {
	pos := uint64(off)
	done := 0
	for done < len(p) {
		ci := pos / chunkSize
		skip := pos % chunkSize
		n := chunkSize - int(skip)
		if n > len(p)-done {
			n = len(p) - done
		}
		if c := self.chunks[ci]; c != nil {
			copy(p[done:done+n], c[skip:])
		} else {
			for i := range p[done : done+n] {
				p[done+i] = 0
			}
		}
		done += n
		pos += uint64(n)
	}
	return done, nil
}

// Fail makes [off, off+length) unreadable.
func (self *Backend) Fail(off, length uint64) {
	self.failed = append(self.failed, failRange{off, off + length})
}

// SetOffline makes every read fail (or not).
func (self *Backend) SetOffline(offline bool) {
	self.offline = offline
}

// Heal removes all injected failures.
func (self *Backend) Heal() {
	self.failed = nil
	self.offline = false
}

// Reads returns the number of ReadSector calls so far.
func (self *Backend) Reads() int {
	return self.reads
}

func (self *Backend) ReadSector(sector uint64, buf []byte) error {
	self.reads++
	off, err := storage.SectorOffset(sector, buf, self.size)
	if err != nil {
		return err
	}
	if self.offline {
		return fserr.IO("device offline")
	}
	end := off + uint64(len(buf))
	for _, f := range self.failed {
		if off < f.end && f.start < end {
			mlog.Printf2("storage/inmemory/inmemory", "im.ReadSector %d failing", sector)
			return fserr.IO("injected failure at sector %d", sector)
		}
	}
	self.ReadAt(buf, int64(off))
	return nil
}
