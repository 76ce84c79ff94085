/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sun Feb 10 19:10:30 2019 mstenber
 * Last modified: Sat Feb 16 13:22:41 2019 mstenber
 * Edit time:     14 min
 *
 */

package fstest

import (
	"log"

	"github.com/fingon/go-btrfsfw/fserr"
)

// Space is a growable piece of logical address space starting at
// Base. It is also a btree.Reader, so trees can be tested without
// any chunk translation.
type Space struct {
	Base  uint64
	Align int
	data  []byte
}

func NewSpace(base uint64, align int) *Space {
	return &Space{Base: base, Align: align}
}

// Alloc reserves size bytes (rounded up to Align) and returns the
// logical address.
func (self *Space) Alloc(size int) uint64 {
	addr := self.Base + uint64(len(self.data))
	size = roundUp(size, self.Align)
	self.data = append(self.data, make([]byte, size)...)
	return addr
}

func (self *Space) Write(addr uint64, p []byte) {
	if addr < self.Base || addr+uint64(len(p)) > self.End() {
		log.Panicf("write @%x (%d bytes) outside space", addr, len(p))
	}
	copy(self.data[addr-self.Base:], p)
}

// End returns the first address past the allocated space.
func (self *Space) End() uint64 {
	return self.Base + uint64(len(self.data))
}

func (self *Space) Len() int {
	return len(self.data)
}

// Bytes returns the content, padded with zeros to size.
func (self *Space) Bytes(size int) []byte {
	b := make([]byte, size)
	copy(b, self.data)
	return b
}

func (self *Space) ReadLogical(addr uint64, buf []byte) error {
	if addr < self.Base || addr+uint64(len(buf)) > self.End() {
		return fserr.Corrupted("read @%x (%d bytes) outside space", addr, len(buf))
	}
	copy(buf, self.data[addr-self.Base:])
	return nil
}

func roundUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
