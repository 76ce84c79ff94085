/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 14:02:11 2019 mstenber
 * Last modified: Sun Feb 17 10:30:47 2019 mstenber
 * Edit time:     47 min
 *
 */

package btree

import (
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/ondisk"
)

// Node is a validated, immutable tree node.
type Node struct {
	Addr   uint64
	Header ondisk.Header
	data   []byte
}

func (self *Node) Leaf() bool {
	return self.Header.Level == 0
}

func (self *Node) NumItems() int {
	return int(self.Header.NumItems)
}

func (self *Node) entry(i int) []byte {
	if self.Leaf() {
		return self.data[ondisk.HeaderSize+i*ondisk.ItemSize:]
	}
	return self.data[ondisk.HeaderSize+i*ondisk.KeyPtrSize:]
}

func (self *Node) Key(i int) ondisk.Key {
	return ondisk.ParseKey(self.entry(i))
}

// Item returns leaf item i.
func (self *Node) Item(i int) ondisk.Item {
	return ondisk.ParseItem(self.entry(i))
}

// KeyPtr returns child pointer i of an internal node.
func (self *Node) KeyPtr(i int) ondisk.KeyPtr {
	return ondisk.ParseKeyPtr(self.entry(i))
}

// ItemData returns the payload of leaf item i. The slice aliases the
// cached node; it must not be modified.
func (self *Node) ItemData(i int) []byte {
	it := self.Item(i)
	start := ondisk.HeaderSize + int(it.Offset)
	return self.data[start : start+int(it.Size)]
}

// search returns the index of the last entry with key <= key, or -1.
func (self *Node) search(key ondisk.Key) int {
	lo, hi := 0, self.NumItems()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if key.Less(self.Key(mid)) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo - 1
}

// parseNode validates raw node bytes read from logical address addr.
func parseNode(addr uint64, data []byte, csum ondisk.CsumType, verify bool) (*Node, error) {
	if len(data) < ondisk.HeaderSize {
		return nil, fserr.Corrupted("node @%x: %d bytes", addr, len(data))
	}
	n := &Node{Addr: addr, Header: ondisk.ParseHeader(data), data: data}
	if n.Header.Bytenr != addr {
		return nil, fserr.Corrupted("node @%x claims to be @%x", addr, n.Header.Bytenr)
	}
	if verify && !csum.Verify(data) {
		return nil, fserr.Corrupted("node @%x checksum mismatch", addr)
	}
	if n.Header.Level >= ondisk.MaxLevel {
		return nil, fserr.Corrupted("node @%x level %d", addr, n.Header.Level)
	}
	entrySize := ondisk.KeyPtrSize
	if n.Leaf() {
		entrySize = ondisk.ItemSize
	}
	count := uint64(n.Header.NumItems)
	if count == 0 && !n.Leaf() {
		return nil, fserr.Corrupted("node @%x: empty internal node", addr)
	}
	if uint64(ondisk.HeaderSize)+count*uint64(entrySize) > uint64(len(data)) {
		return nil, fserr.Corrupted("node @%x: %d items do not fit", addr, count)
	}
	var prev ondisk.Key
	for i := 0; i < n.NumItems(); i++ {
		k := n.Key(i)
		if i > 0 && !prev.Less(k) {
			return nil, fserr.Corrupted("node @%x: key %v after %v", addr, k, prev)
		}
		prev = k
		if n.Leaf() {
			it := n.Item(i)
			if uint64(ondisk.HeaderSize)+uint64(it.Offset)+uint64(it.Size) > uint64(len(data)) {
				return nil, fserr.Corrupted("node @%x: item %d payload out of node", addr, i)
			}
		}
	}
	return n, nil
}
