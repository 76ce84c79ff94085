/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sun Feb 10 19:25:12 2019 mstenber
 * Last modified: Sun Feb 17 12:40:03 2019 mstenber
 * Edit time:     51 min
 *
 */

package fstest

import (
	"log"
	"sort"

	"github.com/google/uuid"

	"github.com/fingon/go-btrfsfw/ondisk"
)

type TreeItem struct {
	Key  ondisk.Key
	Data []byte
}

type TreeOptions struct {
	NodeSize   int
	Owner      uint64
	Generation uint64
	FSID       uuid.UUID
	CsumType   ondisk.CsumType

	// MaxLeafItems / MaxPtrs limit node fan-out below what fits, to
	// get deep trees out of few items.
	MaxLeafItems int
	MaxPtrs      int
}

type treeChild struct {
	first ondisk.Key
	addr  uint64
}

// BuildTree writes items as a B-tree into space and returns the root
// address and level. Items need not be sorted, but keys must be
// unique.
func BuildTree(items []TreeItem, opts TreeOptions, space *Space) (uint64, uint8) {
	items = append([]TreeItem(nil), items...)
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key.Less(items[j].Key)
	})
	room := opts.NodeSize - ondisk.HeaderSize
	var leaves [][]TreeItem
	var cur []TreeItem
	used := 0
	for i, it := range items {
		if i > 0 && items[i-1].Key == it.Key {
			log.Panicf("duplicate key %v", it.Key)
		}
		need := ondisk.ItemSize + len(it.Data)
		if need > room {
			log.Panicf("item %v does not fit a node", it.Key)
		}
		if len(cur) > 0 && (used+need > room ||
			(opts.MaxLeafItems > 0 && len(cur) >= opts.MaxLeafItems)) {
			leaves = append(leaves, cur)
			cur = nil
			used = 0
		}
		cur = append(cur, it)
		used += need
	}
	leaves = append(leaves, cur)

	var children []treeChild
	for _, leaf := range leaves {
		buf := make([]byte, opts.NodeSize)
		end := room
		for i, it := range leaf {
			end -= len(it.Data)
			copy(buf[ondisk.HeaderSize+end:], it.Data)
			di := ondisk.Item{Key: it.Key, Offset: uint32(end), Size: uint32(len(it.Data))}
			di.Put(buf[ondisk.HeaderSize+i*ondisk.ItemSize:])
		}
		var first ondisk.Key
		if len(leaf) > 0 {
			first = leaf[0].Key
		}
		addr := writeNode(buf, 0, len(leaf), opts, space)
		children = append(children, treeChild{first, addr})
	}

	maxPtrs := room / ondisk.KeyPtrSize
	if opts.MaxPtrs > 1 && opts.MaxPtrs < maxPtrs {
		maxPtrs = opts.MaxPtrs
	}
	level := uint8(0)
	for len(children) > 1 {
		level++
		var parents []treeChild
		for len(children) > 0 {
			n := maxPtrs
			if n > len(children) {
				n = len(children)
			}
			buf := make([]byte, opts.NodeSize)
			for i, c := range children[:n] {
				kp := ondisk.KeyPtr{Key: c.first, BlockPtr: c.addr, Generation: opts.Generation}
				kp.Put(buf[ondisk.HeaderSize+i*ondisk.KeyPtrSize:])
			}
			addr := writeNode(buf, level, n, opts, space)
			parents = append(parents, treeChild{children[0].first, addr})
			children = children[n:]
		}
		children = parents
	}
	return children[0].addr, level
}

func writeNode(buf []byte, level uint8, count int, opts TreeOptions, space *Space) uint64 {
	addr := space.Alloc(len(buf))
	h := ondisk.Header{FSID: opts.FSID,
		Bytenr:     addr,
		Generation: opts.Generation,
		Owner:      opts.Owner,
		NumItems:   uint32(count),
		Level:      level}
	h.Put(buf)
	opts.CsumType.Stamp(buf)
	space.Write(addr, buf)
	return addr
}
