/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 14:30:52 2019 mstenber
 * Last modified: Mon Feb 18 19:12:20 2019 mstenber
 * Edit time:     132 min
 *
 */

// btree implements lookups and ordered iteration over the on-disk,
// copy-on-write B-trees of a btrfs volume.
//
// Trees are addressed by the logical address of their root node, and
// every node is fetched through a Reader (the volume's chunk
// translator); nothing here knows about devices.
//
// Iteration state lives in an explicit Path of frames rather than in
// recursion, so a Path can be kept between calls and resumed. Neither
// Store nor Path is safe for concurrent use.
package btree

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
)

// Reader reads logical address space.
type Reader interface {
	ReadLogical(addr uint64, buf []byte) error
}

type Options struct {
	NodeSize uint32
	CsumType ondisk.CsumType

	// CacheSize is the number of nodes kept in memory;
	// DefaultCacheSize if zero, no caching if negative.
	CacheSize int

	// SkipChecksums disables node checksum verification.
	SkipChecksums bool
}

const DefaultCacheSize = 128

type Store struct {
	reader Reader
	opts   Options
	cache  *lru.Cache[uint64, *Node]
	reads  int
}

func (self Store) Init(reader Reader, opts Options) *Store {
	self.reader = reader
	self.opts = opts
	size := opts.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	if size > 0 {
		cache, err := lru.New[uint64, *Node](size)
		if err != nil {
			panic(err)
		}
		self.cache = cache
	}
	return &self
}

// NodeReads returns how many nodes were read (not served from cache).
func (self *Store) NodeReads() int {
	return self.reads
}

// Node returns the validated node at logical address addr.
func (self *Store) Node(addr uint64) (*Node, error) {
	if self.cache != nil {
		if n, ok := self.cache.Get(addr); ok {
			return n, nil
		}
	}
	mlog.Printf2("btree/btree", "st.Node @%x", addr)
	data := make([]byte, self.opts.NodeSize)
	if err := self.reader.ReadLogical(addr, data); err != nil {
		return nil, err
	}
	self.reads++
	n, err := parseNode(addr, data, self.opts.CsumType, !self.opts.SkipChecksums)
	if err != nil {
		return nil, err
	}
	if self.cache != nil {
		self.cache.Add(addr, n)
	}
	return n, nil
}

// Item is a leaf item found by LowerBound, Next or Lookup.
type Item struct {
	Key ondisk.Key

	// Addr is the logical address of the payload.
	Addr uint64
	Size uint32

	node  *Node
	index int
}

// Data returns the payload. The slice must not be modified.
func (self *Item) Data() []byte {
	return self.node.ItemData(self.index)
}

func newItem(n *Node, i int) *Item {
	it := n.Item(i)
	return &Item{Key: it.Key,
		Addr:  n.Addr + ondisk.HeaderSize + uint64(it.Offset),
		Size:  it.Size,
		node:  n,
		index: i}
}

type frame struct {
	addr  uint64
	index int
	count int
	leaf  bool
}

// Path records the position of an iteration: one frame per tree
// level, root first.
type Path struct {
	frames []frame
}

func (self *Path) Reset() {
	self.frames = self.frames[:0]
}

func (self *Path) Depth() int {
	return len(self.frames)
}

func (self *Path) push(f frame) error {
	if len(self.frames) >= ondisk.MaxLevel {
		return fserr.Corrupted("tree path deeper than %d", ondisk.MaxLevel)
	}
	self.frames = append(self.frames, f)
	return nil
}

func (self *Path) top() *frame {
	return &self.frames[len(self.frames)-1]
}

// LowerBound finds the item with the greatest key <= key in the tree
// rooted at root. If there is no such item, the returned error wraps
// fserr.ErrNotFound; path (if given) is still positioned so that Next
// returns the first item of the tree.
func (self *Store) LowerBound(root uint64, key ondisk.Key, path *Path) (*Item, error) {
	mlog.Printf2("btree/btree", "st.LowerBound @%x %v", root, key)
	if path == nil {
		path = &Path{}
	}
	path.Reset()
	addr := root
	parentLevel := -1
	for {
		n, err := self.Node(addr)
		if err != nil {
			return nil, err
		}
		level := int(n.Header.Level)
		if parentLevel >= 0 && level != parentLevel-1 {
			return nil, fserr.Corrupted("node @%x level %d below level %d",
				addr, level, parentLevel)
		}
		i := n.search(key)
		if err = path.push(frame{addr, i, n.NumItems(), n.Leaf()}); err != nil {
			return nil, err
		}
		if i < 0 {
			return nil, fserr.NotFound("nothing <= %v", key)
		}
		if n.Leaf() {
			return newItem(n, i), nil
		}
		addr = n.KeyPtr(i).BlockPtr
		parentLevel = level
	}
}

// Next advances path to the following item. At the end of the tree
// the returned error wraps fserr.ErrNotFound.
func (self *Store) Next(path *Path) (*Item, error) {
	for {
		for len(path.frames) > 0 {
			f := path.top()
			f.index++
			if f.index < f.count {
				break
			}
			path.frames = path.frames[:len(path.frames)-1]
		}
		if len(path.frames) == 0 {
			return nil, fserr.NotFound("end of tree")
		}
		for !path.top().leaf {
			f := path.top()
			n, err := self.Node(f.addr)
			if err != nil {
				return nil, err
			}
			child, err := self.Node(n.KeyPtr(f.index).BlockPtr)
			if err != nil {
				return nil, err
			}
			if int(child.Header.Level) != int(n.Header.Level)-1 {
				return nil, fserr.Corrupted("node @%x level %d below level %d",
					child.Addr, child.Header.Level, n.Header.Level)
			}
			if err = path.push(frame{child.Addr, 0, child.NumItems(), child.Leaf()}); err != nil {
				return nil, err
			}
		}
		f := path.top()
		if f.index >= f.count {
			// empty leaf; keep climbing
			continue
		}
		n, err := self.Node(f.addr)
		if err != nil {
			return nil, err
		}
		return newItem(n, f.index), nil
	}
}

// Lookup returns the item with exactly key.
func (self *Store) Lookup(root uint64, key ondisk.Key) (*Item, error) {
	it, err := self.LowerBound(root, key, nil)
	if err != nil {
		return nil, err
	}
	if it.Key != key {
		return nil, fserr.NotFound("no %v (closest %v)", key, it.Key)
	}
	return it, nil
}
