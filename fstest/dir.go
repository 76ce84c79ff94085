/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Mon Feb 11 22:15:20 2019 mstenber
 * Last modified: Tue Feb 19 08:44:02 2019 mstenber
 * Edit time:     58 min
 *
 */

package fstest

import (
	"log"

	"github.com/fingon/go-btrfsfw/ondisk"
)

// HoleMode says what happens to extent-sized runs of zeros in file
// content.
type HoleMode int

const (
	// HoleData stores zeros like any other data.
	HoleData HoleMode = iota

	// HoleExplicit emits regular extents with disk bytenr 0.
	HoleExplicit

	// HoleImplicit emits no extent at all (NO_HOLES).
	HoleImplicit
)

type FileOptions struct {
	Compression uint8

	// Regular prevents inline storage of small files.
	Regular bool

	// ExtentSize is the file bytes per extent; DefaultExtentSize if
	// zero.
	ExtentSize int

	Holes HoleMode

	// SharedExtents stores two consecutive file extents in one disk
	// extent, the second one referring to it with a nonzero offset.
	SharedExtents bool

	// PreallocTail appends a preallocated (unwritten) extent of
	// that many bytes, starting at the next sector boundary.
	PreallocTail int

	// NameHash overrides the directory item hash, to produce
	// collisions.
	NameHash uint64

	// Perm is the permission bits; 0644 if zero.
	Perm uint32
}

// Dir is a directory being populated.
type Dir struct {
	tree *fsTree
	Ino  uint64
}

// TreeID returns the subvolume the directory lives in.
func (self *Dir) TreeID() uint64 {
	return self.tree.id
}

func (self *Dir) link(name string, loc ondisk.Key, ftype uint8, hash uint64) {
	t := self.tree
	if hash == 0 {
		hash = ondisk.NameHash([]byte(name))
	}
	index, ok := t.nextIndex[self.Ino]
	if !ok {
		index = 2
	}
	t.nextIndex[self.Ino] = index + 1
	di := ondisk.DirItem{Location: loc,
		TransID: t.b.opts.Generation,
		Type:    ftype,
		Name:    []byte(name)}
	enc := encodeDirItem(&di)
	k := ondisk.Key{ObjectID: self.Ino, Type: ondisk.DirItemKey, Offset: hash}
	t.items[k] = append(t.items[k], enc...)
	t.items[ondisk.Key{ObjectID: self.Ino, Type: ondisk.DirIndexKey, Offset: index}] = enc
	if loc.Type == ondisk.InodeItemKey {
		ref := ondisk.InodeRef{Index: index, Name: []byte(name)}
		t.items[ondisk.Key{ObjectID: loc.ObjectID, Type: ondisk.InodeRefKey, Offset: self.Ino}] = encodeInodeRef(&ref)
	}
	t.inodes[self.Ino].Size += 2 * uint64(len(name))
}

func (self *Dir) linkInode(name string, ino uint64, ftype uint8, hash uint64) {
	self.link(name, ondisk.Key{ObjectID: ino, Type: ondisk.InodeItemKey}, ftype, hash)
}

func (self *Dir) Mkdir(name string) *Dir {
	ino := self.tree.newInode(ondisk.ModeDir|0755, 0)
	self.linkInode(name, ino, ondisk.FtDir, 0)
	return &Dir{tree: self.tree, Ino: ino}
}

// Subvolume creates a new subvolume linked as name, and returns its
// root directory.
func (self *Dir) Subvolume(name string) *Dir {
	b := self.tree.b
	id := b.nextTree
	b.nextTree++
	t := b.newTree(id)
	self.link(name, ondisk.Key{ObjectID: id, Type: ondisk.RootItemKey, Offset: ondisk.MaxOffset},
		ondisk.FtDir, 0)
	return &Dir{tree: t, Ino: ondisk.FirstFreeObjectID}
}

func (self *Dir) Symlink(name, target string) uint64 {
	t := self.tree
	ino := t.newInode(ondisk.ModeSymlink|0777, uint64(len(target)))
	self.linkInode(name, ino, ondisk.FtSymlink, 0)
	t.addExtent(ino, 0, &ondisk.ExtentData{RAMBytes: uint64(len(target)),
		Type:   ondisk.ExtentInline,
		Inline: []byte(target)})
	return ino
}

// SplitSymlink stores the target in inline extents of at most chunk
// bytes each.
func (self *Dir) SplitSymlink(name, target string, chunk int) uint64 {
	t := self.tree
	ino := t.newInode(ondisk.ModeSymlink|0777, uint64(len(target)))
	self.linkInode(name, ino, ondisk.FtSymlink, 0)
	for pos := 0; pos < len(target); pos += chunk {
		end := pos + chunk
		if end > len(target) {
			end = len(target)
		}
		t.addExtent(ino, uint64(pos), &ondisk.ExtentData{RAMBytes: uint64(end - pos),
			Type:   ondisk.ExtentInline,
			Inline: []byte(target[pos:end])})
	}
	return ino
}

// Special creates a non-regular, non-directory inode such as a fifo.
func (self *Dir) Special(name string, mode uint32, ftype uint8) uint64 {
	ino := self.tree.newInode(mode, 0)
	self.linkInode(name, ino, ftype, 0)
	return ino
}

// Raw adds an arbitrary item to the directory's tree.
func (self *Dir) Raw(k ondisk.Key, data []byte) {
	self.tree.items[k] = data
}

// Inode returns the inode item for ino, for tests to tweak before
// Build.
func (self *Dir) Inode(ino uint64) *ondisk.InodeItem {
	return self.tree.inodes[ino]
}

func (self *Dir) File(name string, data []byte) uint64 {
	return self.FileWith(name, data, FileOptions{})
}

func (self *Dir) FileWith(name string, data []byte, opts FileOptions) uint64 {
	t := self.tree
	perm := opts.Perm
	if perm == 0 {
		perm = 0644
	}
	ino := t.newInode(ondisk.ModeRegular|perm, uint64(len(data)))
	self.linkInode(name, ino, ondisk.FtRegFile, opts.NameHash)
	if len(data) == 0 && opts.PreallocTail == 0 {
		return ino
	}
	if !opts.Regular && opts.PreallocTail == 0 && len(data) <= InlineMax {
		t.addExtent(ino, 0, &ondisk.ExtentData{RAMBytes: uint64(len(data)),
			Compression: opts.Compression,
			Type:        ondisk.ExtentInline,
			Inline:      Compress(opts.Compression, data)})
		return ino
	}
	t.writeExtents(ino, data, opts)
	if opts.PreallocTail > 0 {
		ss := t.b.opts.SectorSize
		pos := roundUp(len(data), ss)
		tail := roundUp(opts.PreallocTail, ss)
		addr := t.b.data.Alloc(tail)
		junk := make([]byte, tail)
		for i := range junk {
			junk[i] = 0xee
		}
		t.b.data.Write(addr, junk)
		t.addExtent(ino, uint64(pos), &ondisk.ExtentData{RAMBytes: uint64(tail),
			Type:         ondisk.ExtentPrealloc,
			DiskBytenr:   addr,
			DiskNumBytes: uint64(tail),
			NumBytes:     uint64(tail)})
		t.inodes[ino].Size = uint64(pos + opts.PreallocTail)
	}
	return ino
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func (self *fsTree) writeExtents(ino uint64, data []byte, opts FileOptions) {
	ss := self.b.opts.SectorSize
	es := opts.ExtentSize
	if es == 0 {
		es = DefaultExtentSize
	}
	if es%ss != 0 {
		log.Panicf("extent size %d not a multiple of sector size %d", es, ss)
	}
	group := 1
	if opts.SharedExtents {
		group = 2
	}
	for off := 0; off < len(data); {
		start := off
		var pieces [][]byte
		for g := 0; g < group && off < len(data); g++ {
			end := off + es
			if end > len(data) {
				end = len(data)
			}
			piece := make([]byte, roundUp(end-off, ss))
			copy(piece, data[off:end])
			pieces = append(pieces, piece)
			off = end
		}
		if opts.Holes != HoleData && len(pieces) == 1 && isZero(pieces[0]) {
			if opts.Holes == HoleExplicit {
				self.addExtent(ino, uint64(start), &ondisk.ExtentData{
					RAMBytes: uint64(len(pieces[0])),
					Type:     ondisk.ExtentRegular,
					NumBytes: uint64(len(pieces[0]))})
			}
			continue
		}
		var blob []byte
		for _, p := range pieces {
			blob = append(blob, p...)
		}
		stored := Compress(opts.Compression, blob)
		addr := self.b.data.Alloc(len(stored))
		self.b.data.Write(addr, stored)
		pos := start
		for _, p := range pieces {
			self.addExtent(ino, uint64(pos), &ondisk.ExtentData{
				RAMBytes:     uint64(len(blob)),
				Compression:  opts.Compression,
				Type:         ondisk.ExtentRegular,
				DiskBytenr:   addr,
				DiskNumBytes: uint64(roundUp(len(stored), ss)),
				Offset:       uint64(pos - start),
				NumBytes:     uint64(len(p))})
			pos += len(p)
		}
	}
}
