/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Mon Feb 11 21:40:12 2019 mstenber
 * Last modified: Tue Feb 19 08:51:30 2019 mstenber
 * Edit time:     131 min
 *
 */

// fstest builds synthetic btrfs volumes on in-memory devices.
//
// Builder collects subvolumes, directories and files, and Build lays
// them out the way mkfs.btrfs would: superblocks, a system chunk
// holding the chunk tree, and one data+metadata chunk of the chosen
// profile holding everything else. Nothing is read back through the
// engine while building, so tests of the engine do not test
// themselves.
package fstest

import (
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/storage"
	"github.com/fingon/go-btrfsfw/storage/inmemory"
)

const (
	SysChunkLogical  = 0x100000
	MainChunkLogical = 0x1000000

	sysChunkLength = 0x100000
	sysPhysical    = 0x100000
	mainPhysical   = 0x400000
	physAlign      = 0x100000

	// InlineMax is the largest file stored inline by default.
	InlineMax = 2048

	DefaultExtentSize = 16384
)

var baseTime = time.Date(2019, 2, 10, 12, 0, 0, 0, time.UTC)

type Options struct {
	// Profile is one of the ondisk.BlockGroupRAID* / DUP bits, or 0
	// for single.
	Profile    uint64
	NumDevices int

	SectorSize int
	NodeSize   int
	StripeLen  int
	CsumType   ondisk.CsumType
	Generation uint64
	Label      string
	FSID       uuid.UUID

	// DeviceSize overrides the device size recorded in
	// superblocks; it is what decides which superblock mirrors
	// are looked at.
	DeviceSize uint64

	MaxLeafItems int
	MaxPtrs      int
}

func (self *Options) setDefaults() {
	if self.NumDevices == 0 {
		self.NumDevices = DefaultDevices(self.Profile)
	}
	if self.SectorSize == 0 {
		self.SectorSize = 4096
	}
	if self.NodeSize == 0 {
		self.NodeSize = 4096
	}
	if self.StripeLen == 0 {
		self.StripeLen = 65536
	}
	if self.Generation == 0 {
		self.Generation = 7
	}
	if self.FSID == uuid.Nil {
		self.FSID = uuid.New()
	}
}

type Builder struct {
	opts        Options
	data        *Space
	trees       map[uint64]*fsTree
	nextTree    uint64
	defaultTree uint64
}

func NewBuilder(opts Options) *Builder {
	opts.setDefaults()
	self := &Builder{opts: opts,
		data:        NewSpace(MainChunkLogical, opts.SectorSize),
		trees:       make(map[uint64]*fsTree),
		nextTree:    ondisk.FirstFreeObjectID,
		defaultTree: ondisk.FSTreeObjectID,
	}
	self.newTree(ondisk.FSTreeObjectID)
	return self
}

func (self *Builder) Options() Options {
	return self.opts
}

// Root returns the root directory of the top-level subvolume.
func (self *Builder) Root() *Dir {
	return &Dir{tree: self.trees[ondisk.FSTreeObjectID], Ino: ondisk.FirstFreeObjectID}
}

// SetDefault makes the subvolume of d the one pointed at by the
// "default" entry of the root tree directory.
func (self *Builder) SetDefault(d *Dir) {
	self.defaultTree = d.tree.id
}

func (self *Builder) newTree(id uint64) *fsTree {
	t := &fsTree{b: self, id: id,
		items:     make(map[ondisk.Key][]byte),
		inodes:    make(map[uint64]*ondisk.InodeItem),
		nextIno:   ondisk.FirstFreeObjectID,
		nextIndex: make(map[uint64]uint64)}
	self.trees[id] = t
	root := t.newInode(ondisk.ModeDir|0755, 0)
	ref := ondisk.InodeRef{Name: []byte("..")}
	t.items[ondisk.Key{ObjectID: root, Type: ondisk.InodeRefKey, Offset: root}] = encodeInodeRef(&ref)
	return t
}

func (self *Builder) treeOptions(owner uint64) TreeOptions {
	return TreeOptions{NodeSize: self.opts.NodeSize,
		Owner:        owner,
		Generation:   self.opts.Generation,
		FSID:         self.opts.FSID,
		CsumType:     self.opts.CsumType,
		MaxLeafItems: self.opts.MaxLeafItems,
		MaxPtrs:      self.opts.MaxPtrs}
}

type fsTree struct {
	b         *Builder
	id        uint64
	items     map[ondisk.Key][]byte
	inodes    map[uint64]*ondisk.InodeItem
	nextIno   uint64
	nextIndex map[uint64]uint64
}

func (self *fsTree) newInode(mode uint32, size uint64) uint64 {
	ino := self.nextIno
	self.nextIno++
	gen := self.b.opts.Generation
	ts := ondisk.TimespecOf(baseTime.Add(time.Duration(ino) * time.Second))
	self.inodes[ino] = &ondisk.InodeItem{Generation: gen,
		TransID: gen,
		Size:    size,
		NBytes:  size,
		NLink:   1,
		UID:     1000,
		GID:     1000,
		Mode:    mode,
		ATime:   ts,
		CTime:   ts,
		MTime:   ts,
		OTime:   ts}
	return ino
}

func (self *fsTree) treeItems() []TreeItem {
	ret := make([]TreeItem, 0, len(self.items)+len(self.inodes))
	for k, v := range self.items {
		ret = append(ret, TreeItem{Key: k, Data: v})
	}
	for ino, inode := range self.inodes {
		ret = append(ret, TreeItem{
			Key:  ondisk.Key{ObjectID: ino, Type: ondisk.InodeItemKey},
			Data: encodeInode(inode)})
	}
	return ret
}

func (self *fsTree) addExtent(ino, pos uint64, e *ondisk.ExtentData) {
	e.Generation = self.b.opts.Generation
	buf := make([]byte, e.EncodedSize())
	e.Put(buf)
	self.items[ondisk.Key{ObjectID: ino, Type: ondisk.ExtentDataKey, Offset: pos}] = buf
}

func encodeInode(inode *ondisk.InodeItem) []byte {
	buf := make([]byte, ondisk.InodeItemSize)
	inode.Put(buf)
	return buf
}

func encodeInodeRef(ref *ondisk.InodeRef) []byte {
	buf := make([]byte, ondisk.InodeRefSize+len(ref.Name))
	ref.Put(buf)
	return buf
}

func encodeDirItem(di *ondisk.DirItem) []byte {
	buf := make([]byte, di.EncodedSize())
	di.Put(buf)
	return buf
}

// Image is the result of Build.
type Image struct {
	Devices     []*inmemory.Backend
	Superblocks []ondisk.Superblock
	Options     Options

	SysChunk, MainChunk *ondisk.ChunkItem

	// Content is the logical content of the main chunk.
	Content []byte
}

// Storage returns the devices as storage.Devices.
func (self *Image) Storage() []storage.Device {
	ret := make([]storage.Device, len(self.Devices))
	for i, d := range self.Devices {
		ret[i] = d
	}
	return ret
}

// WriteSuperblock writes a copy of device i's superblock, modified
// by mutate (if non-nil), at byte offset off.
func (self *Image) WriteSuperblock(i int, off uint64, mutate func(sb *ondisk.Superblock)) {
	sb := self.Superblocks[i]
	sb.Bytenr = off
	if mutate != nil {
		mutate(&sb)
	}
	buf := make([]byte, ondisk.SuperblockSize)
	sb.Put(buf)
	self.Devices[i].WriteAt(buf, int64(off))
}

// Build lays out the volume and returns the devices.
func (self *Builder) Build() *Image {
	o := self.opts

	ids := make([]uint64, 0, len(self.trees))
	for id := range self.trees {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rootItems []TreeItem
	for _, id := range ids {
		t := self.trees[id]
		addr, level := BuildTree(t.treeItems(), self.treeOptions(id), self.data)
		ri := ondisk.RootItem{Inode: *t.inodes[ondisk.FirstFreeObjectID],
			Generation: o.Generation,
			RootDirID:  ondisk.FirstFreeObjectID,
			Bytenr:     addr,
			Refs:       1,
			Level:      level}
		buf := make([]byte, ondisk.RootItemSize)
		ri.Put(buf)
		rootItems = append(rootItems, TreeItem{
			Key:  ondisk.Key{ObjectID: id, Type: ondisk.RootItemKey},
			Data: buf})
	}
	ts := ondisk.TimespecOf(baseTime)
	rootDir := ondisk.InodeItem{Generation: o.Generation, NLink: 1,
		Mode: ondisk.ModeDir | 0755, ATime: ts, CTime: ts, MTime: ts, OTime: ts}
	def := ondisk.DirItem{
		Location: ondisk.Key{ObjectID: self.defaultTree, Type: ondisk.RootItemKey, Offset: ondisk.MaxOffset},
		TransID:  o.Generation,
		Type:     ondisk.FtDir,
		Name:     []byte("default")}
	rootItems = append(rootItems,
		TreeItem{Key: ondisk.Key{ObjectID: ondisk.RootTreeDirObjectID, Type: ondisk.InodeItemKey},
			Data: encodeInode(&rootDir)},
		TreeItem{Key: ondisk.Key{ObjectID: ondisk.RootTreeDirObjectID, Type: ondisk.DirItemKey,
			Offset: ondisk.NameHash(def.Name)},
			Data: encodeDirItem(&def)})
	rootTree, rootLevel := BuildTree(rootItems, self.treeOptions(ondisk.RootTreeObjectID), self.data)

	n := o.NumDevices
	mainGeo := newGeometry(o.Profile, n)
	mainLen := roundUp(self.data.Len(), mainGeo.rowSize(o.StripeLen))
	mainPer := mainGeo.perStripe(mainLen)

	sysProfile := uint64(0)
	switch {
	case n == 1 && o.Profile == ondisk.BlockGroupDUP:
		sysProfile = ondisk.BlockGroupDUP
	case n == 2:
		sysProfile = ondisk.BlockGroupRAID1
	case n == 3:
		sysProfile = ondisk.BlockGroupRAID1C3
	case n >= 4:
		sysProfile = ondisk.BlockGroupRAID1C4
	}
	sysGeo := newGeometry(sysProfile, n)

	devUUIDs := make([]uuid.UUID, n)
	for i := range devUUIDs {
		devUUIDs[i] = uuid.New()
	}
	stripes := func(g geometry, phys uint64, per int) []ondisk.Stripe {
		ret := make([]ondisk.Stripe, g.stripes)
		for i := range ret {
			ret[i] = ondisk.Stripe{DevID: uint64(i) + 1, Offset: phys, DevUUID: devUUIDs[i]}
			if g.profile == ondisk.BlockGroupDUP {
				ret[i] = ondisk.Stripe{DevID: 1,
					Offset:  phys + uint64(i*roundUp(per, physAlign)),
					DevUUID: devUUIDs[0]}
			}
		}
		return ret
	}
	chunk := func(g geometry, typ uint64, length int, phys uint64) *ondisk.ChunkItem {
		return &ondisk.ChunkItem{Length: uint64(length),
			Owner:      ondisk.ExtentTreeObjectID,
			StripeLen:  uint64(o.StripeLen),
			Type:       typ | g.profile,
			IOAlign:    uint32(o.StripeLen),
			IOWidth:    uint32(o.StripeLen),
			SectorSize: uint32(o.SectorSize),
			SubStripes: uint16(g.subStripes),
			Stripes:    stripes(g, phys, g.perStripe(length))}
	}
	sysChunk := chunk(sysGeo, ondisk.BlockGroupSystem, sysChunkLength, sysPhysical)
	mainChunk := chunk(mainGeo, ondisk.BlockGroupData|ondisk.BlockGroupMetadata, mainLen, mainPhysical)

	devSize := uint64(mainPhysical + roundUp(mainPer, physAlign))
	if o.Profile == ondisk.BlockGroupDUP {
		devSize += uint64(roundUp(mainPer, physAlign))
	}
	if o.DeviceSize > devSize {
		devSize = o.DeviceSize
	}
	devItems := make([]ondisk.DevItem, n)
	for i := range devItems {
		devItems[i] = ondisk.DevItem{DevID: uint64(i) + 1,
			TotalBytes: devSize,
			BytesUsed:  uint64(sysChunkLength + mainPer),
			IOAlign:    uint32(o.SectorSize),
			IOWidth:    uint32(o.SectorSize),
			SectorSize: uint32(o.SectorSize),
			UUID:       devUUIDs[i],
			FSID:       o.FSID}
	}

	sys := NewSpace(SysChunkLogical, o.SectorSize)
	var chunkItems []TreeItem
	for _, c := range []struct {
		logical uint64
		chunk   *ondisk.ChunkItem
	}{{SysChunkLogical, sysChunk}, {MainChunkLogical, mainChunk}} {
		buf := make([]byte, c.chunk.EncodedSize())
		c.chunk.Put(buf)
		chunkItems = append(chunkItems, TreeItem{
			Key: ondisk.Key{ObjectID: ondisk.FirstChunkTreeObjectID,
				Type: ondisk.ChunkItemKey, Offset: c.logical},
			Data: buf})
	}
	for i := range devItems {
		buf := make([]byte, ondisk.DevItemSize)
		devItems[i].Put(buf)
		chunkItems = append(chunkItems, TreeItem{
			Key:  ondisk.Key{ObjectID: 1, Type: ondisk.DevItemKey, Offset: devItems[i].DevID},
			Data: buf})
	}
	chunkRoot, chunkLevel := BuildTree(chunkItems, self.treeOptions(ondisk.ChunkTreeObjectID), sys)
	if sys.Len() > sysChunkLength {
		log.Panicf("chunk tree too large: %d bytes", sys.Len())
	}

	img := &Image{Options: o, SysChunk: sysChunk, MainChunk: mainChunk}
	for i := 0; i < n; i++ {
		img.Devices = append(img.Devices, inmemory.New(devSize))
	}
	place := func(g geometry, c *ondisk.ChunkItem, content []byte) {
		g.scatter(content, o.StripeLen, func(stripe int, off int, p []byte) {
			s := c.Stripes[stripe]
			img.Devices[s.DevID-1].WriteAt(p, int64(s.Offset)+int64(off))
		})
	}
	place(sysGeo, sysChunk, sys.Bytes(sysChunkLength))
	img.Content = self.data.Bytes(mainLen)
	place(mainGeo, mainChunk, img.Content)

	sysArray := ondisk.AppendSysChunk(nil,
		ondisk.Key{ObjectID: ondisk.FirstChunkTreeObjectID, Type: ondisk.ChunkItemKey, Offset: SysChunkLogical},
		sysChunk)
	for i := 0; i < n; i++ {
		sb := ondisk.Superblock{FSID: o.FSID,
			Bytenr:          ondisk.SuperblockOffset,
			Generation:      o.Generation,
			Root:            rootTree,
			ChunkRoot:       chunkRoot,
			TotalBytes:      devSize * uint64(n),
			BytesUsed:       uint64(self.data.Len() + sys.Len()),
			RootDirObjectID: ondisk.RootTreeDirObjectID,
			NumDevices:      uint64(n),
			SectorSize:      uint32(o.SectorSize),
			NodeSize:        uint32(o.NodeSize),
			StripeSize:      uint32(o.SectorSize),
			ChunkRootGen:    o.Generation,
			CsumType:        o.CsumType,
			RootLevel:       rootLevel,
			ChunkRootLevel:  chunkLevel,
			Device:          devItems[i],
			Label:           o.Label,
			SysChunkArray:   sysArray}
		img.Superblocks = append(img.Superblocks, sb)
		img.WriteSuperblock(i, ondisk.SuperblockOffset, nil)
	}
	return img
}
