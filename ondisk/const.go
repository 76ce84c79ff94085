/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 09:40:12 2019 mstenber
 * Last modified: Sun Feb 17 14:02:55 2019 mstenber
 * Edit time:     41 min
 *
 */

package ondisk

// ItemType is the middle component of a Key.
type ItemType uint8

const (
	InodeItemKey   ItemType = 0x01
	InodeRefKey    ItemType = 0x0c
	XattrItemKey   ItemType = 0x18
	DirItemKey     ItemType = 0x54
	DirIndexKey    ItemType = 0x60
	ExtentDataKey  ItemType = 0x6c
	RootItemKey    ItemType = 0x84
	RootBackrefKey ItemType = 0x90
	RootRefKey     ItemType = 0x9c
	DevItemKey     ItemType = 0xd8
	ChunkItemKey   ItemType = 0xe4
)

var itemTypeNames = map[ItemType]string{
	InodeItemKey:   "INODE_ITEM",
	InodeRefKey:    "INODE_REF",
	XattrItemKey:   "XATTR_ITEM",
	DirItemKey:     "DIR_ITEM",
	DirIndexKey:    "DIR_INDEX",
	ExtentDataKey:  "EXTENT_DATA",
	RootItemKey:    "ROOT_ITEM",
	RootBackrefKey: "ROOT_BACKREF",
	RootRefKey:     "ROOT_REF",
	DevItemKey:     "DEV_ITEM",
	ChunkItemKey:   "CHUNK_ITEM",
}

const (
	RootTreeObjectID    uint64 = 1
	ExtentTreeObjectID  uint64 = 2
	ChunkTreeObjectID   uint64 = 3
	DevTreeObjectID     uint64 = 4
	FSTreeObjectID      uint64 = 5
	RootTreeDirObjectID uint64 = 6

	// FirstChunkTreeObjectID is the objectid of all chunk items.
	FirstChunkTreeObjectID uint64 = 256

	// FirstFreeObjectID is the root directory inode of every
	// subvolume.
	FirstFreeObjectID uint64 = 256
)

const (
	SuperblockOffset  = 0x10000
	SuperblockSize    = 0x1000
	SysChunkArraySize = 0x800
	LabelSize         = 0x100
	ChecksumSize      = 32
	UUIDSize          = 16

	HeaderSize       = 0x65
	KeySize          = 17
	ItemSize         = KeySize + 8
	KeyPtrSize       = KeySize + 16
	ChunkItemSize    = 48
	StripeSize       = 32
	DevItemSize      = 0x62
	InodeItemSize    = 160
	DirItemSize      = 30
	RootItemSize     = 0xef
	InodeRefSize     = 10
	ExtentHeaderSize = 21
	ExtentRegSize    = ExtentHeaderSize + 32

	// MaxLevel bounds the height of any tree and the depth of
	// iteration paths.
	MaxLevel = 10

	// MaxSymlinkSize is the longest symlink target accepted.
	MaxSymlinkSize = 4096
)

// Magic is the superblock signature at offset 0x40.
const Magic = "_BHRfS_M"

// SuperblockMirrors lists the byte offsets where superblock copies may
// live. Copies past the end of the device are simply absent.
var SuperblockMirrors = []uint64{
	SuperblockOffset,
	0x4000000,
	0x4000000000,
	0x4000000000000,
}

// Chunk type / profile bits.
const (
	BlockGroupData     uint64 = 0x01
	BlockGroupSystem   uint64 = 0x02
	BlockGroupMetadata uint64 = 0x04
	BlockGroupRAID0    uint64 = 0x08
	BlockGroupRAID1    uint64 = 0x10
	BlockGroupDUP      uint64 = 0x20
	BlockGroupRAID10   uint64 = 0x40
	BlockGroupRAID5    uint64 = 0x80
	BlockGroupRAID6    uint64 = 0x100
	BlockGroupRAID1C3  uint64 = 0x200
	BlockGroupRAID1C4  uint64 = 0x400

	BlockGroupTypeMask    = BlockGroupData | BlockGroupSystem | BlockGroupMetadata
	BlockGroupProfileMask = BlockGroupRAID0 | BlockGroupRAID1 | BlockGroupDUP |
		BlockGroupRAID10 | BlockGroupRAID5 | BlockGroupRAID6 |
		BlockGroupRAID1C3 | BlockGroupRAID1C4
)

// Extent data types.
const (
	ExtentInline   uint8 = 0
	ExtentRegular  uint8 = 1
	ExtentPrealloc uint8 = 2
)

// Compression tags of extent data.
const (
	CompressNone uint8 = 0
	CompressZlib uint8 = 1
	CompressLZO  uint8 = 2
	CompressZstd uint8 = 3
)

// Directory item file types.
const (
	FtUnknown uint8 = 0
	FtRegFile uint8 = 1
	FtDir     uint8 = 2
	FtChrdev  uint8 = 3
	FtBlkdev  uint8 = 4
	FtFifo    uint8 = 5
	FtSock    uint8 = 6
	FtSymlink uint8 = 7
	FtXattr   uint8 = 8
)

// Unix mode file type bits, as found in inode items.
const (
	ModeTypeMask uint32 = 0170000
	ModeDir      uint32 = 0040000
	ModeRegular  uint32 = 0100000
	ModeSymlink  uint32 = 0120000
	ModeFifo     uint32 = 0010000
	ModeChrdev   uint32 = 0020000
	ModeBlkdev   uint32 = 0060000
	ModeSocket   uint32 = 0140000
)
