/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 10:02:44 2019 mstenber
 * Last modified: Mon Feb 18 19:40:31 2019 mstenber
 * Edit time:     64 min
 *
 */

package ondisk

import (
	"bytes"

	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/google/uuid"
)

// DevItem is the description of a single device. Only the fields the
// read path needs are decoded.
type DevItem struct {
	DevID      uint64
	TotalBytes uint64
	BytesUsed  uint64
	IOAlign    uint32
	IOWidth    uint32
	SectorSize uint32
	UUID       uuid.UUID
	FSID       uuid.UUID
}

func ParseDevItem(b []byte) (d DevItem) {
	d.DevID = le.Uint64(b)
	d.TotalBytes = le.Uint64(b[0x08:])
	d.BytesUsed = le.Uint64(b[0x10:])
	d.IOAlign = le.Uint32(b[0x18:])
	d.IOWidth = le.Uint32(b[0x1c:])
	d.SectorSize = le.Uint32(b[0x20:])
	copy(d.UUID[:], b[0x42:])
	copy(d.FSID[:], b[0x52:])
	return
}

func (self *DevItem) Put(b []byte) {
	le.PutUint64(b, self.DevID)
	le.PutUint64(b[0x08:], self.TotalBytes)
	le.PutUint64(b[0x10:], self.BytesUsed)
	le.PutUint32(b[0x18:], self.IOAlign)
	le.PutUint32(b[0x1c:], self.IOWidth)
	le.PutUint32(b[0x20:], self.SectorSize)
	copy(b[0x42:], self.UUID[:])
	copy(b[0x52:], self.FSID[:])
}

// Superblock is the decoded fixed-location volume header.
type Superblock struct {
	Checksum        [ChecksumSize]byte
	FSID            uuid.UUID
	Bytenr          uint64
	Flags           uint64
	Generation      uint64
	Root            uint64
	ChunkRoot       uint64
	LogRoot         uint64
	TotalBytes      uint64
	BytesUsed       uint64
	RootDirObjectID uint64
	NumDevices      uint64
	SectorSize      uint32
	NodeSize        uint32
	StripeSize      uint32
	ChunkRootGen    uint64
	CompatFlags     uint64
	CompatROFlags   uint64
	IncompatFlags   uint64
	CsumType        CsumType
	RootLevel       uint8
	ChunkRootLevel  uint8
	Device          DevItem
	Label           string
	SysChunkArray   []byte
}

const (
	sbFSID           = 0x20
	sbBytenr         = 0x30
	sbFlags          = 0x38
	sbMagic          = 0x40
	sbGeneration     = 0x48
	sbRoot           = 0x50
	sbChunkRoot      = 0x58
	sbLogRoot        = 0x60
	sbTotalBytes     = 0x70
	sbBytesUsed      = 0x78
	sbRootDirObjID   = 0x80
	sbNumDevices     = 0x88
	sbSectorSize     = 0x90
	sbNodeSize       = 0x94
	sbLeafSize       = 0x98
	sbStripeSize     = 0x9c
	sbSysArraySize   = 0xa0
	sbChunkRootGen   = 0xa4
	sbCompat         = 0xac
	sbCompatRO       = 0xb4
	sbIncompat       = 0xbc
	sbCsumType       = 0xc4
	sbRootLevel      = 0xc6
	sbChunkRootLevel = 0xc7
	sbDevItem        = 0xc9
	sbLabel          = 0x12b
	sbSysChunkArray  = 0x32b
)

// HasMagic tells if b (at least SuperblockSize bytes) looks like a
// superblock at all.
func HasMagic(b []byte) bool {
	return len(b) >= SuperblockSize &&
		string(b[sbMagic:sbMagic+len(Magic)]) == Magic
}

// ParseSuperblock decodes and validates a superblock. Missing magic
// is reported as unsupported (this is simply not btrfs), other
// problems as corruption.
func ParseSuperblock(b []byte) (*Superblock, error) {
	if !HasMagic(b) {
		return nil, fserr.Unsupported("no btrfs signature")
	}
	sb := &Superblock{}
	copy(sb.Checksum[:], b)
	copy(sb.FSID[:], b[sbFSID:])
	sb.Bytenr = le.Uint64(b[sbBytenr:])
	sb.Flags = le.Uint64(b[sbFlags:])
	sb.Generation = le.Uint64(b[sbGeneration:])
	sb.Root = le.Uint64(b[sbRoot:])
	sb.ChunkRoot = le.Uint64(b[sbChunkRoot:])
	sb.LogRoot = le.Uint64(b[sbLogRoot:])
	sb.TotalBytes = le.Uint64(b[sbTotalBytes:])
	sb.BytesUsed = le.Uint64(b[sbBytesUsed:])
	sb.RootDirObjectID = le.Uint64(b[sbRootDirObjID:])
	sb.NumDevices = le.Uint64(b[sbNumDevices:])
	sb.SectorSize = le.Uint32(b[sbSectorSize:])
	sb.NodeSize = le.Uint32(b[sbNodeSize:])
	sb.StripeSize = le.Uint32(b[sbStripeSize:])
	sb.ChunkRootGen = le.Uint64(b[sbChunkRootGen:])
	sb.CompatFlags = le.Uint64(b[sbCompat:])
	sb.CompatROFlags = le.Uint64(b[sbCompatRO:])
	sb.IncompatFlags = le.Uint64(b[sbIncompat:])
	sb.CsumType = CsumType(le.Uint16(b[sbCsumType:]))
	sb.RootLevel = b[sbRootLevel]
	sb.ChunkRootLevel = b[sbChunkRootLevel]
	sb.Device = ParseDevItem(b[sbDevItem:])
	label := b[sbLabel : sbLabel+LabelSize]
	if i := bytes.IndexByte(label, 0); i >= 0 {
		label = label[:i]
	}
	sb.Label = string(label)

	if !sb.CsumType.Valid() {
		return nil, fserr.Unsupported("checksum type %v", sb.CsumType)
	}
	if !sb.CsumType.Verify(b[:SuperblockSize]) {
		return nil, fserr.Corrupted("superblock checksum mismatch")
	}
	arraySize := le.Uint32(b[sbSysArraySize:])
	if arraySize > SysChunkArraySize {
		return nil, fserr.Corrupted("sys chunk array size %d", arraySize)
	}
	sb.SysChunkArray = append([]byte(nil),
		b[sbSysChunkArray:sbSysChunkArray+int(arraySize)]...)
	return sb, nil
}

// SectorShift validates the sector size and returns its log2.
func (self *Superblock) SectorShift() (uint, error) {
	for shift := uint(9); shift < 20; shift++ {
		if self.SectorSize == 1<<shift {
			return shift, nil
		}
	}
	return 0, fserr.Unsupported("sector size %d", self.SectorSize)
}

// Put encodes the superblock into b (SuperblockSize bytes) and stamps
// its checksum.
func (self *Superblock) Put(b []byte) {
	for i := range b[:SuperblockSize] {
		b[i] = 0
	}
	copy(b[sbFSID:], self.FSID[:])
	le.PutUint64(b[sbBytenr:], self.Bytenr)
	le.PutUint64(b[sbFlags:], self.Flags)
	copy(b[sbMagic:], Magic)
	le.PutUint64(b[sbGeneration:], self.Generation)
	le.PutUint64(b[sbRoot:], self.Root)
	le.PutUint64(b[sbChunkRoot:], self.ChunkRoot)
	le.PutUint64(b[sbLogRoot:], self.LogRoot)
	le.PutUint64(b[sbTotalBytes:], self.TotalBytes)
	le.PutUint64(b[sbBytesUsed:], self.BytesUsed)
	le.PutUint64(b[sbRootDirObjID:], self.RootDirObjectID)
	le.PutUint64(b[sbNumDevices:], self.NumDevices)
	le.PutUint32(b[sbSectorSize:], self.SectorSize)
	le.PutUint32(b[sbNodeSize:], self.NodeSize)
	le.PutUint32(b[sbLeafSize:], self.NodeSize)
	le.PutUint32(b[sbStripeSize:], self.StripeSize)
	le.PutUint32(b[sbSysArraySize:], uint32(len(self.SysChunkArray)))
	le.PutUint64(b[sbChunkRootGen:], self.ChunkRootGen)
	le.PutUint64(b[sbCompat:], self.CompatFlags)
	le.PutUint64(b[sbCompatRO:], self.CompatROFlags)
	le.PutUint64(b[sbIncompat:], self.IncompatFlags)
	le.PutUint16(b[sbCsumType:], uint16(self.CsumType))
	b[sbRootLevel] = self.RootLevel
	b[sbChunkRootLevel] = self.ChunkRootLevel
	self.Device.Put(b[sbDevItem:])
	copy(b[sbLabel:sbLabel+LabelSize-1], self.Label)
	copy(b[sbSysChunkArray:sbSysChunkArray+SysChunkArraySize], self.SysChunkArray)
	self.CsumType.Stamp(b[:SuperblockSize])
	copy(self.Checksum[:], b)
}
