/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 12:02:19 2019 mstenber
 * Last modified: Mon Feb 18 18:52:06 2019 mstenber
 * Edit time:     71 min
 *
 */

package ondisk

import (
	"time"

	"github.com/fingon/go-btrfsfw/fserr"
)

type Timespec struct {
	Sec  int64
	Nsec uint32
}

func parseTimespec(b []byte) Timespec {
	return Timespec{Sec: int64(le.Uint64(b)), Nsec: le.Uint32(b[8:])}
}

func (self Timespec) put(b []byte) {
	le.PutUint64(b, uint64(self.Sec))
	le.PutUint32(b[8:], self.Nsec)
}

func (self Timespec) Time() time.Time {
	return time.Unix(self.Sec, int64(self.Nsec))
}

func TimespecOf(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: uint32(t.Nanosecond())}
}

type InodeItem struct {
	Generation uint64
	TransID    uint64
	Size       uint64
	NBytes     uint64
	BlockGroup uint64
	NLink      uint32
	UID        uint32
	GID        uint32
	Mode       uint32
	RDev       uint64
	Flags      uint64
	Sequence   uint64
	ATime      Timespec
	CTime      Timespec
	MTime      Timespec
	OTime      Timespec
}

func ParseInodeItem(b []byte) (*InodeItem, error) {
	if len(b) < InodeItemSize {
		return nil, fserr.Corrupted("short inode item (%d bytes)", len(b))
	}
	return &InodeItem{
		Generation: le.Uint64(b),
		TransID:    le.Uint64(b[8:]),
		Size:       le.Uint64(b[16:]),
		NBytes:     le.Uint64(b[24:]),
		BlockGroup: le.Uint64(b[32:]),
		NLink:      le.Uint32(b[40:]),
		UID:        le.Uint32(b[44:]),
		GID:        le.Uint32(b[48:]),
		Mode:       le.Uint32(b[52:]),
		RDev:       le.Uint64(b[56:]),
		Flags:      le.Uint64(b[64:]),
		Sequence:   le.Uint64(b[72:]),
		ATime:      parseTimespec(b[112:]),
		CTime:      parseTimespec(b[124:]),
		MTime:      parseTimespec(b[136:]),
		OTime:      parseTimespec(b[148:]),
	}, nil
}

func (self *InodeItem) Put(b []byte) {
	le.PutUint64(b, self.Generation)
	le.PutUint64(b[8:], self.TransID)
	le.PutUint64(b[16:], self.Size)
	le.PutUint64(b[24:], self.NBytes)
	le.PutUint64(b[32:], self.BlockGroup)
	le.PutUint32(b[40:], self.NLink)
	le.PutUint32(b[44:], self.UID)
	le.PutUint32(b[48:], self.GID)
	le.PutUint32(b[52:], self.Mode)
	le.PutUint64(b[56:], self.RDev)
	le.PutUint64(b[64:], self.Flags)
	le.PutUint64(b[72:], self.Sequence)
	self.ATime.put(b[112:])
	self.CTime.put(b[124:])
	self.MTime.put(b[136:])
	self.OTime.put(b[148:])
}

// DirItem is one name inside a DIR_ITEM / DIR_INDEX payload. Several
// names share a payload when their hashes collide.
type DirItem struct {
	Location Key
	TransID  uint64
	Type     uint8
	Name     []byte
	Data     []byte
}

func ParseDirItems(b []byte) ([]DirItem, error) {
	var ret []DirItem
	for len(b) > 0 {
		if len(b) < DirItemSize {
			return nil, fserr.Corrupted("short dir item (%d bytes)", len(b))
		}
		dataLen := int(le.Uint16(b[25:]))
		nameLen := int(le.Uint16(b[27:]))
		end := DirItemSize + nameLen + dataLen
		if len(b) < end {
			return nil, fserr.Corrupted("dir item name/data past item end")
		}
		ret = append(ret, DirItem{
			Location: ParseKey(b),
			TransID:  le.Uint64(b[17:]),
			Type:     b[29],
			Name:     b[DirItemSize : DirItemSize+nameLen],
			Data:     b[DirItemSize+nameLen : end],
		})
		b = b[end:]
	}
	return ret, nil
}

func (self *DirItem) EncodedSize() int {
	return DirItemSize + len(self.Name) + len(self.Data)
}

func (self *DirItem) Put(b []byte) {
	self.Location.Put(b)
	le.PutUint64(b[17:], self.TransID)
	le.PutUint16(b[25:], uint16(len(self.Data)))
	le.PutUint16(b[27:], uint16(len(self.Name)))
	b[29] = self.Type
	copy(b[DirItemSize:], self.Name)
	copy(b[DirItemSize+len(self.Name):], self.Data)
}

// InodeRef is a back reference from an inode to a name in its
// parent directory (the parent is the key offset).
type InodeRef struct {
	Index uint64
	Name  []byte
}

func ParseInodeRef(b []byte) (*InodeRef, error) {
	if len(b) < InodeRefSize {
		return nil, fserr.Corrupted("short inode ref")
	}
	n := int(le.Uint16(b[8:]))
	if len(b) < InodeRefSize+n {
		return nil, fserr.Corrupted("inode ref name past item end")
	}
	return &InodeRef{Index: le.Uint64(b), Name: b[InodeRefSize : InodeRefSize+n]}, nil
}

func (self *InodeRef) Put(b []byte) {
	le.PutUint64(b, self.Index)
	le.PutUint16(b[8:], uint16(len(self.Name)))
	copy(b[InodeRefSize:], self.Name)
}

// ExtentData describes a piece of file content.
type ExtentData struct {
	Generation    uint64
	RAMBytes      uint64
	Compression   uint8
	Encryption    uint8
	OtherEncoding uint16
	Type          uint8

	// Inline payload (Type == ExtentInline)
	Inline []byte

	// Regular / prealloc
	DiskBytenr   uint64
	DiskNumBytes uint64
	Offset       uint64
	NumBytes     uint64
}

func ParseExtentData(b []byte) (*ExtentData, error) {
	if len(b) < ExtentHeaderSize {
		return nil, fserr.Corrupted("short extent item (%d bytes)", len(b))
	}
	e := &ExtentData{
		Generation:    le.Uint64(b),
		RAMBytes:      le.Uint64(b[8:]),
		Compression:   b[16],
		Encryption:    b[17],
		OtherEncoding: le.Uint16(b[18:]),
		Type:          b[20],
	}
	switch e.Type {
	case ExtentInline:
		e.Inline = b[ExtentHeaderSize:]
	case ExtentRegular, ExtentPrealloc:
		if len(b) < ExtentRegSize {
			return nil, fserr.Corrupted("short regular extent item (%d bytes)", len(b))
		}
		e.DiskBytenr = le.Uint64(b[21:])
		e.DiskNumBytes = le.Uint64(b[29:])
		e.Offset = le.Uint64(b[37:])
		e.NumBytes = le.Uint64(b[45:])
	default:
		return nil, fserr.Unsupported("extent type %d", e.Type)
	}
	return e, nil
}

// Length returns the number of file bytes the extent covers.
func (self *ExtentData) Length() uint64 {
	if self.Type == ExtentInline {
		return self.RAMBytes
	}
	return self.NumBytes
}

func (self *ExtentData) EncodedSize() int {
	if self.Type == ExtentInline {
		return ExtentHeaderSize + len(self.Inline)
	}
	return ExtentRegSize
}

func (self *ExtentData) Put(b []byte) {
	le.PutUint64(b, self.Generation)
	le.PutUint64(b[8:], self.RAMBytes)
	b[16] = self.Compression
	b[17] = self.Encryption
	le.PutUint16(b[18:], self.OtherEncoding)
	b[20] = self.Type
	if self.Type == ExtentInline {
		copy(b[ExtentHeaderSize:], self.Inline)
		return
	}
	le.PutUint64(b[21:], self.DiskBytenr)
	le.PutUint64(b[29:], self.DiskNumBytes)
	le.PutUint64(b[37:], self.Offset)
	le.PutUint64(b[45:], self.NumBytes)
}

// RootItem describes a tree in the root tree. Only the leading
// fields are decoded.
type RootItem struct {
	Inode      InodeItem
	Generation uint64
	RootDirID  uint64
	Bytenr     uint64
	ByteLimit  uint64
	BytesUsed  uint64
	Flags      uint64
	Refs       uint32
	Level      uint8
}

const rootItemMinSize = 0xb8

func ParseRootItem(b []byte) (*RootItem, error) {
	if len(b) < rootItemMinSize {
		return nil, fserr.Corrupted("short root item (%d bytes)", len(b))
	}
	ri := &RootItem{
		Generation: le.Uint64(b[0xa0:]),
		RootDirID:  le.Uint64(b[0xa8:]),
		Bytenr:     le.Uint64(b[0xb0:]),
	}
	if len(b) >= RootItemSize {
		ri.ByteLimit = le.Uint64(b[0xb8:])
		ri.BytesUsed = le.Uint64(b[0xc0:])
		ri.Flags = le.Uint64(b[0xd0:])
		ri.Refs = le.Uint32(b[0xd8:])
		ri.Level = b[0xee]
	}
	if ii, err := ParseInodeItem(b); err == nil {
		ri.Inode = *ii
	}
	return ri, nil
}

func (self *RootItem) Put(b []byte) {
	self.Inode.Put(b)
	le.PutUint64(b[0xa0:], self.Generation)
	le.PutUint64(b[0xa8:], self.RootDirID)
	le.PutUint64(b[0xb0:], self.Bytenr)
	le.PutUint64(b[0xb8:], self.ByteLimit)
	le.PutUint64(b[0xc0:], self.BytesUsed)
	le.PutUint64(b[0xd0:], self.Flags)
	le.PutUint32(b[0xd8:], self.Refs)
	b[0xee] = self.Level
}
