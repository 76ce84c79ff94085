/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 11:31:02 2019 mstenber
 * Last modified: Mon Feb 18 09:15:27 2019 mstenber
 * Edit time:     36 min
 *
 */

package ondisk

import (
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/google/uuid"
)

type Stripe struct {
	DevID   uint64
	Offset  uint64
	DevUUID uuid.UUID
}

// ChunkItem maps [key.Offset, key.Offset+Length) of logical address
// space to device stripes.
type ChunkItem struct {
	Length     uint64
	Owner      uint64
	StripeLen  uint64
	Type       uint64
	IOAlign    uint32
	IOWidth    uint32
	SectorSize uint32
	SubStripes uint16
	Stripes    []Stripe
}

// ParseChunkItem decodes a chunk item and its stripes from b,
// returning the number of bytes used.
func ParseChunkItem(b []byte) (*ChunkItem, int, error) {
	if len(b) < ChunkItemSize {
		return nil, 0, fserr.Corrupted("short chunk item (%d bytes)", len(b))
	}
	c := &ChunkItem{
		Length:     le.Uint64(b),
		Owner:      le.Uint64(b[8:]),
		StripeLen:  le.Uint64(b[16:]),
		Type:       le.Uint64(b[24:]),
		IOAlign:    le.Uint32(b[32:]),
		IOWidth:    le.Uint32(b[36:]),
		SectorSize: le.Uint32(b[40:]),
		SubStripes: le.Uint16(b[46:]),
	}
	n := int(le.Uint16(b[44:]))
	size := ChunkItemSize + n*StripeSize
	if len(b) < size {
		return nil, 0, fserr.Corrupted("chunk item with %d stripes truncated", n)
	}
	c.Stripes = make([]Stripe, n)
	for i := range c.Stripes {
		sb := b[ChunkItemSize+i*StripeSize:]
		c.Stripes[i].DevID = le.Uint64(sb)
		c.Stripes[i].Offset = le.Uint64(sb[8:])
		copy(c.Stripes[i].DevUUID[:], sb[16:])
	}
	return c, size, nil
}

func (self *ChunkItem) EncodedSize() int {
	return ChunkItemSize + len(self.Stripes)*StripeSize
}

func (self *ChunkItem) Put(b []byte) {
	le.PutUint64(b, self.Length)
	le.PutUint64(b[8:], self.Owner)
	le.PutUint64(b[16:], self.StripeLen)
	le.PutUint64(b[24:], self.Type)
	le.PutUint32(b[32:], self.IOAlign)
	le.PutUint32(b[36:], self.IOWidth)
	le.PutUint32(b[40:], self.SectorSize)
	le.PutUint16(b[44:], uint16(len(self.Stripes)))
	le.PutUint16(b[46:], self.SubStripes)
	for i, s := range self.Stripes {
		sb := b[ChunkItemSize+i*StripeSize:]
		le.PutUint64(sb, s.DevID)
		le.PutUint64(sb[8:], s.Offset)
		copy(sb[16:], s.DevUUID[:])
	}
}

// Profile returns the redundancy profile bits of the chunk.
func (self *ChunkItem) Profile() uint64 {
	return self.Type & BlockGroupProfileMask
}

// SysChunk is one bootstrap entry of the superblock system chunk
// array.
type SysChunk struct {
	Key   Key
	Chunk *ChunkItem
}

// ParseSysChunkArray decodes the (key, chunk item) pairs embedded in
// the superblock.
func ParseSysChunkArray(b []byte) ([]SysChunk, error) {
	var ret []SysChunk
	for len(b) > 0 {
		if len(b) < KeySize {
			return nil, fserr.Corrupted("sys chunk array trailing %d bytes", len(b))
		}
		k := ParseKey(b)
		if k.Type != ChunkItemKey {
			return nil, fserr.Corrupted("sys chunk array key %v", k)
		}
		c, n, err := ParseChunkItem(b[KeySize:])
		if err != nil {
			return nil, err
		}
		ret = append(ret, SysChunk{Key: k, Chunk: c})
		b = b[KeySize+n:]
	}
	return ret, nil
}

// AppendSysChunk encodes one more bootstrap entry.
func AppendSysChunk(b []byte, k Key, c *ChunkItem) []byte {
	buf := make([]byte, KeySize+c.EncodedSize())
	k.Put(buf)
	c.Put(buf[KeySize:])
	return append(b, buf...)
}
