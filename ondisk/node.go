/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 11:14:50 2019 mstenber
 * Last modified: Sat Feb 16 10:44:30 2019 mstenber
 * Edit time:     22 min
 *
 */

package ondisk

import "github.com/google/uuid"

// Header starts every tree node.
type Header struct {
	Checksum      [ChecksumSize]byte
	FSID          uuid.UUID
	Bytenr        uint64
	Flags         uint64
	ChunkTreeUUID uuid.UUID
	Generation    uint64
	Owner         uint64
	NumItems      uint32
	Level         uint8
}

func ParseHeader(b []byte) (h Header) {
	copy(h.Checksum[:], b)
	copy(h.FSID[:], b[0x20:])
	h.Bytenr = le.Uint64(b[0x30:])
	h.Flags = le.Uint64(b[0x38:])
	copy(h.ChunkTreeUUID[:], b[0x40:])
	h.Generation = le.Uint64(b[0x50:])
	h.Owner = le.Uint64(b[0x58:])
	h.NumItems = le.Uint32(b[0x60:])
	h.Level = b[0x64]
	return
}

// Put writes the header, except for the checksum which can be
// computed only once the whole node is filled.
func (self *Header) Put(b []byte) {
	copy(b[0x20:], self.FSID[:])
	le.PutUint64(b[0x30:], self.Bytenr)
	le.PutUint64(b[0x38:], self.Flags)
	copy(b[0x40:], self.ChunkTreeUUID[:])
	le.PutUint64(b[0x50:], self.Generation)
	le.PutUint64(b[0x58:], self.Owner)
	le.PutUint32(b[0x60:], self.NumItems)
	b[0x64] = self.Level
}

// Item is a leaf item descriptor. Offset is relative to the end of
// the node header.
type Item struct {
	Key    Key
	Offset uint32
	Size   uint32
}

func ParseItem(b []byte) Item {
	return Item{Key: ParseKey(b),
		Offset: le.Uint32(b[KeySize:]),
		Size:   le.Uint32(b[KeySize+4:])}
}

func (self *Item) Put(b []byte) {
	self.Key.Put(b)
	le.PutUint32(b[KeySize:], self.Offset)
	le.PutUint32(b[KeySize+4:], self.Size)
}

// KeyPtr is an internal node child pointer.
type KeyPtr struct {
	Key        Key
	BlockPtr   uint64
	Generation uint64
}

func ParseKeyPtr(b []byte) KeyPtr {
	return KeyPtr{Key: ParseKey(b),
		BlockPtr:   le.Uint64(b[KeySize:]),
		Generation: le.Uint64(b[KeySize+8:])}
}

func (self *KeyPtr) Put(b []byte) {
	self.Key.Put(b)
	le.PutUint64(b[KeySize:], self.BlockPtr)
	le.PutUint64(b[KeySize+8:], self.Generation)
}
