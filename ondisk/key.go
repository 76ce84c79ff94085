/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 09:52:01 2019 mstenber
 * Last modified: Sat Feb 16 10:21:44 2019 mstenber
 * Edit time:     17 min
 *
 */

package ondisk

import (
	"encoding/binary"
	"fmt"
)

var le = binary.LittleEndian

// Key is the btrfs (objectid, type, offset) triple. Keys are compared
// component by component in that order.
type Key struct {
	ObjectID uint64
	Type     ItemType
	Offset   uint64
}

// MaxOffset is used as key offset when the greatest key of some
// (objectid, type) is wanted.
const MaxOffset = ^uint64(0)

func ParseKey(b []byte) Key {
	return Key{ObjectID: le.Uint64(b),
		Type:   ItemType(b[8]),
		Offset: le.Uint64(b[9:])}
}

func (self Key) Put(b []byte) {
	le.PutUint64(b, self.ObjectID)
	b[8] = byte(self.Type)
	le.PutUint64(b[9:], self.Offset)
}

func (self Key) Compare(other Key) int {
	switch {
	case self.ObjectID < other.ObjectID:
		return -1
	case self.ObjectID > other.ObjectID:
		return 1
	case self.Type < other.Type:
		return -1
	case self.Type > other.Type:
		return 1
	case self.Offset < other.Offset:
		return -1
	case self.Offset > other.Offset:
		return 1
	}
	return 0
}

func (self Key) Less(other Key) bool {
	return self.Compare(other) < 0
}

func (self ItemType) String() string {
	if s, ok := itemTypeNames[self]; ok {
		return s
	}
	return fmt.Sprintf("TYPE_%d", uint8(self))
}

func (self Key) String() string {
	return fmt.Sprintf("(%d %v %d)", self.ObjectID, self.Type, self.Offset)
}
