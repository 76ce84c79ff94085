/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 10:30:17 2019 mstenber
 * Last modified: Sun Feb 17 13:12:09 2019 mstenber
 * Edit time:     33 min
 *
 */

package ondisk

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
	"github.com/minio/sha256-simd"
	"golang.org/x/crypto/blake2b"
)

// CsumType identifies the metadata checksum algorithm of a volume.
type CsumType uint16

const (
	CsumCRC32C  CsumType = 0
	CsumXXHash  CsumType = 1
	CsumSHA256  CsumType = 2
	CsumBlake2b CsumType = 3
)

// csumStart is the first byte covered by superblock and node
// checksums; everything before it is the checksum itself.
const csumStart = ChecksumSize

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func (self CsumType) Valid() bool {
	return self <= CsumBlake2b
}

func (self CsumType) String() string {
	switch self {
	case CsumCRC32C:
		return "crc32c"
	case CsumXXHash:
		return "xxhash64"
	case CsumSHA256:
		return "sha256"
	case CsumBlake2b:
		return "blake2b"
	}
	return fmt.Sprintf("csum_%d", uint16(self))
}

// Size is the number of meaningful bytes in the 32 byte checksum
// field.
func (self CsumType) Size() int {
	switch self {
	case CsumCRC32C:
		return 4
	case CsumXXHash:
		return 8
	}
	return 32
}

// Sum returns the checksum of data, zero padded to ChecksumSize.
func (self CsumType) Sum(data []byte) []byte {
	ret := make([]byte, ChecksumSize)
	switch self {
	case CsumCRC32C:
		le.PutUint32(ret, crc32.Checksum(data, castagnoli))
	case CsumXXHash:
		le.PutUint64(ret, xxhash.Sum64(data))
	case CsumSHA256:
		h := sha256.Sum256(data)
		copy(ret, h[:])
	case CsumBlake2b:
		h := blake2b.Sum256(data)
		copy(ret, h[:])
	}
	return ret
}

// Verify checks a checksummed block (superblock or tree node) in place.
func (self CsumType) Verify(block []byte) bool {
	if len(block) < csumStart {
		return false
	}
	n := self.Size()
	return bytes.Equal(block[:n], self.Sum(block[csumStart:])[:n])
}

// Stamp fills in the checksum of a block.
func (self CsumType) Stamp(block []byte) {
	copy(block[:ChecksumSize], self.Sum(block[csumStart:]))
}

// NameHash is the directory item key offset for name.
func NameHash(name []byte) uint64 {
	return uint64(^crc32.Update(1, castagnoli, name))
}
