/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 16:42:12 2017 mstenber
 * Last modified: Sun Feb 10 14:41:30 2019 mstenber
 * Edit time:     97 min
 *
 */

// codec library has two halves.
//
// Codec transforms whole byte slices back and forth; image stores
// use CompressingCodec (lz4 or snappy) on their blocks, and
// CodecChain makes it possible to combine several.
//
// Decompressor (see extent.go) is the read side of btrfs file extent
// compression: zlib, LZO and zstd, decoding only a requested window
// of the uncompressed stream.
package codec

import (
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/fingon/go-btrfsfw/fserr"
)

// Codec
//
// Single transformation of byte slices. additionalData is context the
// caller associates with data (image stores pass the block index).
type Codec interface {
	DecodeBytes(data, additionalData []byte) (ret []byte, err error)
	EncodeBytes(data, additionalData []byte) (ret []byte, err error)
}

type Algorithm byte

const (
	AlgorithmPlain Algorithm = iota
	AlgorithmLZ4
	AlgorithmSnappy
)

var algorithmNames = map[string]Algorithm{
	"plain":  AlgorithmPlain,
	"lz4":    AlgorithmLZ4,
	"snappy": AlgorithmSnappy,
}

// CompressingCodec
//
// On-the-fly compressing Codec. The first byte of the result tells
// the algorithm; if compression does not help, the data is stored
// plain (at cost of 1 byte).
type CompressingCodec struct {
	Algorithm Algorithm
}

// largestDecodeSize bounds lz4 decode buffers; gigabyte at once is
// madness.
const largestDecodeSize = 1 << 30

func (self *CompressingCodec) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	if len(data) == 0 {
		return nil, fserr.Corrupted("empty encoded block")
	}
	body := data[1:]
	switch Algorithm(data[0]) {
	case AlgorithmPlain:
		ret = body
	case AlgorithmLZ4:
		size, n := binary.Uvarint(body)
		if n <= 0 {
			return nil, fserr.Corrupted("lz4 block length")
		}
		if size > largestDecodeSize {
			return nil, fserr.OutOfMemory("lz4 block of %d bytes", size)
		}
		ret = make([]byte, size)
		var got int
		got, err = lz4.UncompressBlock(body[n:], ret)
		if err != nil {
			return nil, fserr.Corrupted("lz4: %v", err)
		}
		if uint64(got) != size {
			return nil, fserr.Corrupted("lz4 block decoded to %d, not %d", got, size)
		}
	case AlgorithmSnappy:
		ret, err = snappy.Decode(nil, body)
		if err != nil {
			return nil, fserr.Corrupted("snappy: %v", err)
		}
	default:
		return nil, fserr.Unsupported("block algorithm %d", data[0])
	}
	return
}

func (self *CompressingCodec) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	switch self.Algorithm {
	case AlgorithmLZ4:
		rd := make([]byte, 1+binary.MaxVarintLen64+lz4.CompressBlockBound(len(data)))
		rd[0] = byte(AlgorithmLZ4)
		hdr := 1 + binary.PutUvarint(rd[1:], uint64(len(data)))
		var n int
		n, err = lz4.CompressBlock(data, rd[hdr:], nil)
		if err != nil {
			return
		}
		if n > 0 && hdr+n < len(data)+1 {
			return rd[:hdr+n], nil
		}
	case AlgorithmSnappy:
		enc := snappy.Encode(nil, data)
		if len(enc) < len(data) {
			return append([]byte{byte(AlgorithmSnappy)}, enc...), nil
		}
	}
	return append([]byte{byte(AlgorithmPlain)}, data...), nil
}

type CodecChain struct {
	codecs, reverseCodecs []Codec
}

// Init method initializes the codec chain.
//
// codecs are given in decoding order.
func (self CodecChain) Init(codecs ...Codec) *CodecChain {
	self.codecs = codecs
	rc := make([]Codec, len(codecs))
	for i, c := range codecs {
		rc[len(codecs)-i-1] = c
	}
	self.reverseCodecs = rc
	return &self
}

func (self *CodecChain) DecodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.codecs {
		ret, err = c.DecodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}

func (self *CodecChain) EncodeBytes(data, additionalData []byte) (ret []byte, err error) {
	ret = data
	for _, c := range self.reverseCodecs {
		ret, err = c.EncodeBytes(ret, additionalData)
		if err != nil {
			return
		}
	}
	return
}

// ByName returns the block codec called name ("plain", "lz4" or
// "snappy").
func ByName(name string) (Codec, error) {
	a, ok := algorithmNames[name]
	if !ok {
		return nil, errors.Errorf("unknown codec %q", name)
	}
	return &CompressingCodec{Algorithm: a}, nil
}

// Names lists the names ByName accepts.
func Names() []string {
	return []string{"plain", "lz4", "snappy"}
}
