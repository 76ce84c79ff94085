/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Sun Dec 24 17:15:30 2017 mstenber
 * Last modified: Mon Feb 18 21:31:40 2019 mstenber
 * Edit time:     92 min
 *
 */

package codec_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/fingon/go-btrfsfw/codec"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/fstest"
	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/stvp/assert"
)

const compressible = "123456789123456789123456789123456789123456789123456789123456789123456789123456789123456789123456789"

func ProdCodecOnce(text string, c codec.Codec, t *testing.T) {
	p := []byte(text)
	enc, err := c.EncodeBytes(p, nil)
	assert.Nil(t, err)
	dec, err := c.DecodeBytes(enc, nil)
	assert.Nil(t, err)
	assert.Equal(t, p, dec)
}

func ProdCodec(c codec.Codec, t *testing.T) {
	ProdCodecOnce("foo", c, t)
	ProdCodecOnce(compressible, c, t)
}

func TestCompressingCodec(t *testing.T) {
	t.Parallel()
	for _, name := range codec.Names() {
		name := name
		t.Run(name, func(t *testing.T) {
			c, err := codec.ByName(name)
			assert.Nil(t, err)
			ProdCodec(c, t)
			enc, err := c.EncodeBytes([]byte(compressible), nil)
			assert.Nil(t, err)
			if name == "plain" {
				assert.Equal(t, len(enc), len(compressible)+1)
			} else {
				assert.True(t, len(enc) < len(compressible)/2)
			}
			// incompressible data costs exactly one byte
			enc, err = c.EncodeBytes([]byte("foo"), nil)
			assert.Nil(t, err)
			assert.Equal(t, len(enc), 4)
		})
	}
	_, err := codec.ByName("zip")
	assert.NotNil(t, err)
}

func TestCodecChain(t *testing.T) {
	t.Parallel()
	c1, _ := codec.ByName("snappy")
	c2, _ := codec.ByName("lz4")
	ProdCodec(codec.CodecChain{}.Init(c1, c2), t)
	ProdCodec(codec.CodecChain{}.Init(), t)
}

func TestCorruptBlock(t *testing.T) {
	t.Parallel()
	c, _ := codec.ByName("lz4")
	enc, err := c.EncodeBytes([]byte(compressible), nil)
	assert.Nil(t, err)
	_, err = c.DecodeBytes(enc[:len(enc)-3], nil)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
	_, err = c.DecodeBytes([]byte{42, 1, 2}, nil)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))

	huge := []byte{byte(codec.AlgorithmLZ4)}
	huge = binary.AppendUvarint(huge, 1<<40)
	_, err = c.DecodeBytes(append(huge, 0), nil)
	assert.True(t, errors.Is(err, fserr.ErrOutOfMemory), err)
}

func extentPayload(size int) []byte {
	var b bytes.Buffer
	for i := 0; b.Len() < size; i++ {
		fmt.Fprintf(&b, "line %d of a compressible btrfs extent\n", i)
	}
	return b.Bytes()[:size]
}

// Decoding any window must be equal to decoding everything and
// slicing.
func TestDecompressWindow(t *testing.T) {
	t.Parallel()
	plain := extentPayload(3*4096 + 123)
	for _, ct := range []uint8{ondisk.CompressNone, ondisk.CompressZlib,
		ondisk.CompressLZO, ondisk.CompressZstd} {
		ct := ct
		t.Run(fmt.Sprintf("type%d", ct), func(t *testing.T) {
			src := fstest.Compress(ct, plain)
			full := make([]byte, len(plain))
			n, err := codec.DecompressWindow(ct, src, 0, full)
			assert.Nil(t, err)
			assert.Equal(t, n, len(plain))
			assert.Equal(t, full, plain)

			windows := [][2]int{{0, 1}, {1, 4095}, {4095, 2}, {4096, 4096},
				{5000, 9000}, {8192, 4096 + 123}, {12000, 211}}
			for _, w := range windows {
				out := make([]byte, w[1])
				n, err := codec.DecompressWindow(ct, src, uint64(w[0]), out)
				assert.Nil(t, err)
				assert.Equal(t, n, w[1])
				assert.Equal(t, out, plain[w[0]:w[0]+w[1]])
			}

			// past the end of the stream the result is short
			out := make([]byte, 200)
			n, err = codec.DecompressWindow(ct, src, uint64(len(plain)-100), out)
			assert.Nil(t, err)
			assert.Equal(t, n, 100)
			n, err = codec.DecompressWindow(ct, src, uint64(len(plain)+4096), out)
			assert.Nil(t, err)
			assert.Equal(t, n, 0)
		})
	}
}

func TestDecompressInvalid(t *testing.T) {
	t.Parallel()
	_, err := codec.ForExtent(4)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))
	_, err = codec.ForExtent(255)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))

	out := make([]byte, 10)
	src := fstest.Compress(ondisk.CompressLZO, []byte(compressible))
	bad := append([]byte(nil), src...)
	bad[0] = 0xff
	_, err = codec.DecompressWindow(ondisk.CompressLZO, bad, 0, out)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	_, err = codec.DecompressWindow(ondisk.CompressLZO, src[:2], 0, out)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	_, err = codec.DecompressWindow(ondisk.CompressZlib, []byte("not zlib"), 0, out)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
}
