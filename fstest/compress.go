/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sun Feb 10 16:44:02 2019 mstenber
 * Last modified: Mon Feb 18 21:22:15 2019 mstenber
 * Edit time:     43 min
 *
 */

package fstest

import (
	"bytes"
	"encoding/binary"
	"log"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/fingon/go-btrfsfw/ondisk"
)

const lzoPage = 4096

// Compress encodes data the way btrfs stores an extent compressed
// with the given tag.
func Compress(compression uint8, data []byte) []byte {
	switch compression {
	case ondisk.CompressNone:
		return append([]byte(nil), data...)
	case ondisk.CompressZlib:
		var b bytes.Buffer
		w := zlib.NewWriter(&b)
		if _, err := w.Write(data); err != nil {
			log.Panic(err)
		}
		if err := w.Close(); err != nil {
			log.Panic(err)
		}
		return b.Bytes()
	case ondisk.CompressLZO:
		return lzoFrame(data)
	case ondisk.CompressZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			log.Panic(err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil)
	}
	log.Panicf("unknown compression %d", compression)
	return nil
}

// lzoLiterals produces a LZO1X stream consisting of a single literal
// run followed by the end-of-stream marker. It does not compress, but
// any LZO1X decoder must accept it.
func lzoLiterals(data []byte) []byte {
	n := len(data)
	var out []byte
	switch {
	case n == 0:
	case n <= 238:
		out = append(out, byte(17+n))
	default:
		out = append(out, 0)
		rem := n - 18
		for rem > 255 {
			out = append(out, 0)
			rem -= 255
		}
		out = append(out, byte(rem))
	}
	out = append(out, data...)
	return append(out, 0x11, 0, 0)
}

func lzoFrame(data []byte) []byte {
	out := make([]byte, 4)
	for len(data) > 0 {
		n := lzoPage
		if n > len(data) {
			n = len(data)
		}
		seg := lzoLiterals(data[:n])
		data = data[n:]
		if rem := lzoPage - len(out)%lzoPage; rem < 4 {
			out = append(out, make([]byte, rem)...)
		}
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(seg)))
		out = append(out, hdr[:]...)
		out = append(out, seg...)
	}
	binary.LittleEndian.PutUint32(out, uint32(len(out)))
	return out
}
