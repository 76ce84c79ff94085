/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sun Feb 10 12:20:05 2019 mstenber
 * Last modified: Mon Feb 18 21:10:44 2019 mstenber
 * Edit time:     88 min
 *
 */

package codec

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	lzo "github.com/rasky/go-lzo"

	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
)

// Decompressor decodes a window of a compressed extent.
type Decompressor interface {
	// Decompress fills out with uncompressed bytes [off,
	// off+len(out)) of src. The returned count is short only if
	// the uncompressed stream ends before the window does.
	Decompress(src []byte, off uint64, out []byte) (int, error)
}

// LZOPageSize is both the uncompressed size of an LZO segment and the
// page size segment headers may not straddle.
const LZOPageSize = 4096

// LZOMaxSegment is the worst case compressed size of one segment.
const LZOMaxSegment = LZOPageSize + LZOPageSize/16 + 64 + 3

var decompressors = [...]Decompressor{
	ondisk.CompressNone: storeDecompressor{},
	ondisk.CompressZlib: zlibDecompressor{},
	ondisk.CompressLZO:  lzoDecompressor{},
	ondisk.CompressZstd: zstdDecompressor{},
}

// ForExtent returns the decompressor for an extent compression tag.
// Tags are validated here so callers never index with on-disk values.
func ForExtent(compression uint8) (Decompressor, error) {
	if int(compression) >= len(decompressors) {
		return nil, fserr.Unsupported("compression type %d", compression)
	}
	return decompressors[compression], nil
}

// DecompressWindow is shorthand for ForExtent + Decompress.
func DecompressWindow(compression uint8, src []byte, off uint64, out []byte) (int, error) {
	d, err := ForExtent(compression)
	if err != nil {
		return 0, err
	}
	mlog.Printf2("codec/extent", "DecompressWindow %d: %d bytes @%d from %d", compression, len(out), off, len(src))
	return d.Decompress(src, off, out)
}

// readWindow discards off bytes of r and then reads up to len(out).
func readWindow(r io.Reader, off uint64, out []byte) (int, error) {
	if off > 0 {
		_, err := io.CopyN(ioutil.Discard, r, int64(off))
		if err == io.EOF {
			return 0, nil
		}
		if err != nil {
			return 0, fserr.Corrupted("decompress: %v", err)
		}
	}
	n, err := io.ReadFull(r, out)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, fserr.Corrupted("decompress: %v", err)
	}
	return n, nil
}

type storeDecompressor struct{}

func (storeDecompressor) Decompress(src []byte, off uint64, out []byte) (int, error) {
	if off >= uint64(len(src)) {
		return 0, nil
	}
	return copy(out, src[off:]), nil
}

type zlibDecompressor struct{}

func (zlibDecompressor) Decompress(src []byte, off uint64, out []byte) (int, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, fserr.Corrupted("zlib: %v", err)
	}
	defer r.Close()
	return readWindow(r, off, out)
}

type zstdDecompressor struct{}

func (zstdDecompressor) Decompress(src []byte, off uint64, out []byte) (int, error) {
	dec, err := zstd.NewReader(bytes.NewReader(src),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true))
	if err != nil {
		return 0, fserr.Corrupted("zstd: %v", err)
	}
	defer dec.Close()
	return readWindow(dec, off, out)
}

// lzoDecompressor handles the btrfs LZO framing: a 4 byte total
// length, then for each page of uncompressed data a 4 byte segment
// length and a LZO1X segment. Segment length fields never straddle a
// page boundary of the compressed stream; the stream is padded
// instead. Segments before the window are skipped undecoded.
type lzoDecompressor struct{}

func (lzoDecompressor) Decompress(src []byte, off uint64, out []byte) (int, error) {
	if len(src) < 4 {
		return 0, fserr.Corrupted("lzo: short stream")
	}
	total := binary.LittleEndian.Uint32(src)
	if total < 4 || uint64(total) > uint64(len(src)) {
		return 0, fserr.Corrupted("lzo: total length %d of %d", total, len(src))
	}
	src = src[:total]
	pos := 4
	produced := 0
	for produced < len(out) {
		if rem := LZOPageSize - pos%LZOPageSize; rem < 4 {
			pos += rem
		}
		if pos >= len(src) {
			break
		}
		if pos+4 > len(src) {
			return produced, fserr.Corrupted("lzo: truncated segment header")
		}
		segLen := int(binary.LittleEndian.Uint32(src[pos:]))
		pos += 4
		if segLen > LZOMaxSegment || pos+segLen > len(src) {
			return produced, fserr.Corrupted("lzo: segment of %d bytes", segLen)
		}
		seg := src[pos : pos+segLen]
		pos += segLen
		if off >= LZOPageSize {
			off -= LZOPageSize
			continue
		}
		plain, err := lzo.Decompress1X(bytes.NewReader(seg), segLen, LZOPageSize)
		if err != nil {
			return produced, fserr.Corrupted("lzo: %v", err)
		}
		if len(plain) > LZOPageSize {
			return produced, fserr.Corrupted("lzo: segment decoded to %d", len(plain))
		}
		if off < uint64(len(plain)) {
			produced += copy(out[produced:], plain[off:])
		}
		off = 0
		if len(plain) < LZOPageSize {
			break
		}
	}
	return produced, nil
}
