/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Fri Feb 15 09:31:05 2019 mstenber
 * Last modified: Tue Feb 19 12:20:31 2019 mstenber
 * Edit time:     86 min
 *
 */

package fs

import (
	"errors"
	"io"

	"github.com/fingon/go-btrfsfw/btree"
	"github.com/fingon/go-btrfsfw/codec"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
)

// MaxDirectSectors bounds a single uncompressed extent read.
const MaxDirectSectors = 64

// maxCompressedSize bounds the on-disk size of a compressed extent.
const maxCompressedSize = 1 << 24

// MaxUncompressedExtent is the largest decoded size of a compressed
// extent btrfs writes.
const MaxUncompressedExtent = 128 << 10

// Extent is a piece of file content.
type Extent struct {
	// Start is the file offset of the first byte.
	Start uint64

	// Length is the number of bytes covered; zero only at or
	// past the end of file.
	Length uint64

	// Data holds Length bytes, or is nil for sparse (all zero)
	// ranges.
	Data []byte
}

func (self *Extent) Sparse() bool {
	return self.Data == nil
}

// cachedExtent is the most recently resolved extent of a dnode. e is
// nil for holes.
type cachedExtent struct {
	start, end uint64
	e          *ondisk.ExtentData

	// compressed content of a regular extent, once read
	zdata []byte
}

// findExtent returns the extent covering pos, or the hole around it.
func (self *Dnode) findExtent(pos uint64) (*cachedExtent, error) {
	st := self.fs.store
	path := &btree.Path{}
	k := ondisk.Key{ObjectID: self.ID, Type: ondisk.ExtentDataKey, Offset: pos}
	it, err := st.LowerBound(self.tree.addr, k, path)
	if err != nil && !errors.Is(err, fserr.ErrNotFound) {
		return nil, err
	}
	holeStart := pos
	if err == nil && it.Key.ObjectID == self.ID && it.Key.Type == ondisk.ExtentDataKey {
		e, err := ondisk.ParseExtentData(it.Data())
		if err != nil {
			return nil, err
		}
		start := it.Key.Offset
		end := start + e.Length()
		if end < start {
			return nil, fserr.Corrupted("extent %v of %d bytes wraps", it.Key, e.Length())
		}
		mlog.Printf2("fs/extent", " extent %x-%x type %d", start, end, e.Type)
		if end > pos {
			return &cachedExtent{start: start, end: end, e: e}, nil
		}
		holeStart = end
	}
	holeEnd := ondisk.MaxOffset
	it, err = st.Next(path)
	switch {
	case err == nil:
		if it.Key.ObjectID == self.ID && it.Key.Type == ondisk.ExtentDataKey {
			holeEnd = it.Key.Offset
		}
	case !errors.Is(err, fserr.ErrNotFound):
		return nil, err
	}
	mlog.Printf2("fs/extent", " hole %x-%x", holeStart, holeEnd)
	return &cachedExtent{start: holeStart, end: holeEnd}, nil
}

// GetExtent returns the content starting at file offset pos, up to
// the end of the extent containing it (or less). At or past the end
// of file the result is an empty sparse extent.
func (self *Dnode) GetExtent(pos uint64) (ext *Extent, err error) {
	defer fserr.Catch(&err)
	mlog.Printf2("fs/extent", "GetExtent %v @%x", self, pos)
	if self.slave() {
		return nil, fserr.NotFound("empty placeholder")
	}
	if err = self.Fill(); err != nil {
		return nil, err
	}
	ext = &Extent{Start: pos}
	if pos >= self.Size {
		return ext, nil
	}
	ce := self.ext
	if ce == nil || pos < ce.start || pos >= ce.end {
		ce, err = self.findExtent(pos)
		if err != nil {
			return nil, err
		}
		self.ext = ce
	}
	end := ce.end
	if end > self.Size {
		end = self.Size
	}
	csize := end - pos
	extoff := pos - ce.start
	e := ce.e
	ext.Length = csize
	if e == nil {
		return ext, nil
	}
	if e.Encryption != 0 || e.OtherEncoding != 0 {
		return nil, fserr.Unsupported("extent encryption %d encoding %d",
			e.Encryption, e.OtherEncoding)
	}
	dec, err := codec.ForExtent(e.Compression)
	if err != nil {
		return nil, err
	}
	switch e.Type {
	case ondisk.ExtentInline:
		if e.Compression == ondisk.CompressNone {
			if extoff > uint64(len(e.Inline)) || csize > uint64(len(e.Inline))-extoff {
				return nil, fserr.Corrupted("inline extent of %d bytes, want %d",
					len(e.Inline), extoff+csize)
			}
			ext.Data = append([]byte(nil), e.Inline[extoff:extoff+csize]...)
			return ext, nil
		}
		buf := windowBuffer(e, extoff, csize)
		n, err := dec.Decompress(e.Inline, extoff, buf)
		if err != nil {
			return nil, err
		}
		if uint64(n) != csize {
			return nil, fserr.Corrupted("inline extent decoded to %d, want %d", n, csize)
		}
		ext.Data = buf
	case ondisk.ExtentRegular:
		if e.DiskBytenr == 0 {
			return ext, nil
		}
		if e.Compression == ondisk.CompressNone {
			limit := uint64(MaxDirectSectors * self.fs.vol.SectorSize())
			if csize > limit {
				csize = limit
				ext.Length = csize
			}
			buf := make([]byte, csize)
			err = self.fs.vol.ReadLogical(e.DiskBytenr+e.Offset+extoff, buf)
			if err != nil {
				return nil, err
			}
			ext.Data = buf
			return ext, nil
		}
		buf := windowBuffer(e, e.Offset+extoff, csize)
		if ce.zdata == nil {
			if e.DiskNumBytes == 0 || e.DiskNumBytes > maxCompressedSize {
				return nil, fserr.Corrupted("compressed extent of %d bytes", e.DiskNumBytes)
			}
			zdata := make([]byte, e.DiskNumBytes)
			if err = self.fs.vol.ReadLogical(e.DiskBytenr, zdata); err != nil {
				return nil, err
			}
			ce.zdata = zdata
		}
		n, err := dec.Decompress(ce.zdata, e.Offset+extoff, buf)
		if err != nil {
			return nil, err
		}
		if uint64(n) != csize {
			return nil, fserr.Corrupted("extent decoded to %d, want %d", n, csize)
		}
		ext.Data = buf
	case ondisk.ExtentPrealloc:
	default:
		return nil, fserr.Corrupted("extent type %d", e.Type)
	}
	return ext, nil
}

// windowBuffer allocates room for the decoded bytes [off, off+size) of
// compressed extent e, which must lie within its decoded size.
func windowBuffer(e *ondisk.ExtentData, off, size uint64) []byte {
	fserr.Assert(e.RAMBytes <= MaxUncompressedExtent,
		"compressed extent decodes to %d bytes", e.RAMBytes)
	fserr.Assert(off <= e.RAMBytes && size <= e.RAMBytes-off,
		"window %d+%d of %d byte extent", off, size, e.RAMBytes)
	return make([]byte, size)
}

// ReadAt implements io.ReaderAt on top of GetExtent.
func (self *Dnode) ReadAt(p []byte, off int64) (n int, err error) {
	defer fserr.Catch(&err)
	if off < 0 {
		return 0, fserr.NotFound("negative offset %d", off)
	}
	if err = self.Fill(); err != nil {
		return 0, err
	}
	for n < len(p) {
		pos := uint64(off) + uint64(n)
		if pos >= self.Size {
			return n, io.EOF
		}
		e, err := self.GetExtent(pos)
		if err != nil {
			return n, err
		}
		if e.Length == 0 {
			return n, fserr.Corrupted("empty extent @%d of %v", pos, self)
		}
		m := len(p) - n
		if uint64(m) > e.Length {
			m = int(e.Length)
		}
		if e.Sparse() {
			zero := p[n : n+m]
			for i := range zero {
				zero[i] = 0
			}
		} else {
			copy(p[n:n+m], e.Data)
		}
		n += m
	}
	return n, nil
}

// Open returns a reader of the whole file content.
func (self *Dnode) Open() (*io.SectionReader, error) {
	if err := self.Fill(); err != nil {
		return nil, err
	}
	return io.NewSectionReader(self, 0, int64(self.Size)), nil
}
