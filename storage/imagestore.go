/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sun Feb 10 15:52:40 2019 mstenber
 * Last modified: Sun Feb 17 17:30:02 2019 mstenber
 * Edit time:     76 min
 *
 */

package storage

import (
	"encoding/binary"
	"io"

	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/fingon/go-btrfsfw/codec"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
)

// BlockStore is what key-value databases provide for sector image
// storage. Absent blocks read as zeros.
type BlockStore interface {
	// GetBlock returns nil, nil for blocks that were never stored.
	GetBlock(index uint64) ([]byte, error)
	PutBlock(index uint64, data []byte) error
	GetManifest() ([]byte, error)
	PutManifest(data []byte) error
	Close() error
}

// Manifest describes an imported image.
type Manifest struct {
	Size      uint64 `cbor:"1,keyasint"`
	BlockSize uint32 `cbor:"2,keyasint"`
	Blocks    uint64 `cbor:"3,keyasint"`
}

// ImageStore exposes a BlockStore populated by Import as a read-only
// Backend.
type ImageStore struct {
	store    BlockStore
	codec    codec.Codec
	manifest Manifest
	cache    *lru.Cache[uint64, []byte]
}

var _ Backend = &ImageStore{}

func BlockKey(index uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], index)
	return k[:]
}

func plainCodec(c codec.Codec) codec.Codec {
	if c == nil {
		return codec.CodecChain{}.Init()
	}
	return c
}

// Init loads the manifest of an imported image.
func (self ImageStore) Init(store BlockStore, config BackendConfiguration) (*ImageStore, error) {
	data, err := store.GetManifest()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.New("image store has no manifest (not imported?)")
	}
	if err = cbor.Unmarshal(data, &self.manifest); err != nil {
		return nil, errors.Wrap(err, "manifest")
	}
	if self.manifest.BlockSize == 0 {
		return nil, errors.New("manifest with zero block size")
	}
	size := config.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	self.cache, err = lru.New[uint64, []byte](size)
	if err != nil {
		return nil, err
	}
	self.store = store
	self.codec = plainCodec(config.Codec)
	mlog.Printf2("storage/imagestore", "is.Init %+v", self.manifest)
	return &self, nil
}

func (self *ImageStore) Size() uint64 {
	return self.manifest.Size
}

func (self *ImageStore) Close() error {
	return self.store.Close()
}

func (self *ImageStore) block(index uint64) ([]byte, error) {
	if data, ok := self.cache.Get(index); ok {
		return data, nil
	}
	enc, err := self.store.GetBlock(index)
	if err != nil {
		return nil, err
	}
	var data []byte
	if enc != nil {
		data, err = self.codec.DecodeBytes(enc, BlockKey(index))
		if err != nil {
			return nil, err
		}
		if len(data) != int(self.manifest.BlockSize) {
			return nil, fserr.Corrupted("image block %d is %d bytes", index, len(data))
		}
	}
	self.cache.Add(index, data)
	return data, nil
}

func (self *ImageStore) ReadSector(sector uint64, buf []byte) error {
	off, err := SectorOffset(sector, buf, self.manifest.Size)
	if err != nil {
		return err
	}
	bs := uint64(self.manifest.BlockSize)
	for len(buf) > 0 {
		data, err := self.block(off / bs)
		if err != nil {
			return err
		}
		skip := off % bs
		n := bs - skip
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}
		if data == nil {
			for i := range buf[:n] {
				buf[i] = 0
			}
		} else {
			copy(buf, data[skip:skip+n])
		}
		buf = buf[n:]
		off += n
	}
	return nil
}

// Import copies size bytes of src into store, block by block. All-zero
// blocks are not stored at all.
func Import(store BlockStore, config BackendConfiguration, src io.ReaderAt, size uint64) (*Manifest, error) {
	bs := config.BlockSize
	if bs <= 0 {
		bs = DefaultBlockSize
	}
	c := plainCodec(config.Codec)
	m := &Manifest{Size: size, BlockSize: uint32(bs)}
	buf := make([]byte, bs)
	for off := uint64(0); off < size; off += uint64(bs) {
		for i := range buf {
			buf[i] = 0
		}
		want := buf
		if size-off < uint64(bs) {
			want = buf[:size-off]
		}
		if _, err := src.ReadAt(want, int64(off)); err != nil && err != io.EOF {
			return nil, errors.Wrapf(err, "read @%d", off)
		}
		if isZero(buf) {
			continue
		}
		index := off / uint64(bs)
		enc, err := c.EncodeBytes(buf, BlockKey(index))
		if err != nil {
			return nil, err
		}
		if err = store.PutBlock(index, enc); err != nil {
			return nil, err
		}
		m.Blocks++
	}
	data, err := cbor.Marshal(m)
	if err != nil {
		return nil, err
	}
	mlog.Printf2("storage/imagestore", "Import done %+v", m)
	return m, store.PutManifest(data)
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
