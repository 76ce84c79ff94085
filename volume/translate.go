/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 12 19:12:30 2019 mstenber
 * Last modified: Tue Feb 19 09:40:12 2019 mstenber
 * Edit time:     118 min
 *
 */

package volume

import (
	"errors"

	"github.com/fingon/go-btrfsfw/btree"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/storage"
)

const maxStripeLen = 1 << 30

// plan says where the first csize bytes at some chunk offset live.
type plan struct {
	stripen   int
	stripeOff uint64
	csize     uint64

	// copies is the number of identical stripes starting at
	// stripen.
	copies int

	// parity is 1 (RAID5) or 2 (RAID6), and row the stripe row,
	// for parity profiles.
	parity int
	row    uint64
}

// Copies returns the number of identical copies chunk profile
// stores of each byte, or 0 for parity profiles.
func Copies(c *ondisk.ChunkItem) int {
	switch c.Profile() {
	case ondisk.BlockGroupDUP, ondisk.BlockGroupRAID1:
		return 2
	case ondisk.BlockGroupRAID1C3:
		return 3
	case ondisk.BlockGroupRAID1C4:
		return 4
	case ondisk.BlockGroupRAID10:
		return int(c.SubStripes)
	case ondisk.BlockGroupRAID5, ondisk.BlockGroupRAID6:
		return 0
	}
	return 1
}

func planRead(c *ondisk.ChunkItem, off uint64) (p plan, err error) {
	n := uint64(len(c.Stripes))
	if n == 0 {
		return p, fserr.Corrupted("chunk without stripes")
	}
	if off >= c.Length {
		return p, fserr.Corrupted("offset %x past chunk length %x", off, c.Length)
	}
	if c.Type&^(ondisk.BlockGroupTypeMask|ondisk.BlockGroupProfileMask) != 0 {
		return p, fserr.Unsupported("chunk type %x", c.Type)
	}
	p.copies = 1
	profile := c.Profile()
	switch profile {
	case 0:
		sl := c.Length / n
		if sl == 0 || sl >= 1<<32 {
			return p, fserr.Corrupted("single chunk stripe length %x", sl)
		}
		p.stripen = int(off / sl)
		p.stripeOff = off % sl
		p.csize = uint64(p.stripen+1)*sl - off
	case ondisk.BlockGroupDUP, ondisk.BlockGroupRAID1,
		ondisk.BlockGroupRAID1C3, ondisk.BlockGroupRAID1C4:
		p.stripeOff = off
		p.csize = c.Length - off
		p.copies = Copies(c)
	case ondisk.BlockGroupRAID0, ondisk.BlockGroupRAID10,
		ondisk.BlockGroupRAID5, ondisk.BlockGroupRAID6:
		sl := c.StripeLen
		if sl == 0 || sl > maxStripeLen || sl&(sl-1) != 0 {
			return p, fserr.Corrupted("stripe length %x", sl)
		}
		low, middle := off%sl, off/sl
		var high uint64
		switch profile {
		case ondisk.BlockGroupRAID0:
			p.stripen = int(middle % n)
			high = middle / n
		case ondisk.BlockGroupRAID10:
			sub := uint64(c.SubStripes)
			if sub == 0 || n%sub != 0 {
				return p, fserr.Corrupted("%d stripes in groups of %d", n, sub)
			}
			groups := n / sub
			p.stripen = int(middle % groups * sub)
			high = middle / groups
			p.copies = int(sub)
		default:
			p.parity = 1
			if profile == ondisk.BlockGroupRAID6 {
				p.parity = 2
			}
			if n > 255 || n <= uint64(p.parity) {
				return p, fserr.Corrupted("%d stripes with %d parity", n, p.parity)
			}
			nd := n - uint64(p.parity)
			high = middle / nd
			p.stripen = int((high + middle%nd) % n)
			p.row = high
		}
		p.stripeOff = low + sl*high
		p.csize = sl - low
	default:
		return p, fserr.Unsupported("chunk profile %x", profile)
	}
	if p.stripen+p.copies > int(n) {
		return p, fserr.Corrupted("stripe %d+%d of %d", p.stripen, p.copies, n)
	}
	return p, nil
}

// findChunk returns the chunk mapping covering addr.
func (self *Volume) findChunk(addr uint64) (*chunkMapping, error) {
	for i := range self.bootstrap {
		if self.bootstrap[i].contains(addr) {
			return &self.bootstrap[i], nil
		}
	}
	for i := range self.chunks {
		if self.chunks[i].contains(addr) {
			return &self.chunks[i], nil
		}
	}
	if self.chunkDepth >= ondisk.MaxLevel {
		return nil, fserr.Corrupted("chunk lookup for %x nested too deep", addr)
	}
	self.chunkDepth++
	defer func() {
		self.chunkDepth--
	}()
	mlog.Printf2("volume/translate", "findChunk %x from chunk tree", addr)
	it, err := self.store.LowerBound(self.sb.ChunkRoot,
		ondisk.Key{ObjectID: ondisk.FirstChunkTreeObjectID, Type: ondisk.ChunkItemKey, Offset: addr}, nil)
	if errors.Is(err, fserr.ErrNotFound) {
		return nil, fserr.Corrupted("no chunk for %x", addr)
	}
	if err != nil {
		return nil, err
	}
	if it.Key.ObjectID != ondisk.FirstChunkTreeObjectID || it.Key.Type != ondisk.ChunkItemKey {
		return nil, fserr.Corrupted("no chunk for %x (found %v)", addr, it.Key)
	}
	c, _, err := ondisk.ParseChunkItem(it.Data())
	if err != nil {
		return nil, err
	}
	m := chunkMapping{it.Key.Offset, c}
	if !m.contains(addr) {
		return nil, fserr.Corrupted("no chunk for %x (closest %x+%x)", addr, m.logical, c.Length)
	}
	self.chunks = append(self.chunks, m)
	return &self.chunks[len(self.chunks)-1], nil
}

// ReadLogical reads len(buf) bytes of logical address space.
func (self *Volume) ReadLogical(addr uint64, buf []byte) error {
	return self.Master().read(addr, buf, -1)
}

// ReadMirror reads one specific copy of mirrored data; mirror is
// between 0 and Copies-1 of the chunk. Parity chunks only have copy
// 0, which is the normal (possibly reconstructing) read.
func (self *Volume) ReadMirror(addr uint64, buf []byte, mirror int) error {
	if mirror < 0 {
		return fserr.NotFound("mirror %d", mirror)
	}
	return self.Master().read(addr, buf, mirror)
}

// Mirrors returns the number of copies ReadMirror can read at addr.
func (self *Volume) Mirrors(addr uint64) (int, error) {
	m, err := self.Master().findChunk(addr)
	if err != nil {
		return 0, err
	}
	if n := Copies(m.chunk); n > 0 {
		return n, nil
	}
	return 1, nil
}

func (self *Volume) read(addr uint64, buf []byte, mirror int) error {
	mlog.Printf2("volume/translate", "read %x+%x mirror %d", addr, len(buf), mirror)
	for len(buf) > 0 {
		m, err := self.findChunk(addr)
		if err != nil {
			return err
		}
		p, err := planRead(m.chunk, addr-m.logical)
		if err != nil {
			return err
		}
		n := p.csize
		if n > uint64(len(buf)) {
			n = uint64(len(buf))
		}
		mlog.Printf2("volume/translate", " chunk %x stripe %d @%x csize %x",
			m.logical, p.stripen, p.stripeOff, p.csize)
		if p.parity > 0 {
			if mirror > 0 {
				return fserr.NotFound("mirror %d of parity chunk", mirror)
			}
			err = self.readParity(m.chunk, &p, buf[:n])
		} else {
			err = self.readDirect(m.chunk, &p, buf[:n], mirror)
		}
		if err != nil {
			return err
		}
		buf = buf[n:]
		addr += n
	}
	return nil
}

// readDirect reads from the first working copy (or only the given
// mirror). I/O errors are returned as is when no copy works;
// missing devices trigger the one-time rescan.
func (self *Volume) readDirect(c *ondisk.ChunkItem, p *plan, buf []byte, mirror int) error {
	if mirror >= p.copies {
		return fserr.NotFound("mirror %d of %d", mirror, p.copies)
	}
	for attempt := 0; attempt < 2; attempt++ {
		var firstErr error
		missing := false
		for i := 0; i < p.copies; i++ {
			if mirror >= 0 && i != mirror {
				continue
			}
			s := &c.Stripes[p.stripen+i]
			dev := self.device(s.DevID)
			if dev == nil {
				missing = true
				continue
			}
			err := storage.ReadBytes(dev, self.sectorSize, s.Offset+p.stripeOff, buf)
			if err == nil {
				return nil
			}
			mlog.Printf2("volume/translate", " copy %d on device %d failed: %v", i, s.DevID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if missing && self.rescan() {
			continue
		}
		if firstErr != nil {
			return firstErr
		}
		break
	}
	return fserr.Corrupted("no attached device holds stripe %d", p.stripen)
}

// Chunk describes one chunk of the volume.
type Chunk struct {
	Logical uint64
	Item    *ondisk.ChunkItem
}

// Chunks lists the chunks of the chunk tree in logical order.
func (self *Volume) Chunks() (ret []Chunk, err error) {
	defer fserr.Catch(&err)
	m := self.Master()
	st := m.store
	path := &btree.Path{}
	it, err := st.LowerBound(m.sb.ChunkRoot,
		ondisk.Key{ObjectID: ondisk.FirstChunkTreeObjectID, Type: ondisk.ChunkItemKey}, path)
	if errors.Is(err, fserr.ErrNotFound) {
		it, err = st.Next(path)
	}
	for ; err == nil; it, err = st.Next(path) {
		if it.Key.ObjectID > ondisk.FirstChunkTreeObjectID {
			break
		}
		if it.Key.ObjectID != ondisk.FirstChunkTreeObjectID || it.Key.Type != ondisk.ChunkItemKey {
			continue
		}
		c, _, err := ondisk.ParseChunkItem(it.Data())
		if err != nil {
			return nil, err
		}
		ret = append(ret, Chunk{it.Key.Offset, c})
	}
	if err != nil && !errors.Is(err, fserr.ErrNotFound) {
		return nil, err
	}
	return ret, nil
}
