/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Wed Feb 13 19:20:01 2019 mstenber
 * Last modified: Tue Feb 19 09:58:44 2019 mstenber
 * Edit time:     97 min
 *
 */

package volume

import (
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/raid"
	"github.com/fingon/go-btrfsfw/storage"
)

const recoverySlots = 17

// recoverySlot holds one reconstructed sector of a device. valid
// implies buf matches (devid, sector).
type recoverySlot struct {
	devid  uint64
	sector uint64
	valid  bool
	buf    []byte
}

type recoveryCache struct {
	slots             [recoverySlots]recoverySlot
	hits, recoveries int
}

func slotHash(devid, sector uint64) int {
	h := devid*0x9e3779b97f4a7c15 ^ sector
	h ^= h >> 29
	return int(h % recoverySlots)
}

// slot returns the slot for (devid, sector), invalidating it if it
// held some other sector.
func (self *recoveryCache) slot(devid, sector uint64, size int) *recoverySlot {
	s := &self.slots[slotHash(devid, sector)]
	if len(s.buf) != size {
		s.buf = make([]byte, size)
		s.valid = false
	}
	if s.devid != devid || s.sector != sector {
		s.devid = devid
		s.sector = sector
		s.valid = false
	}
	return s
}

// RecoveryStats returns the number of reconstructed sectors served
// from the recovery cache, and the number computed.
func (self *Volume) RecoveryStats() (hits, recoveries int) {
	m := self.Master()
	return m.recovery.hits, m.recovery.recoveries
}

// stripeRef is an entry of the rotated stripe table: data stripes in
// order, then P, then Q.
type stripeRef struct {
	devid  uint64
	dev    storage.Device
	sector uint64
}

func (self *Volume) stripeTable(c *ondisk.ChunkItem, p *plan) ([]stripeRef, int, error) {
	n := len(c.Stripes)
	nd := n - p.parity
	table := make([]stripeRef, n)
	target := -1
	attached := 0
	for i := range table {
		si := int((p.row + uint64(i)) % uint64(n))
		s := &c.Stripes[si]
		table[i] = stripeRef{devid: s.DevID, sector: s.Offset >> self.sectorShift}
		if si == p.stripen {
			target = i
			continue
		}
		table[i].dev = self.deviceOrRescan(s.DevID)
		if table[i].dev != nil {
			attached++
		}
	}
	if target < 0 || target >= nd {
		return nil, 0, fserr.Corrupted("stripe %d is not a data stripe of row %d", p.stripen, p.row)
	}
	if attached < nd {
		return nil, 0, fserr.Corrupted("%d of %d stripes attached, %d needed", attached, n-1, nd)
	}
	return table, target, nil
}

// reconstruct computes sector (relative to the stripe start) of data
// stripe target into dst from the other stripes of the row.
func (self *Volume) reconstruct(table []stripeRef, target int, nParity int, sector uint64, dst []byte) error {
	n := len(table)
	nd := n - nParity
	blocks := make([][]byte, n)
	read := func(i int) bool {
		t := &table[i]
		if t.dev == nil {
			return false
		}
		b := make([]byte, len(dst))
		if err := t.dev.ReadSector(t.sector+sector, b); err != nil {
			mlog.Printf2("volume/recover", " stripe %d (device %d) failed: %v", i, t.devid, err)
			return false
		}
		blocks[i] = b
		return true
	}
	failed := 1
	for i := 0; i <= nd; i++ {
		if i != target && !read(i) {
			failed++
		}
	}
	if nParity == 2 && failed > 1 && !read(nd+1) {
		failed++
	}
	if failed > nParity {
		return fserr.Unsupported("%d of %d stripes unreadable, parity covers %d", failed, n, nParity)
	}
	if err := raid.ReconstructData(blocks, nd, nParity); err != nil {
		return err
	}
	copy(dst, blocks[target])
	self.recovery.recoveries++
	return nil
}

// readParity reads from a RAID5/6 chunk sector by sector. Sectors
// whose data stripe cannot be read are reconstructed, through the
// recovery cache.
func (self *Volume) readParity(c *ondisk.ChunkItem, p *plan, buf []byte) error {
	mask := uint64(self.sectorSize - 1)
	for _, s := range c.Stripes {
		if s.Offset&mask != 0 {
			return fserr.Corrupted("stripe offset %x not sector aligned", s.Offset)
		}
	}
	ts := &c.Stripes[p.stripen]
	dev := self.deviceOrRescan(ts.DevID)
	ss := self.sectorSize
	sector := p.stripeOff >> self.sectorShift
	skip := int(p.stripeOff & mask)
	scratch := make([]byte, ss)
	var table []stripeRef
	target := 0
	for done := 0; done < len(buf); {
		n := ss - skip
		if n > len(buf)-done {
			n = len(buf) - done
		}
		phys := ts.Offset>>self.sectorShift + sector
		var err error
		if dev == nil {
			err = fserr.IO("device %d missing", ts.DevID)
		} else {
			err = dev.ReadSector(phys, scratch)
		}
		if err == nil {
			copy(buf[done:done+n], scratch[skip:])
		} else {
			mlog.Printf2("volume/recover", "readParity device %d sector %d: %v", ts.DevID, phys, err)
			slot := self.recovery.slot(ts.DevID, phys, ss)
			if slot.valid {
				self.recovery.hits++
			} else {
				if table == nil {
					table, target, err = self.stripeTable(c, p)
					if err != nil {
						return err
					}
				}
				err = self.reconstruct(table, target, p.parity, sector, slot.buf)
				if err != nil {
					return err
				}
				slot.valid = true
			}
			copy(buf[done:done+n], slot.buf[skip:])
		}
		done += n
		skip = 0
		sector++
	}
	return nil
}
