/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 14 19:10:02 2017 mstenber
 * Last modified: Sat Feb 16 16:02:12 2019 mstenber
 * Edit time:     361 min
 *
 */

package storage

import (
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
)

// ReadBytes reads len(buf) bytes starting at byte offset off of dev,
// using sectorSize sized ReadSector calls. Partial leading and
// trailing sectors go through a scratch buffer.
func ReadBytes(dev Device, sectorSize int, off uint64, buf []byte) error {
	mlog.Printf2("storage/storage", "ReadBytes %d @%x", len(buf), off)
	if sectorSize <= 0 {
		return fserr.Corrupted("sector size %d", sectorSize)
	}
	ss := uint64(sectorSize)
	var scratch []byte
	for len(buf) > 0 {
		sector := off / ss
		skip := off % ss
		if skip == 0 && uint64(len(buf)) >= ss {
			if err := dev.ReadSector(sector, buf[:ss]); err != nil {
				return err
			}
			buf = buf[ss:]
			off += ss
			continue
		}
		if scratch == nil {
			scratch = make([]byte, ss)
		}
		if err := dev.ReadSector(sector, scratch); err != nil {
			return err
		}
		n := copy(buf, scratch[skip:])
		buf = buf[n:]
		off += uint64(n)
	}
	return nil
}

// SectorOffset validates that the sector is within a device of size
// bytes and returns its byte offset.
func SectorOffset(sector uint64, buf []byte, size uint64) (uint64, error) {
	off := sector * uint64(len(buf))
	if len(buf) == 0 || off/uint64(len(buf)) != sector || off+uint64(len(buf)) > size {
		return 0, fserr.IO("sector %d (size %d) beyond device end %d",
			sector, len(buf), size)
	}
	return off, nil
}
