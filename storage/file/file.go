/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Wed Jan  3 15:44:41 2018 mstenber
 * Last modified: Sun Feb 10 16:02:37 2019 mstenber
 * Edit time:     91 min
 *
 */

package file

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/storage"
)

// Backend reads sectors of a disk image file or block device.
type Backend struct {
	f    *os.File
	size uint64
}

var _ storage.Backend = &Backend{}

func Open(config storage.BackendConfiguration) (*Backend, error) {
	f, err := os.Open(config.Path)
	if err != nil {
		return nil, err
	}
	// Stat reports zero for block devices; seeking works for both.
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "seek %s", config.Path)
	}
	mlog.Printf2("storage/file/file", "file.Open %s: %d bytes", config.Path, size)
	return &Backend{f: f, size: uint64(size)}, nil
}

func (self *Backend) Size() uint64 {
	return self.size
}

func (self *Backend) Close() error {
	return self.f.Close()
}

func (self *Backend) ReadSector(sector uint64, buf []byte) error {
	off, err := storage.SectorOffset(sector, buf, self.size)
	if err != nil {
		return err
	}
	_, err = self.f.ReadAt(buf, int64(off))
	return err
}
