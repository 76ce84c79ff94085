/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Fri Dec 29 15:39:36 2017 mstenber
 * Last modified: Wed Feb 20 10:40:18 2019 mstenber
 * Edit time:     81 min
 *
 */

package fusefs

import (
	"strings"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"

	"github.com/fingon/go-btrfsfw/fs"
)

// readChunk is the read size FSUser uses, as the kernel would.
const readChunk = 128 * 1024

// StatusError is a non-OK fuse status.
type StatusError fuse.Status

func (self StatusError) Error() string {
	return fuse.Status(self).String()
}

func s2e(status fuse.Status) error {
	if !status.Ok() {
		return StatusError(status)
	}
	return nil
}

// FSUser drives the raw filesystem API by path, the way the kernel
// would, without actually mounting anything.
type FSUser struct {
	fuse.InHeader
	rfs fuse.RawFileSystem
}

func NewFSUser(f *fs.Fs) *FSUser {
	rfs := gofuse.NewNodeFS(NewRoot(f), NewOptions(f, Options{}))
	return &FSUser{rfs: rfs}
}

func (self *FSUser) lookup(path string, eo *fuse.EntryOut) (err error) {
	node := uint64(fuse.FUSE_ROOT_ID)
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		self.NodeId = node
		err = s2e(self.rfs.Lookup(nil, &self.InHeader, name, eo))
		if err != nil {
			return errors.Wrapf(err, "lookup %q of %s", name, path)
		}
		node = eo.NodeId
	}
	self.NodeId = node
	return nil
}

// Stat returns the attributes of path (not following a final
// symlink).
func (self *FSUser) Stat(path string) (attr fuse.Attr, err error) {
	var eo fuse.EntryOut
	if err = self.lookup(path, &eo); err != nil {
		return
	}
	var ao fuse.AttrOut
	err = s2e(self.rfs.GetAttr(nil, &fuse.GetAttrIn{InHeader: self.InHeader}, &ao))
	return ao.Attr, err
}

func (self *FSUser) Readlink(path string) (string, error) {
	var eo fuse.EntryOut
	if err := self.lookup(path, &eo); err != nil {
		return "", err
	}
	b, status := self.rfs.Readlink(nil, &self.InHeader)
	return string(b), s2e(status)
}

// ReadFile reads the whole content of path in readChunk pieces.
func (self *FSUser) ReadFile(path string) (ret []byte, err error) {
	var eo fuse.EntryOut
	if err = self.lookup(path, &eo); err != nil {
		return
	}
	var oo fuse.OpenOut
	err = s2e(self.rfs.Open(nil, &fuse.OpenIn{InHeader: self.InHeader}, &oo))
	if err != nil {
		return
	}
	defer self.rfs.Release(nil, &fuse.ReleaseIn{InHeader: self.InHeader, Fh: oo.Fh})
	buf := make([]byte, readChunk)
	for {
		in := &fuse.ReadIn{InHeader: self.InHeader, Fh: oo.Fh,
			Offset: uint64(len(ret)), Size: readChunk}
		rr, status := self.rfs.Read(nil, in, buf)
		if err = s2e(status); err != nil {
			return
		}
		b, status := rr.Bytes(buf)
		rr.Done()
		if err = s2e(status); err != nil {
			return
		}
		if len(b) == 0 {
			return
		}
		ret = append(ret, b...)
	}
}

// Statfs returns the filesystem statistics.
func (self *FSUser) Statfs() (out fuse.StatfsOut, err error) {
	self.NodeId = fuse.FUSE_ROOT_ID
	err = s2e(self.rfs.StatFs(nil, &self.InHeader, &out))
	return
}
