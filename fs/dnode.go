/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Thu Feb 14 19:10:42 2019 mstenber
 * Last modified: Tue Feb 19 11:58:20 2019 mstenber
 * Edit time:     131 min
 *
 */

package fs

import (
	"errors"
	"fmt"
	"time"

	"github.com/fingon/go-btrfsfw/btree"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
)

type Type int

const (
	TypeFile Type = iota
	TypeDir
	TypeSymlink
	TypeSpecial
)

func (self Type) String() string {
	switch self {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	}
	return "special"
}

func typeOfMode(mode uint32) Type {
	switch mode & ondisk.ModeTypeMask {
	case ondisk.ModeRegular:
		return TypeFile
	case ondisk.ModeDir:
		return TypeDir
	case ondisk.ModeSymlink:
		return TypeSymlink
	}
	return TypeSpecial
}

func typeOfDirItem(ft uint8) Type {
	switch ft {
	case ondisk.FtRegFile:
		return TypeFile
	case ondisk.FtDir:
		return TypeDir
	case ondisk.FtSymlink:
		return TypeSymlink
	}
	return TypeSpecial
}

// Dnode is a filesystem object within one subvolume tree. The inode
// is loaded lazily by Fill.
type Dnode struct {
	fs   *Fs
	tree tree

	ID   uint64
	Type Type
	Name string

	// Size is valid after Fill.
	Size uint64

	filled bool
	inode  *ondisk.InodeItem
	ext    *cachedExtent
}

func (self *Fs) newDnode(t tree, id uint64, typ Type, name string) *Dnode {
	return &Dnode{fs: self, tree: t, ID: id, Type: typ, Name: name}
}

func (self *Dnode) String() string {
	return fmt.Sprintf("%s %d/%d %q", self.Type, self.tree.id, self.ID, self.Name)
}

func (self *Dnode) Fs() *Fs {
	return self.fs
}

// TreeID is the subvolume the dnode lives in.
func (self *Dnode) TreeID() uint64 {
	return self.tree.id
}

// Ino is a number unique to (subvolume, object) within the volume.
func (self *Dnode) Ino() uint64 {
	return self.tree.id<<48 ^ self.ID
}

func (self *Dnode) slave() bool {
	return self.fs.store == nil
}

// Fill loads the inode, if it is not loaded already.
func (self *Dnode) Fill() (err error) {
	if self.filled {
		return nil
	}
	defer fserr.Catch(&err)
	mlog.Printf2("fs/dnode", "Fill %v", self)
	k := ondisk.Key{ObjectID: self.ID, Type: ondisk.InodeItemKey}
	it, err := self.fs.store.LowerBound(self.tree.addr, k, nil)
	if err != nil {
		return err
	}
	if it.Key.ObjectID != k.ObjectID || it.Key.Type != k.Type {
		return fserr.NotFound("no inode %d in tree %d", self.ID, self.tree.id)
	}
	inode, err := ondisk.ParseInodeItem(it.Data())
	if err != nil {
		return err
	}
	self.inode = inode
	self.Size = inode.Size
	self.Type = typeOfMode(inode.Mode)
	self.filled = true
	return nil
}

// Release drops the loaded inode and extent cache; they are reloaded
// on demand.
func (self *Dnode) Release() {
	if self.slave() {
		return
	}
	self.filled = false
	self.inode = nil
	self.ext = nil
}

type Stat struct {
	Type       Type
	Size       uint64
	UsedBytes  uint64
	Mode       uint32
	NLink      uint32
	UID, GID   uint32
	RDev       uint64
	Generation uint64
	ATime      time.Time
	CTime      time.Time
	MTime      time.Time
}

// Stat returns the inode attributes. Slave placeholders have zero
// timestamps and no content.
func (self *Dnode) Stat() (st Stat, err error) {
	if err = self.Fill(); err != nil {
		return
	}
	st.Type = self.Type
	st.Size = self.Size
	if self.inode == nil {
		epoch := time.Unix(0, 0)
		st.Mode = ondisk.ModeDir | 0555
		st.NLink = 1
		st.ATime, st.CTime, st.MTime = epoch, epoch, epoch
		return
	}
	in := self.inode
	st.UsedBytes = in.NBytes
	st.Mode = in.Mode
	st.NLink = in.NLink
	st.UID = in.UID
	st.GID = in.GID
	st.RDev = in.RDev
	st.Generation = in.Generation
	st.ATime = in.ATime.Time()
	st.CTime = in.CTime.Time()
	st.MTime = in.MTime.Time()
	return
}

// Lookup finds name in the directory. "." is the directory itself,
// ".." its parent (a subvolume root is its own parent), and "..." in
// the root directory the top level subvolume.
func (self *Dnode) Lookup(name string) (d *Dnode, err error) {
	defer fserr.Catch(&err)
	mlog.Printf2("fs/dnode", "Lookup %v %q", self, name)
	if self.slave() {
		return nil, fserr.NotFound("%q: empty placeholder", name)
	}
	if self.Type != TypeDir {
		return nil, fserr.NotFound("%q: %v is not a directory", name, self)
	}
	root := self.fs.root
	switch name {
	case ".":
		return self, nil
	case "..":
		return self.parent()
	case "...":
		if self.tree == root.tree && self.ID == root.ID {
			top := self.fs.topTree
			if top == self.tree {
				return self, nil
			}
			return self.fs.newDnode(top, ondisk.FirstFreeObjectID, TypeDir, name), nil
		}
	}
	di, err := self.fs.lookupDirItem(self.tree.addr, self.ID, []byte(name))
	if err != nil {
		return nil, err
	}
	return self.child(di)
}

// parent resolves the first INODE_REF of the directory.
func (self *Dnode) parent() (*Dnode, error) {
	k := ondisk.Key{ObjectID: self.ID, Type: ondisk.InodeRefKey, Offset: ondisk.MaxOffset}
	it, err := self.fs.store.LowerBound(self.tree.addr, k, nil)
	if err != nil {
		return nil, err
	}
	if it.Key.ObjectID != self.ID || it.Key.Type != ondisk.InodeRefKey {
		return nil, fserr.NotFound("no parent for %v", self)
	}
	if it.Key.Offset == self.ID {
		return self, nil
	}
	return self.fs.newDnode(self.tree, it.Key.Offset, TypeDir, ".."), nil
}

// child makes the dnode a directory item refers to.
func (self *Dnode) child(di *ondisk.DirItem) (*Dnode, error) {
	name := string(di.Name)
	switch di.Location.Type {
	case ondisk.RootItemKey:
		t, err := self.fs.getRootTree(di.Location)
		if err != nil {
			return nil, err
		}
		return self.fs.newDnode(t, ondisk.FirstFreeObjectID, TypeDir, name), nil
	case ondisk.InodeItemKey:
		return self.fs.newDnode(self.tree, di.Location.ObjectID,
			typeOfDirItem(di.Type), name), nil
	}
	return nil, fserr.Corrupted("dir item %q refers to %v", name, di.Location)
}

// Cursor is a ReadDir position: the name hash of the current bucket
// of colliding names, and the next index within it. The zero value
// starts from the beginning.
type Cursor struct {
	Pos   uint64
	Index int
}

// ReadDir returns the entry at cursor c and advances c. At the end of
// the directory the error wraps fserr.ErrNotFound. Other operations
// may be done between calls.
func (self *Dnode) ReadDir(c *Cursor) (d *Dnode, err error) {
	defer fserr.Catch(&err)
	mlog.Printf2("fs/dnode", "ReadDir %v @%x/%d", self, c.Pos, c.Index)
	if self.slave() {
		return nil, fserr.NotFound("empty placeholder")
	}
	st := self.fs.store
	k := ondisk.Key{ObjectID: self.ID, Type: ondisk.DirItemKey, Offset: c.Pos}
	path := &btree.Path{}
	it, err := st.LowerBound(self.tree.addr, k, path)
	if err == nil && it.Key.Less(k) {
		it, err = st.Next(path)
	} else if errors.Is(err, fserr.ErrNotFound) {
		it, err = st.Next(path)
	}
	for ; err == nil; it, err = st.Next(path) {
		if it.Key.ObjectID != self.ID || it.Key.Type != ondisk.DirItemKey {
			break
		}
		if it.Key.Offset != c.Pos {
			c.Pos = it.Key.Offset
			c.Index = 0
		}
		items, err := ondisk.ParseDirItems(it.Data())
		if err != nil {
			return nil, err
		}
		if c.Index < len(items) {
			di := &items[c.Index]
			c.Index++
			return self.child(di)
		}
	}
	if err != nil && !errors.Is(err, fserr.ErrNotFound) {
		return nil, err
	}
	return nil, fserr.NotFound("end of directory %v", self)
}

// ReadDirAll lists the whole directory.
func (self *Dnode) ReadDirAll() ([]*Dnode, error) {
	var ret []*Dnode
	var c Cursor
	for {
		d, err := self.ReadDir(&c)
		if errors.Is(err, fserr.ErrNotFound) {
			return ret, nil
		}
		if err != nil {
			return nil, err
		}
		ret = append(ret, d)
	}
}

// Readlink returns the symlink target, which may span several
// extents.
func (self *Dnode) Readlink() (s string, err error) {
	defer fserr.Catch(&err)
	if err = self.Fill(); err != nil {
		return
	}
	if self.Type != TypeSymlink {
		return "", fserr.NotFound("%v is not a symlink", self)
	}
	if self.Size > ondisk.MaxSymlinkSize {
		return "", fserr.Corrupted("symlink %v of %d bytes", self, self.Size)
	}
	buf := make([]byte, 0, self.Size)
	for uint64(len(buf)) < self.Size {
		e, err := self.GetExtent(uint64(len(buf)))
		if err != nil {
			return "", err
		}
		if e.Sparse() || len(e.Data) == 0 {
			return "", fserr.Corrupted("sparse symlink %v @%d", self, len(buf))
		}
		buf = append(buf, e.Data...)
	}
	return string(buf), nil
}
