/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Thu Feb 14 18:02:11 2019 mstenber
 * Last modified: Tue Feb 19 11:40:02 2019 mstenber
 * Edit time:     104 min
 *
 */

// fs package is the inode/directory layer of the btrfs read engine.
//
// Mount gives an Fs whose root is a Dnode; dnodes are looked up by
// name, listed one entry at a time with a resumable Cursor, and read
// through extents (GetExtent) or the io.ReaderAt interface (ReadAt).
// Every dnode is bound to a subvolume tree, so lookups cross
// subvolume boundaries transparently.
//
// Mounting a device that belongs to an already mounted multi-device
// volume gives a placeholder Fs with an empty root directory.
//
// Neither Fs nor Dnode is safe for concurrent use.
package fs

import (
	"errors"
	"strings"

	"github.com/fingon/go-btrfsfw/btree"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/storage"
	"github.com/fingon/go-btrfsfw/volume"
)

// DefaultName is the root tree directory entry pointing at the
// default subvolume.
const DefaultName = "default"

// MaxSymlinks bounds the symlinks LookupPath follows.
const MaxSymlinks = 8

type Options struct {
	volume.Options

	// SubvolumeID mounts that subvolume instead of the default one.
	SubvolumeID uint64
}

// tree is a subvolume (or other) tree: its objectid in the root tree
// and the address of its root node.
type tree struct {
	id   uint64
	addr uint64
}

type Fs struct {
	vol      *volume.Volume
	store    *btree.Store
	rootTree uint64
	topTree  tree
	root     *Dnode
}

// Mount mounts the volume on dev, and the filesystem within it.
func Mount(dev storage.Device, opts Options) (*Fs, error) {
	vol, err := volume.Mount(dev, opts.Options)
	if err != nil {
		return nil, err
	}
	fs, err := New(vol, opts.SubvolumeID)
	if err != nil {
		vol.Close()
		return nil, err
	}
	return fs, nil
}

// New provides the filesystem of an already mounted volume. If
// subvolumeID is 0, the default subvolume is used.
func New(vol *volume.Volume, subvolumeID uint64) (fs *Fs, err error) {
	defer fserr.Catch(&err)
	self := &Fs{vol: vol}
	if vol.IsSlave() {
		mlog.Printf2("fs/fs", "New: slave of %v", vol.FSID())
		self.root = &Dnode{fs: self, ID: ondisk.FirstFreeObjectID,
			Type: TypeDir, filled: true}
		return self, nil
	}
	self.store = vol.Store()
	sb := vol.Superblock()
	self.rootTree = sb.Root
	self.topTree, err = self.getRootTree(ondisk.Key{ObjectID: ondisk.FSTreeObjectID,
		Type: ondisk.RootItemKey, Offset: ondisk.MaxOffset})
	if err != nil {
		return nil, err
	}
	t := self.topTree
	if subvolumeID != 0 {
		t, err = self.subvolume(subvolumeID)
	} else {
		t, err = self.defaultTree(sb.RootDirObjectID)
	}
	if err != nil {
		return nil, err
	}
	mlog.Printf2("fs/fs", "New: root tree %d @%x", t.id, t.addr)
	self.root = self.newDnode(t, ondisk.FirstFreeObjectID, TypeDir, "")
	return self, nil
}

// defaultTree resolves the "default" entry of the root tree
// directory. Anything but a directory entry pointing at a subvolume
// other than the top one yields the top tree.
func (self *Fs) defaultTree(rootDirID uint64) (tree, error) {
	di, err := self.lookupDirItem(self.rootTree, rootDirID, []byte(DefaultName))
	if err != nil {
		if errors.Is(err, fserr.ErrNotFound) {
			return self.topTree, nil
		}
		return tree{}, err
	}
	if di.Type != ondisk.FtDir || di.Location.Type != ondisk.RootItemKey ||
		di.Location.ObjectID == ondisk.FSTreeObjectID {
		mlog.Printf2("fs/fs", "defaultTree: ignoring %v type %d", di.Location, di.Type)
		return self.topTree, nil
	}
	t, err := self.getRootTree(di.Location)
	if errors.Is(err, fserr.ErrNotFound) {
		return self.topTree, nil
	}
	return t, err
}

func (self *Fs) subvolume(id uint64) (tree, error) {
	if id == ondisk.FSTreeObjectID {
		return self.topTree, nil
	}
	if id < ondisk.FirstFreeObjectID {
		return tree{}, fserr.NotFound("subvolume %d", id)
	}
	return self.getRootTree(ondisk.Key{ObjectID: id, Type: ondisk.RootItemKey,
		Offset: ondisk.MaxOffset})
}

// getRootTree finds the tree the ROOT_ITEM key (with any offset up
// to the given one) describes.
func (self *Fs) getRootTree(k ondisk.Key) (tree, error) {
	it, err := self.store.LowerBound(self.rootTree, k, nil)
	if err != nil {
		return tree{}, err
	}
	if it.Key.ObjectID != k.ObjectID || it.Key.Type != k.Type {
		return tree{}, fserr.NotFound("no root item for %d", k.ObjectID)
	}
	ri, err := ondisk.ParseRootItem(it.Data())
	if err != nil {
		return tree{}, err
	}
	return tree{id: k.ObjectID, addr: ri.Bytenr}, nil
}

// lookupDirItem finds name among the directory items of dir.
func (self *Fs) lookupDirItem(root, dir uint64, name []byte) (*ondisk.DirItem, error) {
	k := ondisk.Key{ObjectID: dir, Type: ondisk.DirItemKey, Offset: ondisk.NameHash(name)}
	it, err := self.store.Lookup(root, k)
	if err != nil {
		return nil, err
	}
	items, err := ondisk.ParseDirItems(it.Data())
	if err != nil {
		return nil, err
	}
	for i := range items {
		if string(items[i].Name) == string(name) {
			return &items[i], nil
		}
	}
	return nil, fserr.NotFound("%q not in %d (%d colliding)", name, dir, len(items))
}

func (self *Fs) Close() error {
	return self.vol.Close()
}

func (self *Fs) Volume() *volume.Volume {
	return self.vol
}

// Root returns the root directory of the mounted subvolume.
func (self *Fs) Root() *Dnode {
	return self.root
}

// IsSlave tells if this is a placeholder for an additional device of
// a volume mounted elsewhere.
func (self *Fs) IsSlave() bool {
	return self.vol.IsSlave()
}

// Stat returns the volume statistics.
func (self *Fs) Stat() volume.Stat {
	return self.vol.Stat()
}

// Subvolume describes a subvolume tree.
type Subvolume struct {
	ID         uint64
	Generation uint64
	Addr       uint64
	Level      uint8
}

// Subvolumes lists the top tree and every subvolume in the root tree.
func (self *Fs) Subvolumes() (ret []Subvolume, err error) {
	defer fserr.Catch(&err)
	if self.IsSlave() {
		return nil, nil
	}
	path := &btree.Path{}
	it, err := self.store.LowerBound(self.rootTree,
		ondisk.Key{ObjectID: ondisk.FSTreeObjectID, Type: ondisk.RootItemKey}, path)
	if errors.Is(err, fserr.ErrNotFound) {
		it, err = self.store.Next(path)
	}
	for ; err == nil; it, err = self.store.Next(path) {
		id := it.Key.ObjectID
		if it.Key.Type != ondisk.RootItemKey ||
			(id != ondisk.FSTreeObjectID && id < ondisk.FirstFreeObjectID) {
			continue
		}
		ri, err := ondisk.ParseRootItem(it.Data())
		if err != nil {
			return nil, err
		}
		ret = append(ret, Subvolume{ID: id, Generation: ri.Generation,
			Addr: ri.Bytenr, Level: ri.Level})
	}
	if !errors.Is(err, fserr.ErrNotFound) {
		return nil, err
	}
	return ret, nil
}

// SubvolumeRoot returns the root directory of subvolume id.
func (self *Fs) SubvolumeRoot(id uint64) (d *Dnode, err error) {
	defer fserr.Catch(&err)
	if self.IsSlave() {
		return nil, fserr.NotFound("subvolume %d on slave device", id)
	}
	t, err := self.subvolume(id)
	if err != nil {
		return nil, err
	}
	return self.newDnode(t, ondisk.FirstFreeObjectID, TypeDir, ""), nil
}

// LookupPath resolves a slash separated path from the root, following
// symlinks (also in the last component).
func (self *Fs) LookupPath(path string) (*Dnode, error) {
	return self.lookupPath(path, true)
}

// LookupPathNoFollow is LookupPath that returns a final symlink
// itself.
func (self *Fs) LookupPathNoFollow(path string) (*Dnode, error) {
	return self.lookupPath(path, false)
}

func (self *Fs) lookupPath(path string, followLast bool) (d *Dnode, err error) {
	defer fserr.Catch(&err)
	mlog.Printf2("fs/fs", "LookupPath %s %v", path, followLast)
	d = self.root
	todo := splitPath(path)
	links := 0
	for len(todo) > 0 {
		name := todo[0]
		todo = todo[1:]
		child, err := d.Lookup(name)
		if err != nil {
			return nil, err
		}
		if child.Type != TypeSymlink || (len(todo) == 0 && !followLast) {
			d = child
			continue
		}
		links++
		if links > MaxSymlinks {
			return nil, fserr.NotFound("more than %d symlinks in %s", MaxSymlinks, path)
		}
		target, err := child.Readlink()
		if err != nil {
			return nil, err
		}
		mlog.Printf2("fs/fs", " %s -> %s", name, target)
		if len(target) > 0 && target[0] == '/' {
			d = self.root
		}
		todo = append(splitPath(target), todo...)
	}
	return d, nil
}

func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
}
