/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 14:02:51 2019 mstenber
 * Last modified: Wed Feb 20 10:12:07 2019 mstenber
 * Edit time:     74 min
 *
 */

// fusefs exposes a mounted btrfs filesystem read-only over FUSE.
//
// The node tree is built lazily from fs.Dnode lookups. The fs layer is
// not safe for concurrent use, so the server is always run single
// threaded.
package fusefs

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fingon/go-btrfsfw/fs"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
)

// Reported by statfs.
const (
	maxNameLen       = 255
	defaultBlockSize = 4096
)

type Options struct {
	// AllowOther lets other users access the mount.
	AllowOther bool

	// Timeout is the kernel entry and attribute cache timeout. The
	// filesystem never changes underneath, so it can be long.
	Timeout time.Duration

	Debug bool
}

// Errno maps an fs error to the errno reported to the kernel.
func Errno(err error) syscall.Errno {
	switch fserr.Kind(err) {
	case nil:
		return 0
	case fserr.ErrNotFound:
		return syscall.ENOENT
	case fserr.ErrUnsupported:
		return syscall.EOPNOTSUPP
	case fserr.ErrOutOfMemory:
		return syscall.ENOMEM
	}
	return syscall.EIO
}

// node is one dnode in the kernel's view.
type node struct {
	gofuse.Inode
	d *fs.Dnode
}

var _ gofuse.InodeEmbedder = (*node)(nil)
var _ gofuse.NodeLookuper = (*node)(nil)
var _ gofuse.NodeReaddirer = (*node)(nil)
var _ gofuse.NodeGetattrer = (*node)(nil)
var _ gofuse.NodeOpener = (*node)(nil)
var _ gofuse.NodeReader = (*node)(nil)
var _ gofuse.NodeReadlinker = (*node)(nil)
var _ gofuse.NodeStatfser = (*node)(nil)

// NewRoot returns the root node of f.
func NewRoot(f *fs.Fs) gofuse.InodeEmbedder {
	return &node{d: f.Root()}
}

// RootAttr is the stable attribute of the root node of f.
func RootAttr(f *fs.Fs) *gofuse.StableAttr {
	return &gofuse.StableAttr{Mode: syscall.S_IFDIR, Ino: f.Root().Ino()}
}

// NewOptions returns the node filesystem options for f.
func NewOptions(f *fs.Fs, opts Options) *gofuse.Options {
	timeout := opts.Timeout
	return &gofuse.Options{
		EntryTimeout:   &timeout,
		AttrTimeout:    &timeout,
		RootStableAttr: RootAttr(f),
		MountOptions: fuse.MountOptions{
			FsName:         f.Stat().FSID.String(),
			Name:           "btrfsfw",
			AllowOther:     opts.AllowOther,
			Debug:          opts.Debug || mlog.IsEnabled(),
			SingleThreaded: true,
			Options:        []string{"ro"},
		},
	}
}

// Mount serves f at mountpoint. The caller waits on, and eventually
// unmounts, the returned server.
func Mount(f *fs.Fs, mountpoint string, opts Options) (*fuse.Server, error) {
	mlog.Printf2("fusefs/fusefs", "Mount %v at %s", f.Stat().FSID, mountpoint)
	return gofuse.Mount(mountpoint, NewRoot(f), NewOptions(f, opts))
}

func stableMode(t fs.Type, mode uint32) uint32 {
	switch t {
	case fs.TypeFile:
		return syscall.S_IFREG
	case fs.TypeDir:
		return syscall.S_IFDIR
	case fs.TypeSymlink:
		return syscall.S_IFLNK
	}
	return mode & ondisk.ModeTypeMask
}

func (self *node) blockSize() uint32 {
	return uint32(self.d.Fs().Volume().SectorSize())
}

func (self *node) fillAttr(out *fuse.Attr) syscall.Errno {
	st, err := self.d.Stat()
	if err != nil {
		return Errno(err)
	}
	out.Ino = self.d.Ino()
	out.Size = st.Size
	out.Blocks = (st.UsedBytes + 511) / 512
	out.Blksize = self.blockSize()
	out.Mode = st.Mode
	out.Nlink = st.NLink
	out.Uid = st.UID
	out.Gid = st.GID
	out.Rdev = uint32(st.RDev)
	out.SetTimes(&st.ATime, &st.MTime, &st.CTime)
	return 0
}

func (self *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	mlog.Printf2("fusefs/fusefs", "Lookup %v %q", self.d, name)
	d, err := self.d.Lookup(name)
	if err != nil {
		return nil, Errno(err)
	}
	if d.Ino() == self.d.Ino() {
		// "..." of the top subvolume; the kernel does not do loops
		return nil, syscall.ENOENT
	}
	child := &node{d: d}
	if errno := child.fillAttr(&out.Attr); errno != 0 {
		return nil, errno
	}
	attr := gofuse.StableAttr{Mode: stableMode(d.Type, out.Mode), Ino: d.Ino()}
	return self.NewInode(ctx, child, attr), 0
}

func (self *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	mlog.Printf2("fusefs/fusefs", "Readdir %v", self.d)
	var entries []fuse.DirEntry
	var c fs.Cursor
	for {
		d, err := self.d.ReadDir(&c)
		if errors.Is(err, fserr.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, Errno(err)
		}
		var mode uint32
		if d.Type == fs.TypeSpecial {
			st, err := d.Stat()
			if err != nil {
				return nil, Errno(err)
			}
			mode = st.Mode
		}
		entries = append(entries, fuse.DirEntry{Name: d.Name, Ino: d.Ino(),
			Mode: stableMode(d.Type, mode)})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (self *node) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return self.fillAttr(&out.Attr)
}

func (self *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	if err := self.d.Fill(); err != nil {
		return nil, 0, Errno(err)
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (self *node) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	mlog.Printf2("fusefs/fusefs", "Read %v %d @%d", self.d, len(dest), off)
	n, err := self.d.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, Errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (self *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	s, err := self.d.Readlink()
	if err != nil {
		return nil, Errno(err)
	}
	return []byte(s), 0
}

func (self *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st := self.d.Fs().Stat()
	bsize := uint64(st.SectorSize)
	if bsize == 0 {
		bsize = defaultBlockSize
	}
	out.Bsize = uint32(bsize)
	out.Frsize = uint32(bsize)
	out.Blocks = st.TotalBytes / bsize
	if st.BytesUsed < st.TotalBytes {
		out.Bfree = (st.TotalBytes - st.BytesUsed) / bsize
	}
	out.Bavail = out.Bfree
	out.NameLen = maxNameLen
	return 0
}
