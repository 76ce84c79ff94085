/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 19 16:20:11 2019 mstenber
 * Last modified: Wed Feb 20 10:52:36 2019 mstenber
 * Edit time:     43 min
 *
 */

package fusefs

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stvp/assert"

	"github.com/fingon/go-btrfsfw/fs"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/fstest"
	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/volume"
)

func mountImage(t *testing.T, img *fstest.Image) []*fs.Fs {
	opts := fs.Options{Options: volume.Options{Registry: volume.NewRegistry()}}
	var ret []*fs.Fs
	for _, dev := range img.Devices {
		f, err := fs.Mount(dev, opts)
		assert.Nil(t, err)
		ret = append(ret, f)
	}
	return ret
}

func sampleImage() (*fstest.Image, []byte) {
	b := fstest.NewBuilder(fstest.Options{Profile: ondisk.BlockGroupRAID1})
	big := bytes.Repeat([]byte("0123456789abcdef"), 20000)
	r := b.Root()
	r.File("hello.txt", []byte("hello"))
	r.FileWith("big", big, fstest.FileOptions{Compression: ondisk.CompressZstd})
	r.Mkdir("dir").File("inner", []byte("inner"))
	r.Symlink("link", "dir/inner")
	r.Special("fifo", ondisk.ModeFifo|0600, ondisk.FtFifo)
	return b.Build(), big
}

func TestErrno(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Errno(nil), syscall.Errno(0))
	assert.Equal(t, Errno(fserr.NotFound("x")), syscall.ENOENT)
	assert.Equal(t, Errno(fserr.Unsupported("x")), syscall.EOPNOTSUPP)
	assert.Equal(t, Errno(fserr.Corrupted("x")), syscall.EIO)
	assert.Equal(t, Errno(errors.New("device gone")), syscall.EIO)
}

func TestUser(t *testing.T) {
	t.Parallel()
	img, big := sampleImage()
	fss := mountImage(t, img)
	f := fss[0]
	defer f.Close()
	u := NewFSUser(f)

	b, err := u.ReadFile("hello.txt")
	assert.Nil(t, err)
	assert.Equal(t, string(b), "hello")

	b, err = u.ReadFile("big")
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(b, big))

	b, err = u.ReadFile("dir/inner")
	assert.Nil(t, err)
	assert.Equal(t, string(b), "inner")

	s, err := u.Readlink("link")
	assert.Nil(t, err)
	assert.Equal(t, s, "dir/inner")

	attr, err := u.Stat("big")
	assert.Nil(t, err)
	assert.Equal(t, attr.Size, uint64(len(big)))
	assert.Equal(t, attr.Mode, ondisk.ModeRegular|0644)
	d, err := f.LookupPath("big")
	assert.Nil(t, err)
	assert.Equal(t, attr.Ino, d.Ino())

	attr, err = u.Stat("dir")
	assert.Nil(t, err)
	assert.Equal(t, attr.Mode&ondisk.ModeTypeMask, ondisk.ModeDir)

	attr, err = u.Stat("fifo")
	assert.Nil(t, err)
	assert.Equal(t, attr.Mode, ondisk.ModeFifo|0600)

	_, err = u.Stat("nope")
	assert.True(t, errors.Is(err, StatusError(fuse.ENOENT)), err)

	// The top subvolume does not show itself as "..."
	_, err = u.Stat("...")
	assert.NotEqual(t, err, nil)

	st, err := u.Statfs()
	assert.Nil(t, err)
	assert.Equal(t, st.Bsize, uint32(f.Volume().SectorSize()))
	assert.Equal(t, st.Blocks, f.Stat().TotalBytes/uint64(st.Bsize))
	assert.Equal(t, st.NameLen, uint32(maxNameLen))
}

func TestReaddir(t *testing.T) {
	t.Parallel()
	img, _ := sampleImage()
	f := mountImage(t, img)[0]
	defer f.Close()
	n := &node{d: f.Root()}
	ds, errno := n.Readdir(context.Background())
	assert.Equal(t, errno, syscall.Errno(0))
	modes := map[string]uint32{}
	var names []string
	for ds.HasNext() {
		e, errno := ds.Next()
		assert.Equal(t, errno, syscall.Errno(0))
		names = append(names, e.Name)
		modes[e.Name] = e.Mode
	}
	ds.Close()
	sort.Strings(names)
	assert.Equal(t, names, []string{"big", "dir", "fifo", "hello.txt", "link"})
	assert.Equal(t, modes["dir"], uint32(syscall.S_IFDIR))
	assert.Equal(t, modes["link"], uint32(syscall.S_IFLNK))
	assert.Equal(t, modes["hello.txt"], uint32(syscall.S_IFREG))
	assert.Equal(t, modes["fifo"], uint32(syscall.S_IFIFO))
}

func TestReadOnly(t *testing.T) {
	t.Parallel()
	img, _ := sampleImage()
	f := mountImage(t, img)[0]
	defer f.Close()
	d, err := f.LookupPath("hello.txt")
	assert.Nil(t, err)
	n := &node{d: d}
	_, _, errno := n.Open(context.Background(), syscall.O_RDWR)
	assert.Equal(t, errno, syscall.EROFS)
	_, flags, errno := n.Open(context.Background(), syscall.O_RDONLY)
	assert.Equal(t, errno, syscall.Errno(0))
	assert.Equal(t, flags, uint32(fuse.FOPEN_KEEP_CACHE))

	// Reads past the end are short, not errors
	rr, errno := n.Read(context.Background(), nil, make([]byte, 100), 3)
	assert.Equal(t, errno, syscall.Errno(0))
	assert.Equal(t, rr.Size(), 2)
	rr, errno = n.Read(context.Background(), nil, make([]byte, 100), 10)
	assert.Equal(t, errno, syscall.Errno(0))
	assert.Equal(t, rr.Size(), 0)

	_, errno = n.Readlink(context.Background())
	assert.Equal(t, errno, syscall.ENOENT)
}

func TestSlave(t *testing.T) {
	t.Parallel()
	img, _ := sampleImage()
	fss := mountImage(t, img)
	defer fss[0].Close()
	s := fss[1]
	assert.True(t, s.IsSlave())
	n := &node{d: s.Root()}
	ds, errno := n.Readdir(context.Background())
	assert.Equal(t, errno, syscall.Errno(0))
	assert.False(t, ds.HasNext())

	var out fuse.StatfsOut
	assert.Equal(t, n.Statfs(context.Background(), &out), syscall.Errno(0))
	assert.Equal(t, out.Blocks, uint64(0))

	var ao fuse.AttrOut
	assert.Equal(t, n.Getattr(context.Background(), nil, &ao), syscall.Errno(0))
	assert.Equal(t, ao.Mode, ondisk.ModeDir|0555)
}
