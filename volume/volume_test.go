/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Wed Feb 13 21:02:10 2019 mstenber
 * Last modified: Tue Feb 19 10:30:05 2019 mstenber
 * Edit time:     88 min
 *
 */

package volume

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/fstest"
	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/storage"
	"github.com/fingon/go-btrfsfw/storage/inmemory"
)

var allProfiles = []uint64{0,
	ondisk.BlockGroupDUP,
	ondisk.BlockGroupRAID0,
	ondisk.BlockGroupRAID1,
	ondisk.BlockGroupRAID10,
	ondisk.BlockGroupRAID1C3,
	ondisk.BlockGroupRAID1C4,
	ondisk.BlockGroupRAID5,
	ondisk.BlockGroupRAID6,
}

func randomBytes(n int, seed int64) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func buildImage(opts fstest.Options) *fstest.Image {
	b := fstest.NewBuilder(opts)
	root := b.Root()
	root.File("hello.txt", []byte("hello world"))
	root.FileWith("data", randomBytes(200000, 42), fstest.FileOptions{Regular: true, ExtentSize: 65536})
	return b.Build()
}

func mountAll(t *testing.T, img *fstest.Image, opts Options) *Volume {
	var master *Volume
	for i, dev := range img.Devices {
		v, err := Mount(dev, opts)
		assert.Nil(t, err)
		if i == 0 {
			master = v
			assert.False(t, v.IsSlave())
		} else {
			assert.True(t, v.IsSlave())
			assert.Equal(t, v.Master(), master)
		}
	}
	return master
}

func readAll(v *Volume, img *fstest.Image) ([]byte, error) {
	buf := make([]byte, len(img.Content))
	err := v.ReadLogical(fstest.MainChunkLogical, buf)
	return buf, err
}

func TestProfiles(t *testing.T) {
	t.Parallel()
	for _, profile := range allProfiles {
		profile := profile
		t.Run(fmt.Sprintf("%x", profile), func(t *testing.T) {
			t.Parallel()
			img := buildImage(fstest.Options{Profile: profile})
			v := mountAll(t, img, Options{Registry: NewRegistry()})
			defer v.Close()

			got, err := readAll(v, img)
			assert.Nil(t, err)
			assert.True(t, bytes.Equal(got, img.Content))

			// Unaligned reads across stripe boundaries
			for _, r := range [][2]int{{65536 - 100, 70000}, {1, 3}, {4095, 2}, {131071, 65538}} {
				off, n := r[0], r[1]
				if off+n > len(img.Content) {
					continue
				}
				buf := make([]byte, n)
				assert.Nil(t, v.ReadLogical(fstest.MainChunkLogical+uint64(off), buf))
				assert.True(t, bytes.Equal(buf, img.Content[off:off+n]))
			}

			chunks, err := v.Chunks()
			assert.Nil(t, err)
			assert.Equal(t, len(chunks), 2)
			assert.Equal(t, chunks[0].Logical, uint64(fstest.SysChunkLogical))
			assert.Equal(t, chunks[1].Logical, uint64(fstest.MainChunkLogical))
			assert.Equal(t, chunks[1].Item.Profile(), profile)
		})
	}
}

func TestMirrorsIdentical(t *testing.T) {
	t.Parallel()
	for _, profile := range []uint64{ondisk.BlockGroupDUP,
		ondisk.BlockGroupRAID1,
		ondisk.BlockGroupRAID10,
		ondisk.BlockGroupRAID1C3,
		ondisk.BlockGroupRAID1C4} {
		img := buildImage(fstest.Options{Profile: profile})
		v := mountAll(t, img, Options{Registry: NewRegistry()})
		addr := uint64(fstest.MainChunkLogical + 8192)
		n, err := v.Mirrors(addr)
		assert.Nil(t, err)
		assert.True(t, n >= 2)
		var first []byte
		for m := 0; m < n; m++ {
			buf := make([]byte, 16384)
			assert.Nil(t, v.ReadMirror(addr, buf, m))
			if first == nil {
				first = buf
			}
			assert.True(t, bytes.Equal(buf, first))
		}
		assert.True(t, bytes.Equal(first, img.Content[8192:8192+16384]))
		err = v.ReadMirror(addr, make([]byte, 10), n)
		assert.True(t, errors.Is(err, fserr.ErrNotFound))
		v.Close()
	}
}

func TestMirrorFallback(t *testing.T) {
	t.Parallel()
	img := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID1})
	v := mountAll(t, img, Options{Registry: NewRegistry()})
	defer v.Close()
	c := img.MainChunk
	img.Devices[0].Fail(c.Stripes[0].Offset, c.Length)

	got, err := readAll(v, img)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(got, img.Content))

	err = v.ReadMirror(fstest.MainChunkLogical, make([]byte, 100), 0)
	assert.True(t, errors.Is(err, fserr.ErrIO))

	// Both copies gone: the I/O error is passed through
	img.Devices[1].SetOffline(true)
	_, err = readAll(v, img)
	assert.True(t, errors.Is(err, fserr.ErrIO))
}

type countingScanner struct {
	devs  []storage.Device
	calls int
}

func (self *countingScanner) Scan() ([]storage.Device, error) {
	self.calls++
	return self.devs, nil
}

func TestRescanOnce(t *testing.T) {
	t.Parallel()
	img := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID0})
	scanner := &countingScanner{devs: img.Storage()}
	v, err := Mount(img.Devices[0], Options{Registry: NewRegistry(), Scanner: scanner})
	assert.Nil(t, err)
	assert.Equal(t, v.DeviceIDs(), []uint64{1})

	got, err := readAll(v, img)
	assert.Nil(t, err)
	assert.True(t, bytes.Equal(got, img.Content))
	assert.Equal(t, scanner.calls, 1)
	assert.Equal(t, v.DeviceIDs(), []uint64{1, 2})
	assert.Equal(t, v.Stat().Attached, 2)
}

func TestMissingDevice(t *testing.T) {
	t.Parallel()
	img := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID0})
	// The scanner only knows about an unrelated device
	other := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID0})
	scanner := &countingScanner{devs: other.Storage()}
	v, err := Mount(img.Devices[0], Options{Registry: NewRegistry(), Scanner: scanner})
	assert.Nil(t, err)

	_, err = readAll(v, img)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
	_, err = readAll(v, img)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
	assert.Equal(t, scanner.calls, 1)
	assert.Equal(t, v.DeviceIDs(), []uint64{1})
}

func TestRAID5Degraded(t *testing.T) {
	t.Parallel()
	img := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID5})
	for lost := range img.Devices {
		v := mountAll(t, img, Options{Registry: NewRegistry()})
		img.Devices[lost].SetOffline(true)
		got, err := readAll(v, img)
		assert.Nil(t, err)
		assert.True(t, bytes.Equal(got, img.Content))
		_, recoveries := v.RecoveryStats()
		assert.True(t, recoveries > 0)
		v.Close()
		img.Devices[lost].Heal()
	}
	v := mountAll(t, img, Options{Registry: NewRegistry()})
	img.Devices[0].SetOffline(true)
	img.Devices[2].SetOffline(true)
	_, err := readAll(v, img)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))
}

func TestRAID6Degraded(t *testing.T) {
	t.Parallel()
	for _, ndev := range []int{4, 6} {
		img := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID6, NumDevices: ndev})
		for x := 0; x < ndev; x++ {
			for y := x + 1; y < ndev; y++ {
				img.Devices[x].SetOffline(true)
				img.Devices[y].SetOffline(true)
				// Offline devices cannot be mounted; the
				// others are enough.
				reg := NewRegistry()
				var v *Volume
				for i, dev := range img.Devices {
					if i == x || i == y {
						continue
					}
					vi, err := Mount(dev, Options{Registry: reg})
					assert.Nil(t, err)
					if v == nil {
						v = vi
					}
				}
				got, err := readAll(v, img)
				assert.Nil(t, err)
				assert.True(t, bytes.Equal(got, img.Content))
				v.Close()
				img.Devices[x].Heal()
				img.Devices[y].Heal()
			}
		}
		v := mountAll(t, img, Options{Registry: NewRegistry()})
		for i := 0; i < 3; i++ {
			img.Devices[i].SetOffline(true)
		}
		_, err := readAll(v, img)
		assert.True(t, errors.Is(err, fserr.ErrUnsupported))
	}
}

func TestRecoveryCache(t *testing.T) {
	t.Parallel()
	img := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID6})
	v := mountAll(t, img, Options{Registry: NewRegistry()})
	defer v.Close()
	// Stripe row 0 has D0 on device 1
	img.Devices[0].SetOffline(true)
	addr := uint64(fstest.MainChunkLogical + 4096)

	a := make([]byte, 4096)
	assert.Nil(t, v.ReadLogical(addr, a))
	hits, recoveries := v.RecoveryStats()
	assert.Equal(t, hits, 0)
	assert.Equal(t, recoveries, 1)

	b := make([]byte, 4096)
	assert.Nil(t, v.ReadLogical(addr, b))
	hits, recoveries = v.RecoveryStats()
	assert.Equal(t, hits, 1)
	assert.Equal(t, recoveries, 1)
	assert.True(t, bytes.Equal(a, b))
	assert.True(t, bytes.Equal(a, img.Content[4096:8192]))
}

func TestRecoverySlots(t *testing.T) {
	t.Parallel()
	var rc recoveryCache
	s := rc.slot(1, 100, 512)
	s.valid = true
	s.buf[0] = 42
	s2 := rc.slot(1, 100, 512)
	assert.True(t, s2.valid)
	assert.Equal(t, s2.buf[0], byte(42))
	// Find a sector sharing the slot; it must invalidate it
	for sector := uint64(101); ; sector++ {
		if slotHash(1, sector) == slotHash(1, 100) {
			s3 := rc.slot(1, sector, 512)
			assert.False(t, s3.valid)
			break
		}
	}
	assert.False(t, rc.slot(1, 100, 512).valid)
}

func TestSuperblockMirrors(t *testing.T) {
	t.Parallel()
	img := buildImage(fstest.Options{DeviceSize: 128 << 20, Label: "primary"})
	img.WriteSuperblock(0, ondisk.SuperblockMirrors[1], func(sb *ondisk.Superblock) {
		sb.Generation++
		sb.Label = "mirror"
	})
	sb, err := ReadSuperblock(img.Devices[0])
	assert.Nil(t, err)
	assert.Equal(t, sb.Label, "mirror")

	// Broken primary; the mirror still works
	img.Devices[0].WriteAt([]byte{1, 2, 3}, ondisk.SuperblockOffset+0x100)
	v, err := Mount(img.Devices[0], Options{Registry: NewRegistry()})
	assert.Nil(t, err)
	assert.Equal(t, v.Label(), "mirror")

	// Mirrors past the recorded device size are not considered
	img = buildImage(fstest.Options{Label: "primary"})
	img.WriteSuperblock(0, ondisk.SuperblockMirrors[1], func(sb *ondisk.Superblock) {
		sb.Generation++
		sb.Label = "mirror"
	})
	sb, err = ReadSuperblock(img.Devices[0])
	assert.Nil(t, err)
	assert.Equal(t, sb.Label, "primary")

	// No usable copy at all
	img = buildImage(fstest.Options{})
	img.Devices[0].WriteAt([]byte{1, 2, 3}, ondisk.SuperblockOffset+0x100)
	_, err = Mount(img.Devices[0], Options{Registry: NewRegistry()})
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
}

func TestMountRejects(t *testing.T) {
	t.Parallel()
	_, err := Mount(inmemory.New(1<<20), Options{Registry: NewRegistry()})
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))

	_, err = Mount(inmemory.New(4096), Options{Registry: NewRegistry()})
	assert.True(t, errors.Is(err, fserr.ErrIO))

	img := buildImage(fstest.Options{})
	img.WriteSuperblock(0, ondisk.SuperblockOffset, func(sb *ondisk.Superblock) {
		sb.SectorSize = 3000
	})
	_, err = Mount(img.Devices[0], Options{Registry: NewRegistry()})
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))

	img.WriteSuperblock(0, ondisk.SuperblockOffset, func(sb *ondisk.Superblock) {
		sb.NumDevices = 0
	})
	_, err = Mount(img.Devices[0], Options{Registry: NewRegistry()})
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	img := buildImage(fstest.Options{Profile: ondisk.BlockGroupRAID1, Label: "vol"})
	master, err := Mount(img.Devices[0], Options{Registry: reg})
	assert.Nil(t, err)
	slave, err := Mount(img.Devices[1], Options{Registry: reg})
	assert.Nil(t, err)
	assert.Equal(t, reg.Len(), 1)
	assert.Equal(t, reg.Master(img.Options.FSID), master)
	assert.True(t, slave.IsSlave())
	assert.Equal(t, slave.Label(), SlaveLabel)
	assert.Equal(t, master.Label(), "vol")
	assert.Equal(t, slave.Stat().TotalBytes, uint64(0))
	assert.True(t, master.Stat().TotalBytes > 0)
	assert.Equal(t, master.DeviceIDs(), []uint64{1, 2})

	// Another volume gets its own master
	other := buildImage(fstest.Options{})
	v2, err := Mount(other.Devices[0], Options{Registry: reg})
	assert.Nil(t, err)
	assert.False(t, v2.IsSlave())
	assert.Equal(t, reg.Len(), 2)

	assert.Nil(t, slave.Close())
	assert.Equal(t, reg.Len(), 2)
	assert.Nil(t, master.Close())
	assert.Nil(t, master.Close())
	assert.Equal(t, reg.Len(), 1)
	assert.Nil(t, v2.Close())
	assert.Equal(t, reg.Len(), 0)
}

func TestChecksumTypes(t *testing.T) {
	t.Parallel()
	for _, ct := range []ondisk.CsumType{ondisk.CsumCRC32C, ondisk.CsumXXHash,
		ondisk.CsumSHA256, ondisk.CsumBlake2b} {
		img := buildImage(fstest.Options{CsumType: ct, NodeSize: 16384, MaxLeafItems: 2})
		v := mountAll(t, img, Options{Registry: NewRegistry()})
		chunks, err := v.Chunks()
		assert.Nil(t, err)
		assert.Equal(t, len(chunks), 2)
		assert.Equal(t, v.Stat().CsumType, ct)
	}
}
