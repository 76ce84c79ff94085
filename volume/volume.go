/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 12 18:04:51 2019 mstenber
 * Last modified: Tue Feb 19 10:12:40 2019 mstenber
 * Edit time:     162 min
 *
 */

// volume maps the logical address space of a (possibly multi-device)
// btrfs volume onto device sectors.
//
// A Volume is created by Mount from one device. Further devices with
// the same fsid become members of the first one (the master) through
// a Registry; the Volume returned for them is a slave that owns
// nothing. Logical reads resolve the owning chunk (bootstrap array in
// the superblock first, then chunks seen before, then the chunk tree)
// and read according to the chunk profile, reconstructing RAID5/6
// sectors from parity when needed.
//
// A Volume is not safe for concurrent use.
package volume

import (
	"github.com/google/uuid"

	"github.com/fingon/go-btrfsfw/btree"
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/storage"
)

// SlaveLabel is the label reported by slave volumes.
const SlaveLabel = "btrfs.multi.device"

// MaxDevices bounds the device count a superblock may claim.
const MaxDevices = 0x10000

// probeSectorSize is used for superblock reads, before the volume
// sector size is known.
const probeSectorSize = 4096

// Scanner finds candidate devices when a chunk refers to a device
// that is not attached.
type Scanner interface {
	Scan() ([]storage.Device, error)
}

type ScannerFunc func() ([]storage.Device, error)

func (self ScannerFunc) Scan() ([]storage.Device, error) {
	return self()
}

type Options struct {
	// Registry to use; DefaultRegistry if nil.
	Registry *Registry

	// Scanner is consulted (at most once per volume) for missing
	// devices.
	Scanner Scanner

	// NodeCacheSize is the number of tree nodes cached.
	NodeCacheSize int

	SkipChecksums bool
}

type deviceDesc struct {
	id  uint64
	dev storage.Device
}

type chunkMapping struct {
	logical uint64
	chunk   *ondisk.ChunkItem
}

func (self *chunkMapping) contains(addr uint64) bool {
	return addr >= self.logical && addr-self.logical < self.chunk.Length
}

type Volume struct {
	opts     Options
	registry *Registry
	sb       *ondisk.Superblock

	sectorShift uint
	sectorSize  int

	// Non-nil for slaves
	master *Volume

	devices   []deviceDesc
	bootstrap []chunkMapping
	chunks    []chunkMapping
	store     *btree.Store

	rescanPending bool
	chunkDepth    int
	recovery      recoveryCache
	closed        bool
}

// ReadSuperblock returns the newest valid superblock copy on dev.
// Copies beyond the device size recorded in the primary superblock
// are not looked at.
func ReadSuperblock(dev storage.Device) (*ondisk.Superblock, error) {
	var best *ondisk.Superblock
	var firstErr error
	limit := ^uint64(0)
	buf := make([]byte, ondisk.SuperblockSize)
	for i, off := range ondisk.SuperblockMirrors {
		if off+ondisk.SuperblockSize > limit {
			break
		}
		err := storage.ReadBytes(dev, probeSectorSize, off, buf)
		var sb *ondisk.Superblock
		if err == nil {
			sb, err = ondisk.ParseSuperblock(buf)
		}
		if err == nil && sb.Bytenr != off {
			err = fserr.Corrupted("superblock @%x claims to be @%x", off, sb.Bytenr)
		}
		if err != nil {
			mlog.Printf2("volume/volume", "ReadSuperblock @%x: %v", off, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if i == 0 {
			limit = sb.Device.TotalBytes
		}
		if best != nil && best.FSID != sb.FSID {
			continue
		}
		if best == nil || sb.Generation > best.Generation {
			best = sb
		}
	}
	if best == nil {
		return nil, firstErr
	}
	return best, nil
}

// Mount opens the volume on dev. If a volume with the same fsid is
// already mounted in the registry, dev is attached to it and the
// returned Volume is a slave (see IsSlave).
func Mount(dev storage.Device, opts Options) (v *Volume, err error) {
	defer fserr.Catch(&err)
	sb, err := ReadSuperblock(dev)
	if err != nil {
		return nil, err
	}
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry
	}
	self := &Volume{opts: opts, registry: reg, sb: sb}
	self.sectorShift, err = sb.SectorShift()
	if err != nil {
		return nil, err
	}
	self.sectorSize = 1 << self.sectorShift
	if sb.NumDevices == 0 || sb.NumDevices > MaxDevices {
		return nil, fserr.Corrupted("%d devices", sb.NumDevices)
	}
	if sb.NodeSize < sb.SectorSize || sb.NodeSize > 1<<16 || sb.NodeSize&(sb.NodeSize-1) != 0 {
		return nil, fserr.Corrupted("node size %d", sb.NodeSize)
	}
	mlog.Printf2("volume/volume", "Mount %v gen %d dev %d/%d", sb.FSID, sb.Generation,
		sb.Device.DevID, sb.NumDevices)

	if m := reg.Master(sb.FSID); m != nil {
		m.attach(sb.Device.DevID, dev)
		self.master = m
		return self, nil
	}

	sys, err := ondisk.ParseSysChunkArray(sb.SysChunkArray)
	if err != nil {
		return nil, err
	}
	for _, c := range sys {
		self.bootstrap = append(self.bootstrap, chunkMapping{c.Key.Offset, c.Chunk})
	}
	self.devices = []deviceDesc{{sb.Device.DevID, dev}}
	self.rescanPending = sb.NumDevices > 1
	self.store = btree.Store{}.Init(self, btree.Options{NodeSize: sb.NodeSize,
		CsumType:      sb.CsumType,
		CacheSize:     opts.NodeCacheSize,
		SkipChecksums: opts.SkipChecksums})
	reg.add(self)
	return self, nil
}

// Close unregisters a master volume. Slaves have nothing to release.
func (self *Volume) Close() error {
	if self.closed {
		return nil
	}
	self.closed = true
	if self.master == nil {
		self.registry.remove(self)
	}
	return nil
}

func (self *Volume) IsSlave() bool {
	return self.master != nil
}

// Master returns the volume itself, or its master for slaves.
func (self *Volume) Master() *Volume {
	if self.master != nil {
		return self.master
	}
	return self
}

func (self *Volume) Superblock() *ondisk.Superblock {
	return self.sb
}

func (self *Volume) FSID() uuid.UUID {
	return self.sb.FSID
}

func (self *Volume) Label() string {
	if self.master != nil {
		return SlaveLabel
	}
	return self.sb.Label
}

func (self *Volume) SectorSize() int {
	return self.sectorSize
}

func (self *Volume) NodeSize() int {
	return int(self.sb.NodeSize)
}

// Store returns the tree store reading through this volume.
func (self *Volume) Store() *btree.Store {
	return self.Master().store
}

// DeviceIDs returns the ids of attached devices in attach order.
func (self *Volume) DeviceIDs() []uint64 {
	m := self.Master()
	ret := make([]uint64, len(m.devices))
	for i, d := range m.devices {
		ret[i] = d.id
	}
	return ret
}

type Stat struct {
	FSID       uuid.UUID
	Label      string
	Generation uint64
	TotalBytes uint64
	BytesUsed  uint64
	SectorSize int
	NodeSize   int
	NumDevices int
	Attached   int
	CsumType   ondisk.CsumType
}

// Stat describes the volume; slaves report an empty volume.
func (self *Volume) Stat() Stat {
	st := Stat{FSID: self.sb.FSID,
		Label:      self.Label(),
		Generation: self.sb.Generation,
		SectorSize: self.sectorSize,
		NodeSize:   int(self.sb.NodeSize),
		NumDevices: int(self.sb.NumDevices),
		CsumType:   self.sb.CsumType}
	if self.master == nil {
		st.TotalBytes = self.sb.TotalBytes
		st.BytesUsed = self.sb.BytesUsed
		st.Attached = len(self.devices)
	}
	return st
}

func (self *Volume) device(id uint64) storage.Device {
	for _, d := range self.devices {
		if d.id == id {
			return d.dev
		}
	}
	mlog.Printf2("volume/volume", "device %d not attached", id)
	return nil
}

func (self *Volume) attach(id uint64, dev storage.Device) bool {
	if self.device(id) != nil {
		return false
	}
	mlog.Printf2("volume/volume", "attach device %d", id)
	self.devices = append(self.devices, deviceDesc{id, dev})
	return true
}

// rescan asks the Scanner for devices, once per volume lifetime, and
// attaches the members of this volume it finds. It returns true if
// anything new was attached.
func (self *Volume) rescan() bool {
	if !self.rescanPending || uint64(len(self.devices)) >= self.sb.NumDevices {
		return false
	}
	self.rescanPending = false
	if self.opts.Scanner == nil {
		return false
	}
	devs, err := self.opts.Scanner.Scan()
	if err != nil {
		mlog.Printf2("volume/volume", "rescan failed: %v", err)
		return false
	}
	added := false
	for _, dev := range devs {
		sb, err := ReadSuperblock(dev)
		if err != nil || sb.FSID != self.sb.FSID {
			continue
		}
		if self.attach(sb.Device.DevID, dev) {
			added = true
		}
	}
	mlog.Printf2("volume/volume", "rescan added:%v", added)
	return added
}

// deviceOrRescan looks up a device, rescanning if it is missing.
func (self *Volume) deviceOrRescan(id uint64) storage.Device {
	dev := self.device(id)
	if dev == nil && self.rescan() {
		dev = self.device(id)
	}
	return dev
}
