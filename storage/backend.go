/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2018 Markus Stenberg
 *
 * Created:       Fri Jan  5 11:14:11 2018 mstenber
 * Last modified: Sun Feb 10 15:20:41 2019 mstenber
 * Edit time:     31 min
 *
 */

package storage

import "github.com/fingon/go-btrfsfw/codec"

// Device is the single I/O primitive the btrfs engine uses: read
// sector number sector, whose size is len(buf), into buf. The engine
// uses 4096 byte sectors while probing superblocks and the volume
// sector size afterwards, so implementations must not assume a fixed
// size.
//
// Errors returned by ReadSector are handed back to the engine's
// callers unmodified.
type Device interface {
	ReadSector(sector uint64, buf []byte) error
}

// Backend is a Device that owns resources.
type Backend interface {
	Device

	// Size returns the number of bytes available.
	Size() uint64

	// Close the backend
	Close() error
}

// BackendConfiguration is shared by all backends; each uses the
// parts it needs.
type BackendConfiguration struct {
	// Path is an image file / block device for file backend, and
	// the database directory (badger) or file (bolt) for image
	// stores.
	Path string

	// ReadOnly opens image stores without write access.
	ReadOnly bool

	// Codec used for image store blocks (both import and read)
	Codec codec.Codec

	// BlockSize of image stores; DefaultBlockSize if zero.
	BlockSize int

	// CacheSize is the number of decoded blocks (image stores)
	// or sectors (CachingDevice) to keep around.
	CacheSize int
}

const DefaultBlockSize = 65536

const DefaultCacheSize = 64
