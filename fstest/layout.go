/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Mon Feb 11 21:02:33 2019 mstenber
 * Last modified: Sun Feb 17 13:01:55 2019 mstenber
 * Edit time:     44 min
 *
 */

package fstest

import (
	"log"

	"github.com/fingon/go-btrfsfw/ondisk"
	"github.com/fingon/go-btrfsfw/raid"
)

// geometry describes how a chunk of some profile is spread over
// devices. It is written from the mkfs side of things, so that the
// reader's address math is checked against an independent encoder.
type geometry struct {
	profile    uint64
	stripes    int
	subStripes int
	parity     int
}

// DefaultDevices returns the usual number of devices for a profile.
func DefaultDevices(profile uint64) int {
	switch profile {
	case ondisk.BlockGroupRAID1, ondisk.BlockGroupRAID0:
		return 2
	case ondisk.BlockGroupRAID1C3, ondisk.BlockGroupRAID5:
		return 3
	case ondisk.BlockGroupRAID1C4, ondisk.BlockGroupRAID10, ondisk.BlockGroupRAID6:
		return 4
	}
	return 1
}

func newGeometry(profile uint64, devices int) geometry {
	g := geometry{profile: profile, stripes: devices, subStripes: 1}
	switch profile {
	case 0:
		g.stripes = 1
	case ondisk.BlockGroupDUP:
		g.stripes = 2
	case ondisk.BlockGroupRAID1:
		g.stripes = 2
	case ondisk.BlockGroupRAID1C3:
		g.stripes = 3
	case ondisk.BlockGroupRAID1C4:
		g.stripes = 4
	case ondisk.BlockGroupRAID10:
		g.subStripes = 2
	case ondisk.BlockGroupRAID5:
		g.parity = 1
	case ondisk.BlockGroupRAID6:
		g.parity = 2
	case ondisk.BlockGroupRAID0:
	default:
		log.Panicf("unknown profile %x", profile)
	}
	if g.stripes < 1 || g.stripes < g.parity+1 || g.stripes%g.subStripes != 0 {
		log.Panicf("profile %x cannot use %d devices", profile, devices)
	}
	return g
}

// dataStripes is the number of distinct data pieces in one row.
func (self geometry) dataStripes() int {
	switch self.profile {
	case ondisk.BlockGroupRAID0:
		return self.stripes
	case ondisk.BlockGroupRAID10:
		return self.stripes / self.subStripes
	case ondisk.BlockGroupRAID5, ondisk.BlockGroupRAID6:
		return self.stripes - self.parity
	}
	return 1
}

// perStripe returns how many bytes each stripe holds for a chunk of
// length bytes.
func (self geometry) perStripe(length int) int {
	return length / self.dataStripes()
}

// scatter writes content as the chunk's stripes; write gets the
// stripe index and the offset within that stripe.
func (self geometry) scatter(content []byte, sl int, write func(stripe int, off int, p []byte)) {
	switch self.profile {
	case 0, ondisk.BlockGroupDUP, ondisk.BlockGroupRAID1,
		ondisk.BlockGroupRAID1C3, ondisk.BlockGroupRAID1C4:
		for s := 0; s < self.stripes; s++ {
			write(s, 0, content)
		}
	case ondisk.BlockGroupRAID0, ondisk.BlockGroupRAID10:
		nd := self.dataStripes()
		for k := 0; k*sl < len(content); k++ {
			row, col := k/nd, k%nd
			piece := content[k*sl : (k+1)*sl]
			for c := 0; c < self.subStripes; c++ {
				write(col*self.subStripes+c, row*sl, piece)
			}
		}
	case ondisk.BlockGroupRAID5, ondisk.BlockGroupRAID6:
		n := self.stripes
		nd := self.dataStripes()
		for row := 0; row*nd*sl < len(content); row++ {
			// data stripes followed by P (and Q), which
			// Reconstruct fills in
			blocks := make([][]byte, nd+self.parity)
			for j := 0; j < nd; j++ {
				start := (row*nd + j) * sl
				blocks[j] = content[start : start+sl]
			}
			if err := raid.Reconstruct(blocks, nd, self.parity); err != nil {
				log.Panic(err)
			}
			for j, b := range blocks {
				write((j+row)%n, row*sl, b)
			}
		}
	}
}

// rowSize is the chunk length granularity.
func (self geometry) rowSize(sl int) int {
	return sl * self.dataStripes()
}
