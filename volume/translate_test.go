/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Wed Feb 13 20:31:47 2019 mstenber
 * Last modified: Sun Feb 17 15:02:20 2019 mstenber
 * Edit time:     22 min
 *
 */

package volume

import (
	"errors"
	"testing"

	"github.com/stvp/assert"

	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/ondisk"
)

func chunkOf(profile uint64, stripes int, sub uint16) *ondisk.ChunkItem {
	c := &ondisk.ChunkItem{Length: 1 << 24,
		StripeLen:  65536,
		Type:       ondisk.BlockGroupData | profile,
		SubStripes: sub,
		Stripes:    make([]ondisk.Stripe, stripes)}
	for i := range c.Stripes {
		c.Stripes[i].DevID = uint64(i) + 1
	}
	return c
}

func TestPlanRead(t *testing.T) {
	t.Parallel()
	type tc struct {
		c         *ondisk.ChunkItem
		off       uint64
		stripen   int
		stripeOff uint64
		csize     uint64
		copies    int
		parity    int
	}
	for _, x := range []tc{
		// single, two stripes concatenated
		{chunkOf(0, 2, 1), 1<<23 + 5, 1, 5, 1<<23 - 5, 1, 0},
		{chunkOf(ondisk.BlockGroupDUP, 2, 1), 1000, 0, 1000, 1<<24 - 1000, 2, 0},
		{chunkOf(ondisk.BlockGroupRAID1C3, 3, 1), 7, 0, 7, 1<<24 - 7, 3, 0},
		{chunkOf(ondisk.BlockGroupRAID0, 2, 1), 70000, 1, 4464, 65536 - 4464, 1, 0},
		{chunkOf(ondisk.BlockGroupRAID0, 2, 1), 2*65536 + 1, 0, 65536 + 1, 65535, 1, 0},
		// 4 devices, 2 groups of 2
		{chunkOf(ondisk.BlockGroupRAID10, 4, 2), 65536, 2, 0, 65536, 2, 0},
		{chunkOf(ondisk.BlockGroupRAID10, 4, 2), 3*65536 + 9, 2, 65536 + 9, 65536 - 9, 2, 0},
		// RAID5 on 3: row 1 starts on stripe 1
		{chunkOf(ondisk.BlockGroupRAID5, 3, 1), 2*65536 + 10, 1, 65536 + 10, 65536 - 10, 1, 1},
		{chunkOf(ondisk.BlockGroupRAID5, 3, 1), 3*65536 + 10, 2, 65536 + 10, 65536 - 10, 1, 1},
		{chunkOf(ondisk.BlockGroupRAID6, 4, 1), 2 * 65536, 1, 65536, 65536, 1, 2},
		{chunkOf(ondisk.BlockGroupRAID6, 4, 1), 9 * 65536, 1, 4 * 65536, 65536, 1, 2},
	} {
		p, err := planRead(x.c, x.off)
		assert.Nil(t, err)
		assert.Equal(t, p.stripen, x.stripen)
		assert.Equal(t, p.stripeOff, x.stripeOff)
		assert.Equal(t, p.csize, x.csize)
		assert.Equal(t, p.copies, x.copies)
		assert.Equal(t, p.parity, x.parity)
	}
}

func TestPlanReadRejects(t *testing.T) {
	t.Parallel()
	c := chunkOf(ondisk.BlockGroupRAID0, 2, 1)
	c.StripeLen = 0
	_, err := planRead(c, 0)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	c.StripeLen = 65535
	_, err = planRead(c, 0)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	c.StripeLen = 1 << 31
	_, err = planRead(c, 0)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	_, err = planRead(chunkOf(ondisk.BlockGroupRAID10, 4, 0), 0)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	_, err = planRead(chunkOf(ondisk.BlockGroupRAID6, 2, 1), 0)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	_, err = planRead(chunkOf(ondisk.BlockGroupRAID1, 0, 1), 0)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	// mirrored profile with too few stripes
	_, err = planRead(chunkOf(ondisk.BlockGroupRAID1C4, 3, 1), 0)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))

	_, err = planRead(chunkOf(ondisk.BlockGroupRAID1|ondisk.BlockGroupRAID0, 2, 1), 0)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))

	_, err = planRead(chunkOf(1<<20, 2, 1), 0)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))

	_, err = planRead(chunkOf(0, 1, 1), 1<<24)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
}
