/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Mon Feb 11 20:20:41 2019 mstenber
 * Last modified: Sat Feb 16 11:52:19 2019 mstenber
 * Edit time:     31 min
 *
 */

package raid

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/stvp/assert"
)

func TestGF(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Exp(0), byte(1))
	assert.Equal(t, Exp(8), byte(0x1d))
	assert.Equal(t, Exp(255), byte(1))
	assert.Equal(t, Exp(-1), Exp(254))
	for a := 1; a < 256; a++ {
		assert.Equal(t, Mul(byte(a), Inv(byte(a))), byte(1))
		assert.Equal(t, Exp(Log(byte(a))), byte(a))
	}
	assert.Equal(t, Mul(0, 7), byte(0))
	// distributivity on a sample
	a, b, c := byte(0x53), byte(0xca), byte(0x17)
	assert.Equal(t, Mul(a, b^c), Mul(a, b)^Mul(a, c))
}

func stripes(nData, nParity, size int, seed int64) [][]byte {
	r := rand.New(rand.NewSource(seed))
	blocks := make([][]byte, nData+nParity)
	for i := 0; i < nData; i++ {
		blocks[i] = make([]byte, size)
		r.Read(blocks[i])
	}
	blocks[nData] = make([]byte, size)
	ComputeP(blocks[:nData], blocks[nData])
	if nParity == 2 {
		blocks[nData+1] = make([]byte, size)
		ComputeQ(blocks[:nData], blocks[nData+1])
	}
	return blocks
}

func erased(blocks [][]byte, lost ...int) [][]byte {
	ret := make([][]byte, len(blocks))
	copy(ret, blocks)
	for _, i := range lost {
		ret[i] = nil
	}
	return ret
}

func TestRAID6AnyTwo(t *testing.T) {
	t.Parallel()
	for _, nData := range []int{1, 2, 4, 7} {
		orig := stripes(nData, 2, 512, int64(nData))
		n := len(orig)
		for x := 0; x < n; x++ {
			for y := x; y < n; y++ {
				b := erased(orig, x, y)
				assert.Nil(t, Reconstruct(b, nData, 2))
				assert.Equal(t, b, orig)
			}
		}
	}
}

func TestRAID5AnyOne(t *testing.T) {
	t.Parallel()
	orig := stripes(3, 1, 4096, 5)
	for x := range orig {
		b := erased(orig, x)
		assert.Nil(t, Reconstruct(b, 3, 1))
		assert.Equal(t, b, orig)
	}
	err := Reconstruct(erased(orig, 0, 1), 3, 1)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))
}

func TestReconstructDataLeavesParity(t *testing.T) {
	t.Parallel()
	orig := stripes(4, 2, 64, 9)
	b := erased(orig, 2, 5)
	assert.Nil(t, ReconstructData(b, 4, 2))
	assert.Equal(t, b[2], orig[2])
	assert.True(t, b[5] == nil)

	err := ReconstructData(erased(orig, 0, 1, 4), 4, 2)
	assert.True(t, errors.Is(err, fserr.ErrUnsupported))
	err = ReconstructData(orig[:5], 4, 2)
	assert.True(t, errors.Is(err, fserr.ErrCorrupted))
}

func TestRecoverTwoDirect(t *testing.T) {
	t.Parallel()
	orig := stripes(5, 2, 128, 11)
	dst := make([]byte, 128)
	data := erased(orig[:5], 1, 3)
	RecoverTwo(dst, data, 3, 1, orig[5], orig[6])
	assert.Equal(t, dst, orig[3])
	RecoverFromQ(dst, erased(orig[:5], 4), 4, orig[6])
	assert.Equal(t, dst, orig[4])
}

func BenchmarkRecoverTwo(b *testing.B) {
	orig := stripes(6, 2, 4096, 1)
	dst := make([]byte, 4096)
	data := erased(orig[:6], 0, 5)
	b.SetBytes(4096)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RecoverTwo(dst, data, 0, 5, orig[6], orig[7])
	}
}
