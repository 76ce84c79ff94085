/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Mon Feb 11 19:30:50 2019 mstenber
 * Last modified: Mon Feb 18 20:02:48 2019 mstenber
 * Edit time:     74 min
 *
 */

package raid

import (
	"github.com/fingon/go-btrfsfw/fserr"
	"github.com/fingon/go-btrfsfw/mlog"
)

// ComputeP sets p to the XOR parity of data.
func ComputeP(data [][]byte, p []byte) {
	for i := range p {
		p[i] = 0
	}
	for _, d := range data {
		xorInto(p, d)
	}
}

// ComputeQ sets q to the RAID6 syndrome of data.
func ComputeQ(data [][]byte, q []byte) {
	for i := range q {
		q[i] = 0
	}
	for i, d := range data {
		mulXorInto(q, d, Exp(i))
	}
}

// RecoverFromP rebuilds data[x] into dst from the other data blocks
// and P.
func RecoverFromP(dst []byte, data [][]byte, x int, p []byte) {
	copy(dst, p)
	for i, d := range data {
		if i != x {
			xorInto(dst, d)
		}
	}
}

// RecoverFromQ rebuilds data[x] into dst from the other data blocks
// and Q; used when P is unavailable too.
//
// Q ^ Q' = g^x * D_x, where Q' is the syndrome without D_x.
func RecoverFromQ(dst []byte, data [][]byte, x int, q []byte) {
	copy(dst, q)
	for i, d := range data {
		if i != x {
			mulXorInto(dst, d, Exp(i))
		}
	}
	scale(dst, Exp(255-x))
}

// RecoverTwo rebuilds data[x] into dst when data[x] and data[y] are
// both lost, using P and Q.
//
// With Pxy = P ^ (sum of other D) = D_x ^ D_y and Qxy = Q ^ (sum of
// other g^i D_i) = g^x D_x ^ g^y D_y, D_x = (Qxy ^ g^y Pxy) / (g^x ^ g^y).
func RecoverTwo(dst []byte, data [][]byte, x, y int, p, q []byte) {
	pxy := append([]byte(nil), p...)
	copy(dst, q)
	for i, d := range data {
		if i == x || i == y {
			continue
		}
		xorInto(pxy, d)
		mulXorInto(dst, d, Exp(i))
	}
	mulXorInto(dst, pxy, Exp(y))
	scale(dst, Inv(Exp(x)^Exp(y)))
}

// ReconstructData fills in the nil data blocks of blocks, which holds
// nData data blocks followed by P and (if nParity is 2) Q. Missing
// parity blocks are left nil. At most nParity blocks may be missing
// in total.
func ReconstructData(blocks [][]byte, nData, nParity int) error {
	if nParity < 1 || nParity > 2 || len(blocks) != nData+nParity || nData < 1 {
		return fserr.Corrupted("raid geometry %d+%d with %d blocks", nData, nParity, len(blocks))
	}
	size := -1
	var lost []int
	for i, b := range blocks {
		if b == nil {
			lost = append(lost, i)
			continue
		}
		if size >= 0 && len(b) != size {
			return fserr.Corrupted("raid block sizes differ")
		}
		size = len(b)
	}
	if len(lost) > nParity {
		return fserr.Unsupported("%d of %d stripes unreadable, parity covers %d",
			len(lost), len(blocks), nParity)
	}
	data := blocks[:nData]
	p := blocks[nData]
	var q []byte
	if nParity == 2 {
		q = blocks[nData+1]
	}
	var lostData []int
	for _, i := range lost {
		if i < nData {
			lostData = append(lostData, i)
		}
	}
	mlog.Printf2("raid/raid", "ReconstructData lost %v of %d+%d", lost, nData, nParity)
	switch len(lostData) {
	case 0:
	case 1:
		x := lostData[0]
		dst := make([]byte, size)
		if p != nil {
			RecoverFromP(dst, data, x, p)
		} else {
			RecoverFromQ(dst, data, x, q)
		}
		data[x] = dst
	case 2:
		x, y := lostData[0], lostData[1]
		dx := make([]byte, size)
		RecoverTwo(dx, data, x, y, p, q)
		data[x] = dx
		dy := make([]byte, size)
		RecoverFromP(dy, data, y, p)
		data[y] = dy
	}
	return nil
}

// Reconstruct is ReconstructData followed by recomputing any missing
// parity.
func Reconstruct(blocks [][]byte, nData, nParity int) error {
	if err := ReconstructData(blocks, nData, nParity); err != nil {
		return err
	}
	size := len(blocks[0])
	if blocks[nData] == nil {
		blocks[nData] = make([]byte, size)
		ComputeP(blocks[:nData], blocks[nData])
	}
	if nParity == 2 && blocks[nData+1] == nil {
		blocks[nData+1] = make([]byte, size)
		ComputeQ(blocks[:nData], blocks[nData+1])
	}
	return nil
}
