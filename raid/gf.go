/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Mon Feb 11 19:02:33 2019 mstenber
 * Last modified: Sat Feb 16 11:40:12 2019 mstenber
 * Edit time:     29 min
 *
 */

// raid contains the parity arithmetic of btrfs RAID5 and RAID6.
//
// P is the XOR of the data stripes. Q is sum of g^i * D_i in
// GF(2^8) with the polynomial x^8+x^4+x^3+x^2+1 (0x11d) and g = 2.
package raid

import "sync"

const polynomial = 0x11d

var (
	tablesOnce sync.Once

	// expTable[i] = g^i; doubled so that sums of two logarithms
	// need no modulo.
	expTable [510]byte
	logTable [256]byte
)

func initTables() {
	x := 1
	for i := 0; i < 255; i++ {
		expTable[i] = byte(x)
		expTable[i+255] = byte(x)
		logTable[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= polynomial
		}
	}
}

func tables() {
	tablesOnce.Do(initTables)
}

// Exp returns g^e.
func Exp(e int) byte {
	tables()
	e %= 255
	if e < 0 {
		e += 255
	}
	return expTable[e]
}

// Log returns the discrete logarithm of a non-zero b.
func Log(b byte) int {
	tables()
	if b == 0 {
		panic("raid: log of zero")
	}
	return int(logTable[b])
}

// Mul multiplies in GF(2^8).
func Mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	tables()
	return expTable[int(logTable[a])+int(logTable[b])]
}

// Inv returns the multiplicative inverse of a non-zero b.
func Inv(b byte) byte {
	return Exp(255 - Log(b))
}

// xorInto sets dst ^= src.
func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// mulXorInto sets dst ^= c * src.
func mulXorInto(dst, src []byte, c byte) {
	if c == 0 {
		return
	}
	if c == 1 {
		xorInto(dst, src)
		return
	}
	tables()
	lc := int(logTable[c])
	for i, v := range src[:len(dst)] {
		if v != 0 {
			dst[i] ^= expTable[lc+int(logTable[v])]
		}
	}
}

// scale sets buf = c * buf.
func scale(buf []byte, c byte) {
	for i, v := range buf {
		buf[i] = Mul(c, v)
	}
}
