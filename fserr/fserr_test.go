/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Wed Feb 20 13:02:11 2019 mstenber
 * Last modified: Wed Feb 20 13:15:40 2019 mstenber
 * Edit time:     9 min
 *
 */

package fserr

import (
	"errors"
	"io"
	"testing"

	"github.com/stvp/assert"
)

func TestKind(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Kind(nil), nil)
	assert.Equal(t, Kind(OutOfMemory("x")), ErrOutOfMemory)
	assert.Equal(t, Kind(NotFound("x %d", 1)), ErrNotFound)
	assert.Equal(t, Kind(Unsupported("x")), ErrUnsupported)
	assert.Equal(t, Kind(Corrupted("x")), ErrCorrupted)
	assert.Equal(t, Kind(IO("x")), ErrIO)
	assert.Equal(t, Kind(io.ErrUnexpectedEOF), ErrIO)
	err := Corrupted("node %d", 42)
	assert.Equal(t, err.Error(), "node 42: volume corrupted")
	assert.True(t, errors.Is(err, ErrCorrupted))
}

func caught(f func()) (err error) {
	defer Catch(&err)
	f()
	return nil
}

func TestCatch(t *testing.T) {
	t.Parallel()
	assert.Nil(t, caught(func() {}))
	assert.Nil(t, caught(func() { Assert(true, "fine") }))

	err := caught(func() { Assert(false, "bad %s", "thing") })
	assert.True(t, errors.Is(err, ErrCorrupted))

	err = caught(func() {
		var b []byte
		_ = b[5]
	})
	assert.True(t, errors.Is(err, ErrCorrupted), err)

	defer func() {
		r := recover()
		assert.Equal(t, r, "other")
	}()
	caught(func() { panic("other") })
	t.Fatal("not reached")
}
