/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Sat Feb  9 09:12:40 2019 mstenber
 * Last modified: Mon Feb 18 20:31:12 2019 mstenber
 * Edit time:     38 min
 *
 */

// fserr contains the error kinds the btrfs read engine reports.
//
// Everything returned by the engine wraps exactly one of the
// sentinels below (errors.Is works, and so does Kind), with the
// exception of I/O errors produced by a storage.Device which are
// passed through as-is.
package fserr

import (
	stderrors "errors"
	"runtime"

	"github.com/pkg/errors"
)

var (
	ErrOutOfMemory = stderrors.New("out of memory")
	ErrNotFound    = stderrors.New("not found")
	ErrUnsupported = stderrors.New("unsupported")
	ErrCorrupted   = stderrors.New("volume corrupted")
	ErrIO          = stderrors.New("i/o error")
)

var kinds = []error{ErrOutOfMemory, ErrNotFound, ErrUnsupported, ErrCorrupted, ErrIO}

func OutOfMemory(format string, args ...interface{}) error {
	return errors.Wrapf(ErrOutOfMemory, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

func Unsupported(format string, args ...interface{}) error {
	return errors.Wrapf(ErrUnsupported, format, args...)
}

func Corrupted(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorrupted, format, args...)
}

func IO(format string, args ...interface{}) error {
	return errors.Wrapf(ErrIO, format, args...)
}

// Kind returns the sentinel err wraps, or ErrIO for foreign errors
// (which in practice come from the sector read callback).
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if stderrors.Is(err, k) {
			return k
		}
	}
	return ErrIO
}

// Assert panics with a corruption error if cond does not hold. It is
// meant for on-disk invariants deep in parsing code; public entry
// points convert the panic back to an error with Catch.
func Assert(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(Corrupted(format, args...))
	}
}

// Catch is deferred by public operations. Corruption asserts, and
// runtime faults caused by malformed metadata (out-of-range slicing),
// become ErrCorrupted. Anything else is re-panicked.
func Catch(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	switch v := r.(type) {
	case error:
		if stderrors.Is(v, ErrCorrupted) {
			*errp = v
			return
		}
		if _, ok := v.(runtime.Error); ok {
			*errp = Corrupted("%v", v)
			return
		}
	}
	panic(r)
}
