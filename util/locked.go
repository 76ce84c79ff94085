/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 28 12:52:43 2017 mstenber
 * Last modified: Wed Feb 20 13:30:02 2019 mstenber
 * Edit time:     14 min
 *
 */

package util

import "sync"

// MutexLocked is a mutex with convenience features (just defer
// x.Locked()()).
type MutexLocked sync.Mutex

func (self *MutexLocked) Locked() (unlock func()) {
	mut := (*sync.Mutex)(self)
	mut.Lock()
	return func() {
		mut.Unlock()
	}
}

// LockedMap is a map guarded by a MutexLocked. The zero value is
// ready to use.
type LockedMap[K comparable, V any] struct {
	l MutexLocked
	m map[K]V
}

func (self *LockedMap[K, V]) Get(k K) (v V, ok bool) {
	defer self.l.Locked()()
	v, ok = self.m[k]
	return
}

func (self *LockedMap[K, V]) Set(k K, v V) {
	defer self.l.Locked()()
	if self.m == nil {
		self.m = make(map[K]V)
	}
	self.m[k] = v
}

// DeleteIf removes k if cond holds for its current value.
func (self *LockedMap[K, V]) DeleteIf(k K, cond func(v V) bool) bool {
	defer self.l.Locked()()
	v, ok := self.m[k]
	if !ok || !cond(v) {
		return false
	}
	delete(self.m, k)
	return true
}

func (self *LockedMap[K, V]) Len() int {
	defer self.l.Locked()()
	return len(self.m)
}
