/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2017 Markus Stenberg
 *
 * Created:       Thu Dec 28 13:03:11 2017 mstenber
 * Last modified: Wed Feb 20 13:36:51 2019 mstenber
 * Edit time:     8 min
 *
 */

package util

import (
	"sync"
	"testing"

	"github.com/stvp/assert"
)

func TestMutexLocked(t *testing.T) {
	t.Parallel()
	var l MutexLocked

	var wg sync.WaitGroup
	wg.Add(10)
	j := 0
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			defer l.Locked()()
			j++
		}()
	}
	wg.Wait()
	assert.Equal(t, j, 10)
}

func TestLockedMap(t *testing.T) {
	t.Parallel()
	var m LockedMap[string, int]
	_, ok := m.Get("foo")
	assert.False(t, ok)
	assert.Equal(t, m.Len(), 0)

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		i := i
		go func() {
			defer wg.Done()
			m.Set(string(rune('a'+i)), i)
		}()
	}
	wg.Wait()
	assert.Equal(t, m.Len(), 10)
	v, ok := m.Get("c")
	assert.True(t, ok)
	assert.Equal(t, v, 2)

	assert.False(t, m.DeleteIf("c", func(v int) bool { return v != 2 }))
	assert.True(t, m.DeleteIf("c", func(v int) bool { return v == 2 }))
	assert.False(t, m.DeleteIf("c", func(v int) bool { return true }))
	assert.Equal(t, m.Len(), 9)
}
