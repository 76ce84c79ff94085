/*
 * Author: Markus Stenberg <fingon@iki.fi>
 *
 * Copyright (c) 2019 Markus Stenberg
 *
 * Created:       Tue Feb 12 18:40:02 2019 mstenber
 * Last modified: Sat Feb 16 14:20:11 2019 mstenber
 * Edit time:     9 min
 *
 */

package volume

import (
	"github.com/google/uuid"

	"github.com/fingon/go-btrfsfw/util"
)

// Registry maps fsids to mounted master volumes. Volumes themselves
// are single threaded; only the map is locked, as separate goroutines
// (tests, CLI sessions) may mount unrelated volumes into one registry.
type Registry struct {
	masters util.LockedMap[uuid.UUID, *Volume]
}

func NewRegistry() *Registry {
	return &Registry{}
}

var DefaultRegistry = NewRegistry()

func (self *Registry) Master(fsid uuid.UUID) *Volume {
	v, _ := self.masters.Get(fsid)
	return v
}

func (self *Registry) Len() int {
	return self.masters.Len()
}

func (self *Registry) add(v *Volume) {
	self.masters.Set(v.sb.FSID, v)
}

func (self *Registry) remove(v *Volume) {
	self.masters.DeleteIf(v.sb.FSID, func(m *Volume) bool {
		return m == v
	})
}
