/*
	Waymark
	Copyright (c) 2024 Waymark contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package waymark

import "sync"

// Modified from https://medium.com/@petrlozhkin/kmutex-lock-mutex-by-unique-id-408467659c24

// mapMutex locks by key. The dedup index's check-then-act is serialized
// per (owner, hash) with one of these, so two simultaneous uploads of
// the same bytes by the same owner cannot both pass the existence check.
type mapMutex[K comparable] struct {
	cond *sync.Cond
	set  map[K]struct{}
}

func newMapMutex[K comparable]() *mapMutex[K] {
	return &mapMutex[K]{
		cond: sync.NewCond(new(sync.Mutex)),
		set:  make(map[K]struct{}),
	}
}

func (mmu *mapMutex[K]) Lock(key K) {
	mmu.cond.L.Lock()
	defer mmu.cond.L.Unlock()
	for mmu.locked(key) {
		mmu.cond.Wait()
	}
	mmu.set[key] = struct{}{}
}

func (mmu *mapMutex[K]) Unlock(key K) {
	mmu.cond.L.Lock()
	defer mmu.cond.L.Unlock()
	delete(mmu.set, key)
	mmu.cond.Broadcast()
}

func (mmu *mapMutex[K]) locked(key K) (ok bool) {
	_, ok = mmu.set[key]
	return
}
