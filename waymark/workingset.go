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

import (
	"slices"
	"sort"
	"sync"
)

// workingSet is one owner's live marker list and route, as consumed by
// the map surface. Markers are kept sorted ascending by visit time;
// insertion is stable, so markers with equal visit times stay in
// arrival order. All methods are safe for concurrent use (admissions
// within a batch run in parallel).
type workingSet struct {
	mu      sync.Mutex
	markers []Marker
	route   []PolylineSegment

	// the most recent coordinate-range warning, for the banner
	warning string
}

// insert adds m at the position that keeps the set sorted by visit
// time, after any existing markers with the same visit time. It does
// NOT rebuild the route; the pipeline rebuilds once per settled batch.
func (ws *workingSet) insert(m Marker) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	idx := sort.Search(len(ws.markers), func(i int) bool {
		return ws.markers[i].VisitTime > m.VisitTime
	})
	ws.markers = slices.Insert(ws.markers, idx, m)
}

// replaceAll resets the set to markers, which need not be sorted.
// The route is rebuilt.
func (ws *workingSet) replaceAll(markers []Marker) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.markers = slices.Clone(markers)
	sort.SliceStable(ws.markers, func(i, j int) bool {
		return ws.markers[i].VisitTime < ws.markers[j].VisitTime
	})
	ws.route = buildRoute(ws.markers)
}

// delete removes the marker with the given ID, if present, then clears
// the route and regenerates it from the remaining markers' order. It
// reports whether a marker was removed.
func (ws *workingSet) delete(markerID string) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	idx := slices.IndexFunc(ws.markers, func(m Marker) bool { return m.ID == markerID })
	if idx < 0 {
		return false
	}
	ws.markers = slices.Delete(ws.markers, idx, idx+1)
	// clear before rebuilding; never patch segments in place
	ws.route = nil
	ws.route = buildRoute(ws.markers)
	return true
}

// rebuildRoute recomputes the whole route from the current marker
// order. Called after a batch settles and after any other mutation.
func (ws *workingSet) rebuildRoute() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.route = buildRoute(ws.markers)
}

// snapshot returns copies of the current markers and route.
func (ws *workingSet) snapshot() ([]Marker, []PolylineSegment) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return slices.Clone(ws.markers), slices.Clone(ws.route)
}

func (ws *workingSet) setWarning(warning string) {
	ws.mu.Lock()
	ws.warning = warning
	ws.mu.Unlock()
}

func (ws *workingSet) lastWarning() string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.warning
}

func (ws *workingSet) len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.markers)
}
