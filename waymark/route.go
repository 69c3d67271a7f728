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

// buildRoute produces the polyline segments joining each marker to the
// chronologically next one. The input must already be sorted ascending
// by visit time; for N markers it returns exactly max(N-1, 0) segments.
//
// It is a pure, total recomputation: re-running it on the same marker
// set yields identical segments. Callers must never patch a stale
// segment list incrementally; after any change to the marker set
// (including deletion), throw the old segments away and rebuild.
func buildRoute(markers []Marker) []PolylineSegment {
	if len(markers) < 2 {
		return nil
	}
	segments := make([]PolylineSegment, 0, len(markers)-1)
	for i := range len(markers) - 1 {
		segments = append(segments, PolylineSegment{
			Lat1:  markers[i].Latitude,
			Long1: markers[i].Longitude,
			Lat2:  markers[i+1].Latitude,
			Long2: markers[i+1].Longitude,
		})
	}
	return segments
}
