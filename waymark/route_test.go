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
	"reflect"
	"testing"
)

func testMarker(id string, visitTime int64, lat, long float64) Marker {
	return Marker{ID: id, VisitTime: visitTime, Latitude: lat, Longitude: long}
}

func TestBuildRouteLength(t *testing.T) {
	for i, tc := range []struct {
		markers  []Marker
		expected int
	}{
		{markers: nil, expected: 0},
		{markers: []Marker{testMarker("a", 1, 10, 20)}, expected: 0},
		{
			markers: []Marker{
				testMarker("a", 1, 10, 20),
				testMarker("b", 2, 11, 21),
			},
			expected: 1,
		},
		{
			markers: []Marker{
				testMarker("a", 1, 10, 20),
				testMarker("b", 2, 11, 21),
				testMarker("c", 3, 12, 22),
				testMarker("d", 4, 13, 23),
			},
			expected: 3,
		},
	} {
		segments := buildRoute(tc.markers)
		if len(segments) != tc.expected {
			t.Errorf("Test %d: Expected %d segments, got %d", i, tc.expected, len(segments))
			continue
		}
		for j, seg := range segments {
			if seg.Lat1 != tc.markers[j].Latitude || seg.Long1 != tc.markers[j].Longitude {
				t.Errorf("Test %d: segment %d start (%v,%v) does not match marker %d (%v,%v)",
					i, j, seg.Lat1, seg.Long1, j, tc.markers[j].Latitude, tc.markers[j].Longitude)
			}
			if seg.Lat2 != tc.markers[j+1].Latitude || seg.Long2 != tc.markers[j+1].Longitude {
				t.Errorf("Test %d: segment %d end (%v,%v) does not match marker %d (%v,%v)",
					i, j, seg.Lat2, seg.Long2, j+1, tc.markers[j+1].Latitude, tc.markers[j+1].Longitude)
			}
		}
	}
}

func TestBuildRouteIdempotent(t *testing.T) {
	markers := []Marker{
		testMarker("a", 1, 10, 20),
		testMarker("b", 2, 11, 21),
		testMarker("c", 3, 12, 22),
	}
	first := buildRoute(markers)
	second := buildRoute(markers)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical segments on recomputation; got %v then %v", first, second)
	}
}

func TestDeletionRebuildsRoute(t *testing.T) {
	ws := new(workingSet)
	ws.replaceAll([]Marker{
		testMarker("a", 1, 10, 20),
		testMarker("b", 2, 11, 21),
		testMarker("c", 3, 12, 22),
	})

	_, route := ws.snapshot()
	if len(route) != 2 {
		t.Fatalf("Expected 2 segments before deletion, got %d", len(route))
	}

	if !ws.delete("b") {
		t.Fatal("Expected marker b to be deleted")
	}

	markers, route := ws.snapshot()
	if len(markers) != 2 {
		t.Fatalf("Expected 2 markers after deletion, got %d", len(markers))
	}
	if len(route) != 1 {
		t.Fatalf("Expected exactly 1 regenerated segment after deletion, got %d", len(route))
	}
	// the single segment must join A directly to C, not a stale A-B or B-C
	seg := route[0]
	if seg.Lat1 != 10 || seg.Long1 != 20 || seg.Lat2 != 12 || seg.Long2 != 22 {
		t.Errorf("Expected segment A-C (10,20)-(12,22), got (%v,%v)-(%v,%v)",
			seg.Lat1, seg.Long1, seg.Lat2, seg.Long2)
	}
}
