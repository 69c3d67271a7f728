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

import "testing"

func TestWorkingSetInsertKeepsChronologicalOrder(t *testing.T) {
	for i, tc := range []struct {
		insertions []Marker
		expectIDs  []string
	}{
		{
			insertions: []Marker{
				testMarker("c", 30, 0, 0),
				testMarker("a", 10, 0, 0),
				testMarker("b", 20, 0, 0),
			},
			expectIDs: []string{"a", "b", "c"},
		},
		{
			insertions: []Marker{
				testMarker("a", 10, 0, 0),
				testMarker("b", 20, 0, 0),
				testMarker("c", 30, 0, 0),
			},
			expectIDs: []string{"a", "b", "c"},
		},
		{
			// equal visit times keep arrival order
			insertions: []Marker{
				testMarker("first", 10, 0, 0),
				testMarker("second", 10, 0, 0),
				testMarker("third", 10, 0, 0),
			},
			expectIDs: []string{"first", "second", "third"},
		},
		{
			// tie in the middle of existing markers
			insertions: []Marker{
				testMarker("a", 10, 0, 0),
				testMarker("c", 30, 0, 0),
				testMarker("b1", 20, 0, 0),
				testMarker("b2", 20, 0, 0),
			},
			expectIDs: []string{"a", "b1", "b2", "c"},
		},
	} {
		ws := new(workingSet)
		for _, m := range tc.insertions {
			ws.insert(m)
		}
		markers, _ := ws.snapshot()
		if len(markers) != len(tc.expectIDs) {
			t.Errorf("Test %d: Expected %d markers, got %d", i, len(tc.expectIDs), len(markers))
			continue
		}
		for j, id := range tc.expectIDs {
			if markers[j].ID != id {
				t.Errorf("Test %d: Expected marker %d to be %q, got %q", i, j, id, markers[j].ID)
			}
		}
	}
}

func TestWorkingSetReplaceAllSorts(t *testing.T) {
	ws := new(workingSet)
	ws.replaceAll([]Marker{
		testMarker("b", 20, 11, 21),
		testMarker("c", 30, 12, 22),
		testMarker("a", 10, 10, 20),
	})

	markers, route := ws.snapshot()
	for j, id := range []string{"a", "b", "c"} {
		if markers[j].ID != id {
			t.Errorf("Expected marker %d to be %q, got %q", j, id, markers[j].ID)
		}
	}
	if len(route) != 2 {
		t.Errorf("Expected 2 segments, got %d", len(route))
	}
}

func TestWorkingSetInsertDefersRouteRebuild(t *testing.T) {
	ws := new(workingSet)
	ws.insert(testMarker("a", 10, 10, 20))
	ws.insert(testMarker("b", 20, 11, 21))

	if _, route := ws.snapshot(); len(route) != 0 {
		t.Errorf("Expected no segments before rebuild, got %d", len(route))
	}

	ws.rebuildRoute()

	if _, route := ws.snapshot(); len(route) != 1 {
		t.Errorf("Expected 1 segment after rebuild, got %d", len(route))
	}
}

func TestWorkingSetDeleteMissing(t *testing.T) {
	ws := new(workingSet)
	ws.replaceAll([]Marker{testMarker("a", 10, 10, 20)})
	if ws.delete("nope") {
		t.Error("Expected deleting an unknown ID to report false")
	}
	if ws.len() != 1 {
		t.Errorf("Expected working set untouched, got %d markers", ws.len())
	}
}

func TestWorkingSetSnapshotIsACopy(t *testing.T) {
	ws := new(workingSet)
	ws.replaceAll([]Marker{
		testMarker("a", 10, 10, 20),
		testMarker("b", 20, 11, 21),
	})

	markers, route := ws.snapshot()
	markers[0].ID = "mutated"
	if len(route) > 0 {
		route[0].Lat1 = -999
	}

	fresh, freshRoute := ws.snapshot()
	if fresh[0].ID != "a" {
		t.Errorf("Expected snapshot mutation not to leak into working set; marker 0 is %q", fresh[0].ID)
	}
	if freshRoute[0].Lat1 != 10 {
		t.Errorf("Expected snapshot mutation not to leak into route; Lat1 is %v", freshRoute[0].Lat1)
	}
}
