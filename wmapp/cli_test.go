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

package wmapp

import "testing"

func TestMakeJSON(t *testing.T) {
	for i, tc := range []struct {
		args      []string
		expect    string
		shouldErr bool
	}{
		{
			args:   nil,
			expect: "",
		},
		{
			args:   []string{"--owner-id", "alice"},
			expect: `{"owner_id":"alice"}`,
		},
		{
			args:   []string{"--owner-id=alice", "--count", "5"},
			expect: `{"count":5,"owner_id":"alice"}`,
		},
		{
			args:   []string{"--owner-id", "alice", "--marker-id", "abc-123"},
			expect: `{"marker_id":"abc-123","owner_id":"alice"}`,
		},
		{
			// bare flag becomes boolean true
			args:   []string{"--verbose"},
			expect: `{"verbose":true}`,
		},
		{
			// values that look like JSON keep their type
			args:   []string{"--count", "10", "--enabled", "false"},
			expect: `{"count":10,"enabled":false}`,
		},
		{
			args:      []string{"alice"},
			shouldErr: true,
		},
	} {
		actual, err := makeJSON(tc.args)
		if tc.shouldErr {
			if err == nil {
				t.Errorf("Test %d: Expected an error for args %v", i, tc.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("Test %d: Unexpected error: %v", i, err)
			continue
		}
		if string(actual) != tc.expect {
			t.Errorf("Test %d: Expected %s, got %s", i, tc.expect, actual)
		}
	}
}
