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

import (
	"encoding/json"
	"fmt"
	"strings"
)

// makeJSON converts command-line arguments into a JSON request body so
// CLI commands and API endpoints stay symmetric. Flags map to object
// keys with dashes turned into underscores; values that parse as JSON
// (numbers, booleans) keep their type, anything else becomes a string.
// A flag with no value is treated as boolean true.
func makeJSON(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}

	body := make(map[string]any)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("expected flag, got '%s'", arg)
		}
		key := strings.TrimPrefix(arg, "--")

		var raw string
		var haveVal bool
		if k, v, cut := strings.Cut(key, "="); cut {
			key, raw, haveVal = k, v, true
		} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			i++
			raw, haveVal = args[i], true
		}
		key = strings.ReplaceAll(key, "-", "_")

		if !haveVal {
			body[key] = true
			continue
		}

		var val any
		if err := json.Unmarshal([]byte(raw), &val); err != nil {
			val = raw // not valid JSON; treat as a plain string
		}
		body[key] = val
	}

	return json.Marshal(body)
}
