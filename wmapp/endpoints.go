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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
)

func (a *App) registerCommands() {
	a.commands = map[string]Endpoint{
		"delete-marker": {
			Handler: a.server.handleDeleteMarker,
			Method:  http.MethodDelete,
			Payload: deleteMarkerPayload{},
			Help:    "Deletes a marker and regenerates the owner's route.",
		},
		"demo-markers": {
			Handler: a.server.handleDemoMarkers,
			Method:  http.MethodPost,
			Payload: demoMarkersPayload{},
			Help:    "Fills an owner's map with fake markers for demonstration.",
		},
		"logs": {
			Handler: a.server.handleLogs,
			Method:  http.MethodGet,
			Help:    "Initiates a WebSocket connection to send logs.",
		},
		"markers": {
			Handler:     a.server.handleMarkers,
			Method:      methodQuery,
			Payload:     ownerPayload{},
			ContentType: JSON,
			Help:        "Returns an owner's markers in chronological order.",
		},
		"repository-info": {
			Handler: a.server.handleRepositoryInfo,
			Method:  http.MethodGet,
			Help:    "Returns information about the open repository.",
		},
		"route": {
			Handler:     a.server.handleRoute,
			Method:      methodQuery,
			Payload:     ownerPayload{},
			ContentType: JSON,
			Help:        "Returns the polyline segments of an owner's route.",
		},
		"submit": {
			Handler:     a.server.handleSubmit,
			Method:      http.MethodPost,
			ContentType: Form,
			Help:        "Submits a batch of photos for admission as markers.",
		},
	}
}

type Endpoint struct {
	Method      string
	ContentType ContentType
	Payload     any
	Handler     handlerFunc
	Help        string
}

// GetContentType returns the Content-Type of the endpoint
// considering its default of JSON if method is POST, PUT, PATCH, or DELETE.
func (e Endpoint) GetContentType() ContentType {
	if e.ContentType == None && e.Payload != nil &&
		(e.Method == http.MethodPost || e.Method == http.MethodPut ||
			e.Method == http.MethodPatch || e.Method == http.MethodDelete ||
			e.Method == methodQuery) {
		return JSON
	}
	return e.ContentType
}

// GET but officially supports a request body.
const methodQuery = "QUERY"

type ctxKey string

var ctxKeyPayload ctxKey = "payload"

func (e Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) error {
	switch e.GetContentType() {
	case JSON:
		payload := reflect.New(reflect.TypeOf(e.Payload)).Interface()
		if r.ContentLength > 0 {
			err := json.NewDecoder(r.Body).Decode(&payload)
			if err != nil {
				return Error{
					Err:        err,
					HTTPStatus: http.StatusBadRequest,
					Log:        "decoding request body as JSON",
					Message:    "Invalid JSON in request body.",
				}
			}
		}
		r = r.WithContext(context.WithValue(r.Context(), ctxKeyPayload, payload))
	case Form, None:
	}

	return e.Handler(w, r)
}

func (a *App) CommandLineHelp() string {
	// alphabetize the commands list
	type commandEndpoint struct {
		command  string
		endpoint Endpoint
	}
	commands := make([]commandEndpoint, 0, len(a.commands))
	for command, endpoint := range a.commands {
		commands = append(commands, commandEndpoint{command, endpoint})
	}
	sort.Slice(commands, func(i, j int) bool {
		return commands[i].command < commands[j].command
	})

	var sb strings.Builder

	sb.WriteString(`Waymark turns geotagged photos into an annotated travel map: it extracts
where and when each photo was taken, skips duplicates, looks up human-readable
addresses, and connects the resulting markers into a chronological route.

It consists of a server, a command line client, and an HTTP JSON API. The CLI
and API have symmetric commands (inputs and outputs).

Usage:
  waymark [command] [args...]

Examples:
  $ waymark
  $ waymark serve
  $ waymark markers --owner-id alice

Available Commands:`)

	for _, pair := range commands {
		sb.WriteString("\n  ")
		sb.WriteString(pair.command)

		if pair.endpoint.Payload != nil {
			typ := reflect.TypeOf(pair.endpoint.Payload)
			for i := range typ.NumField() {
				jsonStructTag := typ.Field(i).Tag.Get("json")
				if jsonStructTag == "" {
					continue
				}
				argName, omitEmpty, cut := strings.Cut(jsonStructTag, ",")
				if argName == "-" {
					continue
				}
				argName = strings.ReplaceAll(argName, "_", "-")
				optional := cut && omitEmpty == "omitempty"
				if optional {
					sb.WriteString(fmt.Sprintf(" [--%s <%s>]", argName, typ.Field(i).Type))
				} else {
					sb.WriteString(fmt.Sprintf(" --%s <%s>", argName, typ.Field(i).Type))
				}
			}
		}

		sb.WriteString("\n      ")
		sb.WriteString(pair.endpoint.Help)
		sb.WriteRune('\n')
	}

	return sb.String()
}

// ContentType is an HTTP Content-Type value.
type ContentType string

// Content types that are supported.
const (
	JSON ContentType = "application/json"
	Form ContentType = "application/x-www-form-urlencoded"
	None ContentType = ""
)

const apiBasePath = "/api/"
