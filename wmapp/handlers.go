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
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/gorilla/websocket"
	"github.com/maruel/natural"
	"github.com/waymark/waymark/waymark"
)

// maxBatchBytes bounds how much of a photo batch is held in memory
// while parsing the multipart form; the remainder spills to temp files.
const maxBatchBytes = 64 << 20

type ownerPayload struct {
	OwnerID string `json:"owner_id"`
}

type deleteMarkerPayload struct {
	OwnerID  string `json:"owner_id"`
	MarkerID string `json:"marker_id"`
}

type demoMarkersPayload struct {
	OwnerID string `json:"owner_id"`
	Count   int    `json:"count,omitempty"`
}

type submitResponse struct {
	Results []waymark.AdmissionResult `json:"results"`
	Warning string                    `json:"warning,omitempty"`
}

// handleSubmit accepts a multipart form with an owner_id field and one
// or more files under "images", and admits them as a batch. Files are
// admitted in natural filename order (photo2 before photo10), which
// matters only for presentation: markers end up chronologically sorted
// regardless.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) error {
	repo, pipeline, err := s.app.openedRepo()
	if err != nil {
		return err
	}

	if err := r.ParseMultipartForm(maxBatchBytes); err != nil {
		return Error{
			Err:        err,
			HTTPStatus: http.StatusBadRequest,
			Log:        "parsing multipart form",
			Message:    "Invalid multipart upload.",
		}
	}

	ownerID := r.FormValue("owner_id")
	if ownerID == "" {
		return Error{
			Err:        errors.New("missing owner_id form value"),
			HTTPStatus: http.StatusBadRequest,
			Message:    "An owner_id form value is required.",
		}
	}

	fileHeaders := r.MultipartForm.File["images"]
	if len(fileHeaders) == 0 {
		return Error{
			Err:        errors.New("no images in upload"),
			HTTPStatus: http.StatusBadRequest,
			Message:    "Attach at least one file under the 'images' field.",
		}
	}

	sort.SliceStable(fileHeaders, func(i, j int) bool {
		return natural.Less(fileHeaders[i].Filename, fileHeaders[j].Filename)
	})

	files := make([]waymark.BatchFile, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			return Error{
				Err:        fmt.Errorf("opening uploaded file %s: %w", fh.Filename, err),
				HTTPStatus: http.StatusBadRequest,
				Log:        "opening uploaded file",
			}
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return Error{
				Err:        fmt.Errorf("reading uploaded file %s: %w", fh.Filename, err),
				HTTPStatus: http.StatusBadRequest,
				Log:        "reading uploaded file",
			}
		}
		files = append(files, waymark.BatchFile{Filename: fh.Filename, Data: data})
	}

	results, err := pipeline.AdmitBatch(r.Context(), ownerID, files)
	if err != nil {
		return Error{
			Err: err,
			Log: "admitting batch",
		}
	}

	warning, err := repo.LatestWarning(r.Context(), ownerID)
	return jsonResponse(w, submitResponse{Results: results, Warning: warning}, err)
}

func (s *server) handleDeleteMarker(w http.ResponseWriter, r *http.Request) error {
	repo, _, err := s.app.openedRepo()
	if err != nil {
		return err
	}

	payload := r.Context().Value(ctxKeyPayload).(*deleteMarkerPayload)
	if payload.OwnerID == "" || payload.MarkerID == "" {
		return Error{
			Err:        errors.New("missing owner_id or marker_id"),
			HTTPStatus: http.StatusBadRequest,
			Message:    "Both owner_id and marker_id are required.",
		}
	}

	if err := repo.DeleteMarker(r.Context(), payload.OwnerID, payload.MarkerID); err != nil {
		return Error{
			Err: err,
			Log: "deleting marker",
		}
	}

	// return the regenerated route so the map can redraw in one round trip
	route, err := repo.Route(r.Context(), payload.OwnerID)
	return jsonResponse(w, route, err)
}

func (s *server) handleMarkers(w http.ResponseWriter, r *http.Request) error {
	repo, _, err := s.app.openedRepo()
	if err != nil {
		return err
	}

	payload := r.Context().Value(ctxKeyPayload).(*ownerPayload)
	if payload.OwnerID == "" {
		return Error{
			Err:        errors.New("missing owner_id"),
			HTTPStatus: http.StatusBadRequest,
			Message:    "An owner_id is required.",
		}
	}

	markers, err := repo.Markers(r.Context(), payload.OwnerID)
	return jsonResponse(w, markers, err)
}

func (s *server) handleRoute(w http.ResponseWriter, r *http.Request) error {
	repo, _, err := s.app.openedRepo()
	if err != nil {
		return err
	}

	payload := r.Context().Value(ctxKeyPayload).(*ownerPayload)
	if payload.OwnerID == "" {
		return Error{
			Err:        errors.New("missing owner_id"),
			HTTPStatus: http.StatusBadRequest,
			Message:    "An owner_id is required.",
		}
	}

	route, err := repo.Route(r.Context(), payload.OwnerID)
	return jsonResponse(w, route, err)
}

func (s *server) handleDemoMarkers(w http.ResponseWriter, r *http.Request) error {
	repo, _, err := s.app.openedRepo()
	if err != nil {
		return err
	}

	payload := r.Context().Value(ctxKeyPayload).(*demoMarkersPayload)
	if payload.OwnerID == "" {
		return Error{
			Err:        errors.New("missing owner_id"),
			HTTPStatus: http.StatusBadRequest,
			Message:    "An owner_id is required.",
		}
	}
	const defaultCount, maxCount = 20, 1000
	count := payload.Count
	if count <= 0 {
		count = defaultCount
	}
	if count > maxCount {
		count = maxCount
	}

	markers, err := repo.GenerateDemoMarkers(r.Context(), payload.OwnerID, count)
	return jsonResponse(w, markers, err)
}

func (s *server) handleRepositoryInfo(w http.ResponseWriter, r *http.Request) error {
	repo, _, err := s.app.openedRepo()
	if err != nil {
		return err
	}
	info := struct {
		ID  string `json:"id"`
		Dir string `json:"dir"`
	}{
		ID:  repo.ID().String(),
		Dir: repo.Dir(),
	}
	return jsonResponse(w, info, nil)
}

func (s *server) handleLogs(w http.ResponseWriter, r *http.Request) error {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return Error{
			Err:        err,
			HTTPStatus: http.StatusBadRequest,
			Log:        "upgrading request to websocket",
			Message:    "This endpoint expects a WebSocket client.",
		}
	}
	defer conn.Close()

	// while the client is connected, broadcast the logs to it
	waymark.AddLogConn(conn)
	defer waymark.RemoveLogConn(conn)

	// simply keep the connection open until the client closes it
	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}

	return nil
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true }, // we check Origin earlier
}
