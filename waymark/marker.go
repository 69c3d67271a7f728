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

// Marker is one admitted, geocoded photo event. It is scoped to exactly
// one owner, created by the ingestion pipeline on first successful
// admission of a never-before-seen image, and never mutated afterward.
type Marker struct {
	ID        string  `json:"id"`
	OwnerID   string  `json:"owner_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	Address

	// VisitTime is the capture time from the photo's metadata,
	// in milliseconds since the Unix epoch. A marker must have
	// a visit time to be orderable.
	VisitTime int64 `json:"visit_time"`

	// ContentHash is the fingerprint of the source image bytes,
	// unique per owner.
	ContentHash string `json:"content_hash"`

	// ImageRef is the repo-relative path of the stored image blob.
	ImageRef string `json:"image_ref"`
}

// Address holds the structured place description from reverse geocoding.
// Any of its fields may be empty if the geocoder had no match for that
// component; a marker with coordinates but blank address text is valid.
type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	Postal  string `json:"postal"`
}

// PolylineSegment joins two chronologically adjacent markers. Segments
// are derived and ephemeral: the whole sequence is recomputed whenever
// the marker set changes, and holds no identity of its own.
type PolylineSegment struct {
	Lat1  float64 `json:"lat1"`
	Long1 float64 `json:"long1"`
	Lat2  float64 `json:"lat2"`
	Long2 float64 `json:"long2"`
}

// AdmissionStatus is the per-file outcome of a batch admission.
type AdmissionStatus string

const (
	// AdmissionAdmitted: a new marker was created and persisted.
	AdmissionAdmitted AdmissionStatus = "admitted"

	// AdmissionDuplicate: the image's content was already admitted for
	// this owner; skipped without creating anything. Not an error.
	AdmissionDuplicate AdmissionStatus = "duplicate"

	// AdmissionNoMetadata: the image carries no usable GPS or timestamp
	// tags; no marker was created.
	AdmissionNoMetadata AdmissionStatus = "no_metadata"

	// AdmissionFailed: a storage write failed; no marker is visible.
	AdmissionFailed AdmissionStatus = "failed"
)

// AdmissionResult reports what happened to one file of a submitted
// batch. Outcomes are per-file and independent; a failed file never
// aborts its siblings.
type AdmissionResult struct {
	Filename string          `json:"filename"`
	Status   AdmissionStatus `json:"status"`
	MarkerID string          `json:"marker_id,omitempty"`

	// Warning carries a non-fatal coordinate-range complaint, suitable
	// for an inline banner. It does not block admission.
	Warning string `json:"warning,omitempty"`

	Error string `json:"error,omitempty"`
}

const (
	minLatitude, maxLatitude   = -90.0, 90.0
	minLongitude, maxLongitude = -180.0, 180.0
)

// validateCoordinates returns a human-readable warning if either
// coordinate is out of range, or "" if both are valid. Out-of-range
// values warn the user but do not block admission; the pipeline
// proceeds with whatever was extracted.
func validateCoordinates(lat, long float64) string {
	latInvalid := lat < minLatitude || lat > maxLatitude
	longInvalid := long < minLongitude || long > maxLongitude
	switch {
	case latInvalid && longInvalid:
		return "Invalid latitude and longitude"
	case latInvalid:
		return "Invalid latitude"
	case longInvalid:
		return "Invalid longitude"
	}
	return ""
}
