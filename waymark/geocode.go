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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"
)

// DefaultGeocodeBaseURL is the reverse-geocoding endpoint used when the
// config doesn't name one.
const DefaultGeocodeBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

// GeoEnricher maps coordinates to a structured place description.
// Implementations are expected to be best-effort: the pipeline treats
// any error as "no address text available" and admits the marker with
// blank address fields.
type GeoEnricher interface {
	ReverseGeocode(ctx context.Context, lat, long float64) (Address, error)
}

// Geocoder calls an external reverse-geocoding HTTP service. The
// service contract: GET {BaseURL}?latlng={lat},{long}&key={APIKey},
// returning a list of results each holding address_components with
// types[] and a long_name; the first result is authoritative.
type Geocoder struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewGeocoder returns a geocoder for the service at baseURL (or the
// default endpoint if empty) using the given API key.
func NewGeocoder(baseURL, apiKey string) *Geocoder {
	if baseURL == "" {
		baseURL = DefaultGeocodeBaseURL
	}
	return &Geocoder{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type geocodeResults struct {
	Results []struct {
		AddressComponents []addressComponent `json:"address_components"`
	} `json:"results"`
}

type addressComponent struct {
	LongName string   `json:"long_name"`
	Types    []string `json:"types"`
}

// ReverseGeocode issues exactly one request for (lat, long) and
// assembles the address fields from the first result's components:
//
//   - country and city each take the single highest-priority match;
//   - street concatenates a street_number component (if present) with a
//     following route component, space-joined, in service order;
//   - state and postal accumulate across all matching components with no
//     separator, which deliberately tolerates multi-part regions;
//   - any component type outside this mapping is ignored.
func (g *Geocoder) ReverseGeocode(ctx context.Context, lat, long float64) (Address, error) {
	var addr Address

	endpoint := fmt.Sprintf("%s?latlng=%s,%s&key=%s",
		g.BaseURL,
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(long, 'f', -1, 64),
		url.QueryEscape(g.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return addr, fmt.Errorf("building reverse-geocode request: %w", err)
	}

	client := g.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return addr, fmt.Errorf("calling reverse-geocode service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return addr, fmt.Errorf("reverse-geocode service returned HTTP %d", resp.StatusCode)
	}

	var results geocodeResults
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return addr, fmt.Errorf("decoding reverse-geocode response: %w", err)
	}
	if len(results.Results) == 0 {
		return addr, fmt.Errorf("reverse-geocode service returned no results for %v,%v", lat, long)
	}

	for _, part := range results.Results[0].AddressComponents {
		switch {
		case slices.Contains(part.Types, "country"):
			addr.Country = part.LongName
		case slices.Contains(part.Types, "administrative_area_level_1"):
			addr.State += part.LongName
		case slices.Contains(part.Types, "locality"):
			addr.City = part.LongName
		case slices.Contains(part.Types, "street_number"):
			addr.Street += part.LongName
		case slices.Contains(part.Types, "route"):
			addr.Street += " " + part.LongName
		case slices.Contains(part.Types, "postal_code"):
			addr.Postal += part.LongName
		}
	}

	return addr, nil
}
