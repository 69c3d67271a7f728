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
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Opening test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// stubEnricher satisfies GeoEnricher without any network.
type stubEnricher struct {
	addr  Address
	err   error
	calls atomic.Int64
}

func (s *stubEnricher) ReverseGeocode(_ context.Context, _, _ float64) (Address, error) {
	s.calls.Add(1)
	return s.addr, s.err
}

// stubExtract reads "lat|long|unixMilli" from the image bytes instead of
// decoding EXIF, so tests can admit arbitrary fixtures. Unparseable
// bytes behave like a photo with stripped metadata.
func stubExtract(_ *zap.Logger, r io.Reader) (photoMetadata, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return photoMetadata{}, err
	}
	var lat, long float64
	var ms int64
	if _, err := fmt.Sscanf(string(b), "%f|%f|%d", &lat, &long, &ms); err != nil {
		return photoMetadata{}, fmt.Errorf("%w: %v", ErrMetadataMissing, err)
	}
	return photoMetadata{latitude: lat, longitude: long, visitTime: time.UnixMilli(ms).In(time.FixedZone("", 0))}, nil
}

func newTestPipeline(repo *Repository, enricher GeoEnricher) *Pipeline {
	return &Pipeline{
		repo:     repo,
		enricher: enricher,
		extract:  stubExtract,
		log:      zap.NewNop(),
	}
}

func photoBytes(lat, long float64, ms int64) []byte {
	return fmt.Appendf(nil, "%v|%v|%d", lat, long, ms)
}

func countStatuses(results []AdmissionResult) map[AdmissionStatus]int {
	counts := make(map[AdmissionStatus]int)
	for _, res := range results {
		counts[res.Status]++
	}
	return counts
}

func TestAdmitBatch(t *testing.T) {
	repo := newTestRepo(t)
	enricher := &stubEnricher{addr: Address{City: "Lisbon", Country: "Portugal"}}
	p := newTestPipeline(repo, enricher)
	ctx := context.Background()

	results, err := p.AdmitBatch(ctx, "owner1", []BatchFile{
		{Filename: "b.jpg", Data: photoBytes(38.7, -9.1, 2000)},
		{Filename: "a.jpg", Data: photoBytes(41.1, -8.6, 1000)},
		{Filename: "c.jpg", Data: photoBytes(37.0, -7.9, 3000)},
	})
	if err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}

	for i, res := range results {
		if res.Status != AdmissionAdmitted {
			t.Errorf("Result %d: Expected admitted, got %s (%s)", i, res.Status, res.Error)
		}
		if res.MarkerID == "" {
			t.Errorf("Result %d: Expected a marker ID", i)
		}
	}

	markers, err := repo.Markers(ctx, "owner1")
	if err != nil {
		t.Fatalf("Loading markers: %v", err)
	}
	if len(markers) != 3 {
		t.Fatalf("Expected 3 markers, got %d", len(markers))
	}
	// chronological regardless of submission order
	for i := 1; i < len(markers); i++ {
		if markers[i-1].VisitTime > markers[i].VisitTime {
			t.Errorf("Markers out of order: %d before %d", markers[i-1].VisitTime, markers[i].VisitTime)
		}
	}
	if markers[0].City != "Lisbon" || markers[0].Country != "Portugal" {
		t.Errorf("Expected enriched address, got %+v", markers[0].Address)
	}

	route, err := repo.Route(ctx, "owner1")
	if err != nil {
		t.Fatalf("Loading route: %v", err)
	}
	if len(route) != 2 {
		t.Errorf("Expected 2 route segments for 3 markers, got %d", len(route))
	}
	if enricher.calls.Load() != 3 {
		t.Errorf("Expected 3 geocode calls, got %d", enricher.calls.Load())
	}
}

func TestAdmitBatchDedup(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(repo, new(stubEnricher))
	ctx := context.Background()

	same := photoBytes(38.7, -9.1, 1000)

	// identical bytes under different filenames, same batch
	results, err := p.AdmitBatch(ctx, "owner1", []BatchFile{
		{Filename: "holiday.jpg", Data: same},
		{Filename: "holiday-copy.jpg", Data: same},
	})
	if err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}

	counts := countStatuses(results)
	if counts[AdmissionAdmitted] != 1 || counts[AdmissionDuplicate] != 1 {
		t.Fatalf("Expected exactly 1 admitted and 1 duplicate, got %v", counts)
	}

	markers, err := repo.Markers(ctx, "owner1")
	if err != nil {
		t.Fatalf("Loading markers: %v", err)
	}
	if len(markers) != 1 {
		t.Fatalf("Expected 1 marker after duplicate submission, got %d", len(markers))
	}

	// resubmitting in a later batch is still a duplicate
	results, err = p.AdmitBatch(ctx, "owner1", []BatchFile{{Filename: "again.jpg", Data: same}})
	if err != nil {
		t.Fatalf("Admitting second batch: %v", err)
	}
	if results[0].Status != AdmissionDuplicate {
		t.Errorf("Expected duplicate on resubmission, got %s", results[0].Status)
	}

	// but another owner admits the same bytes fine
	results, err = p.AdmitBatch(ctx, "owner2", []BatchFile{{Filename: "again.jpg", Data: same}})
	if err != nil {
		t.Fatalf("Admitting for second owner: %v", err)
	}
	if results[0].Status != AdmissionAdmitted {
		t.Errorf("Expected admission for a different owner, got %s (%s)", results[0].Status, results[0].Error)
	}
}

func TestAdmitBatchConcurrentDuplicates(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(repo, new(stubEnricher))
	ctx := context.Background()

	same := photoBytes(1, 2, 1000)
	const n = 8
	files := make([]BatchFile, n)
	for i := range files {
		files[i] = BatchFile{Filename: fmt.Sprintf("copy%d.jpg", i), Data: same}
	}

	results, err := p.AdmitBatch(ctx, "owner1", files)
	if err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}

	counts := countStatuses(results)
	if counts[AdmissionAdmitted] != 1 {
		t.Errorf("Expected exactly 1 admission among %d concurrent copies, got %d", n, counts[AdmissionAdmitted])
	}
	if counts[AdmissionDuplicate] != n-1 {
		t.Errorf("Expected %d duplicates, got %d", n-1, counts[AdmissionDuplicate])
	}
	if markers, _ := repo.Markers(ctx, "owner1"); len(markers) != 1 {
		t.Errorf("Expected working set of 1, got %d", len(markers))
	}
}

func TestAdmitNoMetadata(t *testing.T) {
	repo := newTestRepo(t)
	enricher := new(stubEnricher)
	p := newTestPipeline(repo, enricher)
	ctx := context.Background()

	results, err := p.AdmitBatch(ctx, "owner1", []BatchFile{
		{Filename: "stripped.jpg", Data: []byte("no coordinates here")},
	})
	if err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}
	if results[0].Status != AdmissionNoMetadata {
		t.Fatalf("Expected no_metadata, got %s", results[0].Status)
	}

	markers, err := repo.Markers(ctx, "owner1")
	if err != nil {
		t.Fatalf("Loading markers: %v", err)
	}
	if len(markers) != 0 {
		t.Errorf("Expected no marker for metadata-less image, got %d", len(markers))
	}
	if enricher.calls.Load() != 0 {
		t.Errorf("Expected no geocode call for metadata-less image, got %d", enricher.calls.Load())
	}
}

func TestAdmitEnrichmentFailureTolerated(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(repo, &stubEnricher{err: errors.New("geocode service down")})
	ctx := context.Background()

	results, err := p.AdmitBatch(ctx, "owner1", []BatchFile{
		{Filename: "x.jpg", Data: photoBytes(38.7, -9.1, 1000)},
	})
	if err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}
	if results[0].Status != AdmissionAdmitted {
		t.Fatalf("Expected admission despite geocode failure, got %s (%s)", results[0].Status, results[0].Error)
	}

	markers, _ := repo.Markers(ctx, "owner1")
	if len(markers) != 1 {
		t.Fatalf("Expected 1 marker, got %d", len(markers))
	}
	if markers[0].Address != (Address{}) {
		t.Errorf("Expected blank address fields, got %+v", markers[0].Address)
	}
	if markers[0].Latitude != 38.7 || markers[0].Longitude != -9.1 {
		t.Errorf("Expected coordinates preserved, got (%v,%v)", markers[0].Latitude, markers[0].Longitude)
	}
}

func TestAdmitCoordinateWarningDoesNotBlock(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(repo, new(stubEnricher))
	ctx := context.Background()

	results, err := p.AdmitBatch(ctx, "owner1", []BatchFile{
		{Filename: "lat.jpg", Data: photoBytes(100, 50, 1000)},
	})
	if err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}
	if results[0].Status != AdmissionAdmitted {
		t.Fatalf("Expected admission with warning, got %s (%s)", results[0].Status, results[0].Error)
	}
	if results[0].Warning != "Invalid latitude" {
		t.Errorf("Expected 'Invalid latitude' warning, got %q", results[0].Warning)
	}

	warning, err := repo.LatestWarning(ctx, "owner1")
	if err != nil {
		t.Fatalf("Loading warning: %v", err)
	}
	if warning != "Invalid latitude" {
		t.Errorf("Expected warning retained on working set, got %q", warning)
	}
}

func TestDeleteMarker(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(repo, new(stubEnricher))
	ctx := context.Background()

	data := [][]byte{
		photoBytes(10, 20, 1000),
		photoBytes(11, 21, 2000),
		photoBytes(12, 22, 3000),
	}
	results, err := p.AdmitBatch(ctx, "owner1", []BatchFile{
		{Filename: "a.jpg", Data: data[0]},
		{Filename: "b.jpg", Data: data[1]},
		{Filename: "c.jpg", Data: data[2]},
	})
	if err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}

	markers, _ := repo.Markers(ctx, "owner1")
	if len(markers) != 3 {
		t.Fatalf("Expected 3 markers, got %d", len(markers))
	}
	middle := markers[1]

	if err := repo.DeleteMarker(ctx, "owner1", middle.ID); err != nil {
		t.Fatalf("Deleting marker: %v", err)
	}

	markers, _ = repo.Markers(ctx, "owner1")
	if len(markers) != 2 {
		t.Fatalf("Expected 2 markers after deletion, got %d", len(markers))
	}

	route, _ := repo.Route(ctx, "owner1")
	if len(route) != 1 {
		t.Fatalf("Expected 1 regenerated segment, got %d", len(route))
	}
	if route[0].Lat1 != 10 || route[0].Lat2 != 12 {
		t.Errorf("Expected segment joining the remaining endpoints, got %+v", route[0])
	}

	// the fingerprint outlives the marker: resubmission is a duplicate
	results, err = p.AdmitBatch(ctx, "owner1", []BatchFile{{Filename: "b-again.jpg", Data: data[1]}})
	if err != nil {
		t.Fatalf("Resubmitting deleted photo: %v", err)
	}
	if results[0].Status != AdmissionDuplicate {
		t.Errorf("Expected deleted photo to stay a duplicate, got %s", results[0].Status)
	}
}

func TestMarkersSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	repo, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("Opening repository: %v", err)
	}
	p := newTestPipeline(repo, new(stubEnricher))
	if _, err := p.AdmitBatch(ctx, "owner1", []BatchFile{
		{Filename: "a.jpg", Data: photoBytes(10, 20, 1000)},
		{Filename: "b.jpg", Data: photoBytes(11, 21, 2000)},
	}); err != nil {
		t.Fatalf("Admitting batch: %v", err)
	}
	originalID := repo.ID()
	if err := repo.Close(); err != nil {
		t.Fatalf("Closing repository: %v", err)
	}

	reopened, err := Open(ctx, dir)
	if err != nil {
		t.Fatalf("Reopening repository: %v", err)
	}
	defer reopened.Close()

	if reopened.ID() != originalID {
		t.Errorf("Expected stable repository ID across reopen; %s != %s", reopened.ID(), originalID)
	}

	markers, err := reopened.Markers(ctx, "owner1")
	if err != nil {
		t.Fatalf("Loading markers after reopen: %v", err)
	}
	if len(markers) != 2 {
		t.Fatalf("Expected 2 persisted markers, got %d", len(markers))
	}
	route, _ := reopened.Route(ctx, "owner1")
	if len(route) != 1 {
		t.Errorf("Expected route rebuilt from persisted markers, got %d segments", len(route))
	}
}

func TestGenerateDemoMarkers(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	markers, err := repo.GenerateDemoMarkers(ctx, "demo", 5)
	if err != nil {
		t.Fatalf("Generating demo markers: %v", err)
	}
	if len(markers) != 5 {
		t.Fatalf("Expected 5 demo markers, got %d", len(markers))
	}

	stored, err := repo.Markers(ctx, "demo")
	if err != nil {
		t.Fatalf("Loading markers: %v", err)
	}
	if len(stored) != 5 {
		t.Fatalf("Expected 5 stored markers, got %d", len(stored))
	}
	for i := 1; i < len(stored); i++ {
		if stored[i-1].VisitTime > stored[i].VisitTime {
			t.Errorf("Demo markers out of order at %d", i)
		}
	}
	route, _ := repo.Route(ctx, "demo")
	if len(route) != 4 {
		t.Errorf("Expected 4 route segments, got %d", len(route))
	}
}
