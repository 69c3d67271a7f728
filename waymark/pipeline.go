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
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/ringsaturn/tzf"
	"go.uber.org/zap"
)

// BatchFile is one file of a submitted batch: raw image bytes plus the
// name the user submitted them under. The filename is only for
// reporting; identity is the content fingerprint.
type BatchFile struct {
	Filename string
	Data     []byte
}

// Pipeline admits batches of photos into a repository: fingerprint,
// dedup-check, blob persist, metadata extraction, geocode enrichment,
// marker persist, publish. Each file is admitted independently; one bad
// image never blocks its batch siblings.
type Pipeline struct {
	repo     *Repository
	enricher GeoEnricher
	tzFinder tzf.F

	// extraction is indirected so tests can admit images without
	// crafting real EXIF payloads
	extract func(*zap.Logger, io.Reader) (photoMetadata, error)

	log *zap.Logger
}

// NewPipeline returns a pipeline that admits into r, enriching markers
// through enricher.
func (r *Repository) NewPipeline(enricher GeoEnricher) *Pipeline {
	p := &Pipeline{
		repo:     r,
		enricher: enricher,
		extract:  extractMetadata,
		log:      Log.Named("pipeline"),
	}
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		p.log.Error("time zone finder unavailable; capture times keep their decoded zone", zap.Error(err))
	} else {
		p.tzFinder = finder
	}
	return p
}

// AdmitBatch runs the admission sequence for every file concurrently,
// waits for all of them to settle, then recomputes the owner's route
// wholesale. The returned results are positionally matched to files;
// duplicates and metadata-less images are reported there as statuses,
// not errors (the original UI treated them as silent skips, but callers
// deserve to tell them apart from success).
func (p *Pipeline) AdmitBatch(ctx context.Context, ownerID string, files []BatchFile) ([]AdmissionResult, error) {
	ws, err := p.repo.workingSet(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	results := make([]AdmissionResult, len(files))

	wg := new(sync.WaitGroup)
	for i := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.admit(ctx, ownerID, ws, files[i])
		}()
	}
	wg.Wait()

	// the batch has settled; throw away the old segments and rebuild
	ws.rebuildRoute()

	admitted := 0
	for _, res := range results {
		if res.Status == AdmissionAdmitted {
			admitted++
		}
	}
	p.log.Info("batch settled",
		zap.String("owner_id", ownerID),
		zap.Int("submitted", len(files)),
		zap.Int("admitted", admitted),
		zap.Int("working_set_size", ws.len()))

	return results, nil
}

// admit runs the per-image admission sequence. Every return path before
// the marker row write leaves no visible marker behind.
func (p *Pipeline) admit(ctx context.Context, ownerID string, ws *workingSet, file BatchFile) AdmissionResult {
	result := AdmissionResult{Filename: file.Filename}
	logger := p.log.With(
		zap.String("owner_id", ownerID),
		zap.String("filename", file.Filename))

	fail := func(err error) AdmissionResult {
		logger.Error("admission failed", zap.Error(err))
		result.Status = AdmissionFailed
		result.Error = err.Error()
		return result
	}

	hash := fingerprint(file.Data)

	// hold the (owner, hash) lock across check-then-act so two
	// near-simultaneous uploads of the literal same bytes can't both
	// pass the existence check
	key := ownerHash{ownerID, hash}
	p.repo.admissions.Lock(key)
	defer p.repo.admissions.Unlock(key)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	exists, err := p.repo.hashExists(ctx, ownerID, hash)
	if err != nil {
		return fail(err)
	}
	if exists {
		logger.Debug("duplicate image not admitted", zap.String("content_hash", hash))
		result.Status = AdmissionDuplicate
		return result
	}

	// optimistic record-before-persist; the record is permanent dedup
	// memory even if a later step fails
	if err := p.repo.recordHash(ctx, ownerID, hash); err != nil {
		return fail(err)
	}

	markerID := uuid.New().String()

	blobPath, err := p.repo.blobs.put(ownerID, markerID, hash, file.Data)
	if err != nil {
		return fail(err)
	}

	// extract from the persisted blob, not the upload buffer; the blob
	// is the durable source the marker will reference
	blob, err := p.repo.blobs.open(blobPath)
	if err != nil {
		p.discardBlob(logger, blobPath)
		return fail(err)
	}
	pm, err := p.extract(logger, blob)
	blob.Close()
	if errors.Is(err, ErrMetadataMissing) {
		logger.Warn("image has no usable location metadata; skipping", zap.Error(err))
		p.discardBlob(logger, blobPath)
		result.Status = AdmissionNoMetadata
		return result
	}
	if err != nil {
		p.discardBlob(logger, blobPath)
		return fail(err)
	}

	p.normalizeTimeZone(logger, &pm)

	// out-of-range coordinates warn the user but do not block admission
	result.Warning = validateCoordinates(pm.latitude, pm.longitude)
	if result.Warning != "" {
		ws.setWarning(result.Warning)
		logger.Warn("extracted coordinates out of range",
			zap.Float64("latitude", pm.latitude),
			zap.Float64("longitude", pm.longitude))
	}

	addr, err := p.enricher.ReverseGeocode(ctx, pm.latitude, pm.longitude)
	if err != nil {
		// best effort: a marker with coordinates but blank address
		// text is valid
		logger.Error("reverse geocoding failed; admitting with empty address fields", zap.Error(err))
		addr = Address{}
	}

	m := Marker{
		ID:          markerID,
		OwnerID:     ownerID,
		Latitude:    pm.latitude,
		Longitude:   pm.longitude,
		Address:     addr,
		VisitTime:   pm.visitTime.UnixMilli(),
		ContentHash: hash,
		ImageRef:    blobPath,
	}

	// the single write that makes the marker visible
	if err := p.repo.saveMarker(ctx, m); err != nil {
		p.discardBlob(logger, blobPath)
		return fail(err)
	}

	ws.insert(m)

	logger.Info("admitted marker",
		zap.String("marker_id", markerID),
		zap.Int64("visit_time", m.VisitTime),
		zap.Float64("latitude", m.Latitude),
		zap.Float64("longitude", m.Longitude),
		zap.String("city", addr.City),
		zap.String("country", addr.Country))

	result.Status = AdmissionAdmitted
	result.MarkerID = markerID
	return result
}

func (p *Pipeline) discardBlob(logger *zap.Logger, blobPath string) {
	if err := p.repo.blobs.remove(blobPath); err != nil {
		logger.Error("could not clean up blob of failed admission",
			zap.String("blob_path", blobPath),
			zap.Error(err))
	}
}
