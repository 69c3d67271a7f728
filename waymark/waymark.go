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

// Package waymark implements the photo ingestion pipeline: extract
// embedded location/time metadata, deduplicate identical images by
// content, enrich unique images into geocoded markers, and reconstruct
// a chronologically ordered travel route connecting them.
package waymark

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is an open waymark repository: the marker database, the
// image blob store, and the per-owner in-memory working sets that feed
// the map surface. All entities in a repository are scoped to exactly
// one owner; owner identity is an explicit parameter on every call, so
// there is no ambient "current user" state.
type Repository struct {
	repoDir string
	id      uuid.UUID
	db      *sql.DB
	blobs   *blobStore

	setsMu sync.Mutex
	sets   map[string]*workingSet

	// serializes dedup check-then-act per (owner, hash)
	admissions *mapMutex[ownerHash]

	log *zap.Logger
}

type ownerHash struct {
	ownerID string
	hash    string
}

// Open opens (creating if necessary) the repository in repoDir.
func Open(ctx context.Context, repoDir string) (*Repository, error) {
	if err := os.MkdirAll(repoDir, 0700); err != nil {
		return nil, fmt.Errorf("creating repository directory: %w", err)
	}

	db, err := openAndProvisionDB(ctx, repoDir)
	if err != nil {
		return nil, err
	}

	id, err := loadRepoID(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger := Log.Named("repo").With(zap.String("repo_dir", repoDir))

	r := &Repository{
		repoDir:    repoDir,
		id:         id,
		db:         db,
		blobs:      &blobStore{repoDir: repoDir, log: logger.Named("blobs")},
		sets:       make(map[string]*workingSet),
		admissions: newMapMutex[ownerHash](),
		log:        logger,
	}

	logger.Info("opened repository", zap.String("id", id.String()))

	return r, nil
}

// ID returns the repository's persistent UUID.
func (r *Repository) ID() uuid.UUID { return r.id }

// Dir returns the repository's directory on disk.
func (r *Repository) Dir() string { return r.repoDir }

// Close releases the repository's resources.
func (r *Repository) Close() error {
	r.log.Info("closing repository")
	return r.db.Close()
}

// workingSet returns the owner's working set, loading their persisted
// markers on first use. The marker store is the source of truth; the
// working set is just the live, sorted view of it.
func (r *Repository) workingSet(ctx context.Context, ownerID string) (*workingSet, error) {
	r.setsMu.Lock()
	defer r.setsMu.Unlock()

	if ws, ok := r.sets[ownerID]; ok {
		return ws, nil
	}

	markers, err := r.loadMarkers(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading markers for owner: %w", err)
	}

	ws := new(workingSet)
	ws.replaceAll(markers)
	r.sets[ownerID] = ws
	return ws, nil
}

// Markers returns the owner's markers in ascending visit-time order.
func (r *Repository) Markers(ctx context.Context, ownerID string) ([]Marker, error) {
	ws, err := r.workingSet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	markers, _ := ws.snapshot()
	return markers, nil
}

// Route returns the owner's current route segments, one per pair of
// chronologically adjacent markers.
func (r *Repository) Route(ctx context.Context, ownerID string) ([]PolylineSegment, error) {
	ws, err := r.workingSet(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	_, route := ws.snapshot()
	return route, nil
}

// LatestWarning returns the owner's most recent coordinate-range
// warning (for the inline banner), or "".
func (r *Repository) LatestWarning(ctx context.Context, ownerID string) (string, error) {
	ws, err := r.workingSet(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return ws.lastWarning(), nil
}

// DeleteMarker removes one marker from the owner's working set and
// marker store, then clears and regenerates the route from the
// remaining markers' chronological order. The marker's fingerprint
// record stays: re-uploading the same photo is still a duplicate. The
// stored image blob is also kept, consistent with the fingerprint
// remaining admitted.
func (r *Repository) DeleteMarker(ctx context.Context, ownerID, markerID string) error {
	ws, err := r.workingSet(ctx, ownerID)
	if err != nil {
		return err
	}

	if _, err := r.deleteMarkerRow(ctx, ownerID, markerID); err != nil {
		return err
	}

	if ws.delete(markerID) {
		r.log.Info("deleted marker",
			zap.String("owner_id", ownerID),
			zap.String("marker_id", markerID),
			zap.Int("markers_remaining", ws.len()))
	}

	return nil
}
