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
	"database/sql"
	_ "embed"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 driver
	"go.uber.org/zap"
)

// DBFilename is the name of the repository database file.
const DBFilename = "waymark.db"

//go:embed schema.sql
var createDB string

func openAndProvisionDB(ctx context.Context, repoDir string) (*sql.DB, error) {
	db, err := openDB(ctx, repoDir)
	if err != nil {
		return nil, err
	}
	if err = provisionDB(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openDB(ctx context.Context, repoDir string) (*sql.DB, error) {
	dbPath := filepath.Join(repoDir, DBFilename)

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var version string
	err = db.QueryRowContext(ctx, "SELECT sqlite_version() AS version").Scan(&version)
	if err == nil {
		Log.Info("using sqlite", zap.String("version", version))
	}

	return db, nil
}

func provisionDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, createDB)
	if err != nil {
		return fmt.Errorf("setting up database: %w", err)
	}

	// assign this repo a persistent UUID, and store a version so
	// readers know how to work with this repo
	repoID := uuid.New()
	_, err = db.ExecContext(ctx, `INSERT OR IGNORE INTO repo (key, value) VALUES (?, ?), (?, ?)`,
		"id", repoID.String(),
		"version", 1,
	)
	if err != nil {
		return fmt.Errorf("persisting repo UUID and version: %w", err)
	}

	return nil
}

func loadRepoID(ctx context.Context, db *sql.DB) (uuid.UUID, error) {
	var idStr string
	err := db.QueryRowContext(ctx, `SELECT value FROM repo WHERE key='id' LIMIT 1`).Scan(&idStr)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("selecting repo UUID: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("malformed UUID %s: %w", idStr, err)
	}
	return id, nil
}

// saveMarker persists m as a full-row overwrite. This is the single
// write that makes a marker visible to readers; nothing before it
// leaves a visible marker behind.
func (r *Repository) saveMarker(ctx context.Context, m Marker) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO markers
		(id, owner_id, latitude, longitude, street, city, state, country, postal, visit_time, content_hash, image_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.OwnerID, m.Latitude, m.Longitude,
		m.Street, m.City, m.State, m.Country, m.Postal,
		m.VisitTime, m.ContentHash, m.ImageRef)
	if err != nil {
		return fmt.Errorf("storing marker %s: %w", m.ID, err)
	}
	return nil
}

// loadMarkers returns the owner's markers ordered ascending by visit
// time (ties by insertion order, which rowid preserves).
func (r *Repository) loadMarkers(ctx context.Context, ownerID string) ([]Marker, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, owner_id, latitude, longitude,
		street, city, state, country, postal, visit_time, content_hash, image_ref
		FROM markers WHERE owner_id=? ORDER BY visit_time, rowid`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying markers: %w", err)
	}
	defer rows.Close()

	var markers []Marker
	for rows.Next() {
		var m Marker
		err := rows.Scan(&m.ID, &m.OwnerID, &m.Latitude, &m.Longitude,
			&m.Street, &m.City, &m.State, &m.Country, &m.Postal,
			&m.VisitTime, &m.ContentHash, &m.ImageRef)
		if err != nil {
			return nil, fmt.Errorf("scanning marker row: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating marker rows: %w", err)
	}
	return markers, nil
}

// deleteMarkerRow removes one marker row. It deliberately does NOT
// touch image_hashes: a deleted marker's fingerprint stays recorded, so
// re-uploading the same photo remains a duplicate.
func (r *Repository) deleteMarkerRow(ctx context.Context, ownerID, markerID string) (string, error) {
	var imageRef string
	err := r.db.QueryRowContext(ctx, `SELECT image_ref FROM markers WHERE owner_id=? AND id=? LIMIT 1`,
		ownerID, markerID).Scan(&imageRef)
	if err != nil && err != sql.ErrNoRows {
		return "", fmt.Errorf("looking up marker %s: %w", markerID, err)
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM markers WHERE owner_id=? AND id=?`, ownerID, markerID)
	if err != nil {
		return "", fmt.Errorf("deleting marker %s: %w", markerID, err)
	}
	return imageRef, nil
}

// hashExists reports whether the fingerprint was already admitted for
// the owner.
func (r *Repository) hashExists(ctx context.Context, ownerID, hash string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM image_hashes WHERE owner_id=? AND hash=? LIMIT 1`,
		ownerID, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying image hash: %w", err)
	}
	return true, nil
}

// recordHash marks the fingerprint as seen for the owner, idempotently.
func (r *Repository) recordHash(ctx context.Context, ownerID, hash string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO image_hashes (owner_id, hash) VALUES (?, ?)`,
		ownerID, hash)
	if err != nil {
		return fmt.Errorf("recording image hash: %w", err)
	}
	return nil
}
