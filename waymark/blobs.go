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
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"
)

// blobStore keeps admitted image bytes on disk under the repository
// directory, content-addressed with the path convention
// owner/markerID-images/hash. Blob paths are stored and passed around
// repo-relative with forward slashes so a repository can move between
// machines.
type blobStore struct {
	repoDir string
	log     *zap.Logger
}

func (bs *blobStore) fullPath(repoRelative string) string {
	return filepath.Join(bs.repoDir, filepath.FromSlash(repoRelative))
}

// put writes data for the owner's marker and returns the blob's
// repo-relative path. Empty payloads are rejected; we don't keep empty
// blobs laying around.
func (bs *blobStore) put(ownerID, markerID, hash string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("refusing to store empty blob")
	}

	rel := path.Join(ownerID, markerID+"-images", hash)
	full := bs.fullPath(rel)

	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}

	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("creating blob file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = bs.remove(rel)
		return "", fmt.Errorf("writing blob contents: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing blob after write: %w", err)
	}

	bs.log.Debug("stored image blob",
		zap.String("blob_path", rel),
		zap.Int("size", len(data)))

	return rel, nil
}

// open returns a reader over the stored blob. The caller must close it.
func (bs *blobStore) open(repoRelative string) (*os.File, error) {
	return os.Open(bs.fullPath(repoRelative))
}

// remove deletes a blob and tidies any directories the deletion left
// empty, up to (but not including) the repo root.
func (bs *blobStore) remove(repoRelative string) error {
	if err := os.Remove(bs.fullPath(repoRelative)); err != nil {
		return err
	}
	return bs.cleanDirs(path.Dir(repoRelative))
}

func (bs *blobStore) cleanDirs(repoRelativeDir string) error {
	for dir := repoRelativeDir; dir != "." && dir != "/"; dir = path.Dir(dir) {
		entries, err := os.ReadDir(bs.fullPath(dir))
		if err != nil || len(entries) > 0 {
			return nil //nolint:nilerr // nothing to clean, or dir is busy; not an error
		}
		if err := os.Remove(bs.fullPath(dir)); err != nil {
			return fmt.Errorf("removing empty blob directory %s: %w", dir, err)
		}
	}
	return nil
}
