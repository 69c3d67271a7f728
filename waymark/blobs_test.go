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
	"io"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	bs := &blobStore{repoDir: t.TempDir(), log: zap.NewNop()}

	rel, err := bs.put("owner1", "marker1", "abc123", []byte("image bytes"))
	if err != nil {
		t.Fatalf("Storing blob: %v", err)
	}
	if expected := "owner1/marker1-images/abc123"; rel != expected {
		t.Errorf("Expected blob path %q, got %q", expected, rel)
	}

	f, err := bs.open(rel)
	if err != nil {
		t.Fatalf("Opening blob: %v", err)
	}
	contents, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		t.Fatalf("Reading blob: %v", err)
	}
	if string(contents) != "image bytes" {
		t.Errorf("Expected 'image bytes', got %q", contents)
	}
}

func TestBlobStoreRejectsEmpty(t *testing.T) {
	bs := &blobStore{repoDir: t.TempDir(), log: zap.NewNop()}
	if _, err := bs.put("owner1", "marker1", "abc123", nil); err == nil {
		t.Error("Expected an error storing an empty blob")
	}
}

func TestBlobStoreRemoveCleansEmptyDirs(t *testing.T) {
	dir := t.TempDir()
	bs := &blobStore{repoDir: dir, log: zap.NewNop()}

	rel, err := bs.put("owner1", "marker1", "abc123", []byte("x"))
	if err != nil {
		t.Fatalf("Storing blob: %v", err)
	}
	if err := bs.remove(rel); err != nil {
		t.Fatalf("Removing blob: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "owner1")); !os.IsNotExist(err) {
		t.Errorf("Expected empty owner directory to be cleaned up, stat err: %v", err)
	}
}
